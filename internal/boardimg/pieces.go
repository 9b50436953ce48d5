package boardimg

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Silhouettes on a 45x45 canvas.
var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="14" r="5"/>
<polygon points="16,36 29,36 26,21 19,21"/>
<rect x="12" y="35" width="21" height="4"/>`,
	nchess.Rook: `<rect x="12" y="34" width="21" height="5"/>
<rect x="15" y="16" width="15" height="18"/>
<polygon points="12,9 16,9 16,12 20.5,12 20.5,9 24.5,9 24.5,12 29,12 29,9 33,9 33,16 12,16"/>`,
	nchess.Knight: `<polygon points="14,38 33,38 31,22 27,10 20,8 13,16 11,22 15,24 20,20 18,27"/>
<rect x="12" y="35" width="21" height="4"/>`,
	nchess.Bishop: `<circle cx="22.5" cy="8" r="2.5"/>
<ellipse cx="22.5" cy="20" rx="6" ry="9"/>
<polygon points="17,28 28,28 30,35 15,35"/>
<rect x="10" y="35" width="25" height="4"/>`,
	nchess.Queen: `<polygon points="9,26 12,12 17,24 22.5,9 28,24 33,12 36,26 32,34 13,34"/>
<circle cx="12" cy="11" r="2"/>
<circle cx="22.5" cy="8" r="2"/>
<circle cx="33" cy="11" r="2"/>
<rect x="11" y="34" width="23" height="5"/>`,
	nchess.King: `<rect x="21" y="5" width="3" height="10"/>
<rect x="18" y="8" width="9" height="3"/>
<polygon points="11,22 17,15 28,15 34,22 30,34 15,34"/>
<rect x="12" y="34" width="21" height="5"/>`,
}

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func pieceSVG(piece nchess.Piece) (string, error) {
	shape, ok := pieceShapes[piece.Type()]
	if !ok {
		return "", fmt.Errorf("no shape for piece %v", piece)
	}
	fill, stroke := "#f8f8f8", "#1b1b1b"
	if piece.Color() == nchess.Black {
		fill, stroke = "#1b1b1b", "#e0e0e0"
	}
	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">`)
	fmt.Fprintf(&b, `<g fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round">`, fill, stroke)
	b.WriteString(shape)
	b.WriteString(`</g></svg>`)
	return b.String(), nil
}

func renderPiece(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}
	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	src, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()
	return img, nil
}
