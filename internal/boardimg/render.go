// Package boardimg draws a game position as a PNG image.
package boardimg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/basedchess/internal/rules"
)

var ErrUnsupportedEngine = errors.New("history engine cannot be rendered")

type Options struct {
	SquareSize int
	Caption    string
}

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	captionColor    = color.RGBA{236, 239, 255, 255}
	coordColor      = color.RGBA{204, 210, 236, 255}
)

var (
	ranks = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	files = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

const (
	margin       = 20
	headerHeight = 32
)

// RenderHistory replays a serialized history and renders its final
// position with a players/result caption.
func RenderHistory(ctx context.Context, pgn string, opts Options) ([]byte, error) {
	eng, err := rules.LoadChess(pgn)
	if err != nil {
		return nil, err
	}
	ce, ok := eng.(*rules.ChessEngine)
	if !ok {
		return nil, ErrUnsupportedEngine
	}
	if opts.Caption == "" {
		opts.Caption = caption(eng)
	}
	return Render(ctx, ce.Board(), opts)
}

func Render(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error) {
	if board == nil {
		return nil, errors.New("board is nil")
	}
	sq := opts.SquareSize
	if sq <= 0 {
		sq = 64
	}
	boardSize := sq * 8
	img := image.NewRGBA(image.Rect(0, 0, boardSize+margin*2, boardSize+margin*2+headerHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)
	origin := image.Pt(margin, margin+headerHeight)

	drawSquares(img, sq, origin)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	squares := board.SquareMap()
	for row, rank := range ranks {
		for col, file := range files {
			piece := squares[nchess.NewSquare(file, rank)]
			if piece == nchess.NoPiece {
				continue
			}
			pimg, err := renderPiece(piece, sq)
			if err != nil {
				return nil, err
			}
			x, y := origin.X+col*sq, origin.Y+row*sq
			draw.Draw(img, image.Rect(x, y, x+sq, y+sq), pimg, image.Point{}, draw.Over)
		}
	}

	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	drawCoordinates(drawer, sq, origin)
	if c := strings.TrimSpace(opts.Caption); c != "" {
		drawer.Src = image.NewUniform(captionColor)
		width := drawer.MeasureString(c).Round()
		x := (img.Bounds().Dx() - width) / 2
		if x < margin {
			x = margin
		}
		drawer.Dot = fixed.P(x, margin+headerHeight/2)
		drawer.DrawString(c)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSquares(dst draw.Image, sq int, origin image.Point) {
	for row := range ranks {
		for col := range files {
			clr := lightSquare
			if (row+col)%2 == 1 {
				clr = darkSquare
			}
			x, y := origin.X+col*sq, origin.Y+row*sq
			draw.Draw(dst, image.Rect(x, y, x+sq, y+sq), image.NewUniform(clr), image.Point{}, draw.Src)
		}
	}
}

func drawCoordinates(d *font.Drawer, sq int, origin image.Point) {
	d.Src = image.NewUniform(coordColor)
	ascent := d.Face.Metrics().Ascent.Ceil()
	for row := range ranks {
		d.Dot = fixed.P(origin.X-margin/2-3, origin.Y+row*sq+sq/2+ascent/2)
		d.DrawString(string(rune('8' - row)))
	}
	for col := range files {
		d.Dot = fixed.P(origin.X+col*sq+sq/2-3, origin.Y+8*sq+margin/2+ascent/2)
		d.DrawString(string(rune('a' + col)))
	}
}

func caption(eng rules.Engine) string {
	white, _ := eng.Header("White")
	black, _ := eng.Header("Black")
	result, _ := eng.Header("Result")
	parts := []string{short(white) + " vs " + short(black)}
	if result != "" && result != "*" {
		parts = append(parts, result)
	}
	return strings.Join(parts, "  ")
}

func short(a string) string {
	if len(a) <= 12 {
		return a
	}
	return a[:6] + "..." + a[len(a)-4:]
}
