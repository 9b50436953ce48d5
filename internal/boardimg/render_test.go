package boardimg

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/basedchess/internal/history"
)

func TestRenderInitialBoard(t *testing.T) {
	raw, err := Render(context.Background(), nchess.NewGame().Position().Board(), Options{SquareSize: 32, Caption: "a vs b"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if w, h := img.Bounds().Dx(), img.Bounds().Dy(); w != 32*8+margin*2 || h != 32*8+margin*2+headerHeight {
		t.Fatalf("size = %dx%d", w, h)
	}
	// a8 holds a black rook; its square centre must not be the bare square colour.
	r, g, b, _ := img.At(margin+16, margin+headerHeight+20).RGBA()
	lr, lg, lb, _ := lightSquare.RGBA()
	if r == lr && g == lg && b == lb {
		t.Fatalf("piece not drawn on a8")
	}
}

func TestRenderHistory(t *testing.T) {
	doc := history.Document{
		Headers: history.Headers{
			{Key: "White", Value: "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"},
			{Key: "Black", Value: "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"},
		},
		Moves: []string{"e4", "e5", "Nf3"},
	}
	raw, err := RenderHistory(context.Background(), doc.String(), Options{})
	if err != nil {
		t.Fatalf("RenderHistory: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(raw)); err != nil {
		t.Fatalf("decode png: %v", err)
	}
}

func TestRenderHistoryRejectsBadHistory(t *testing.T) {
	if _, err := RenderHistory(context.Background(), "1. e5 *", Options{}); err == nil {
		t.Fatalf("expected error for illegal history")
	}
}

func TestRenderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Render(ctx, nchess.NewGame().Position().Board(), Options{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestCaption(t *testing.T) {
	if got := short("0x1234567890abcdef"); got != "0x1234...cdef" {
		t.Fatalf("short = %q", got)
	}
}
