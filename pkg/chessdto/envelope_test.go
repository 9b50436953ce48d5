package chessdto

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeInboundMove(t *testing.T) {
	raw := []byte(`{"type":"move","data":{"from":"e2","to":"e4","signerIdentity":"0xabc","signedMessage":"pgn","signature":"0x01"}}`)
	msg, err := DecodeInbound(raw)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	mv, ok := msg.(MovePayload)
	if !ok {
		t.Fatalf("expected MovePayload, got %T", msg)
	}
	if mv.From != "e2" || mv.To != "e4" || mv.SignerIdentity != "0xabc" {
		t.Fatalf("unexpected payload: %+v", mv)
	}
}

func TestDecodeInboundUnitVariants(t *testing.T) {
	cases := map[string]Message{
		`{"type":"get-game"}`:     GetGame{},
		`{"type":"reset-game"}`:   ResetGame{},
		`{"type":"live-viewers"}`: LiveViewersQuery{},
	}
	for raw, want := range cases {
		got, err := DecodeInbound([]byte(raw))
		if err != nil {
			t.Fatalf("DecodeInbound(%s): %v", raw, err)
		}
		if got != want {
			t.Fatalf("DecodeInbound(%s) = %T, want %T", raw, got, want)
		}
	}
}

func TestDecodeInboundRejects(t *testing.T) {
	if _, err := DecodeInbound([]byte(`{"type":"teleport"}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := DecodeInbound([]byte(`{"type":"move"}`)); err == nil {
		t.Fatalf("expected error for move without data")
	}
	if _, err := DecodeInbound([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed frame")
	}
}

func TestEncodeSetsType(t *testing.T) {
	env, err := Encode(GameOver{PGN: "1. f3 e5 2. g4 Qh4# 0-1", Outcome: 1, Winner: "0xb"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if env.Type != TypeGameOver {
		t.Fatalf("type = %q", env.Type)
	}
	var back GameOver
	if err := json.Unmarshal(env.Data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Outcome != 1 || back.Winner != "0xb" {
		t.Fatalf("unexpected data: %+v", back)
	}
}
