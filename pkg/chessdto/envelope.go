package chessdto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope is the frame exchanged over the real-time transport.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is one variant of the closed envelope set.
type Message interface {
	MessageType() string
}

const (
	TypeGetGame     = "get-game"
	TypeResetGame   = "reset-game"
	TypeMove        = "move"
	TypeLiveViewers = "live-viewers"
	TypeResign      = "resign"
	TypeGame        = "game"
	TypeGameOver    = "game-over"
	TypeError       = "error"
)

var ErrUnknownType = errors.New("unknown message type")

// Inbound variants.

type GetGame struct{}

type ResetGame struct{}

type LiveViewersQuery struct{}

type MovePayload struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Promotion      string `json:"promotion,omitempty"`
	SignerIdentity string `json:"signerIdentity"`
	SignedMessage  string `json:"signedMessage"`
	Signature      string `json:"signature"`
}

type ResignPayload struct {
	SignerIdentity string `json:"signerIdentity"`
	SignedMessage  string `json:"signedMessage"`
	Signature      string `json:"signature"`
}

// Outbound variants.

// GameView is the full state reply to get-game and reset-game.
type GameView struct {
	DisplayID              string `json:"displayId"`
	ContractGameID         uint64 `json:"contractGameId"`
	Status                 string `json:"status"`
	Player1                string `json:"player1"`
	Player2                string `json:"player2"`
	PGN                    string `json:"pgn"`
	LiveViewers            int    `json:"liveViewers"`
	LatestPlayer1Message   string `json:"latestPlayer1Message"`
	LatestPlayer1Signature string `json:"latestPlayer1Signature"`
	LatestPlayer2Message   string `json:"latestPlayer2Message"`
	LatestPlayer2Signature string `json:"latestPlayer2Signature"`
}

// MoveEvent is broadcast after an accepted move.
type MoveEvent struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san"`
	Ply       int    `json:"ply"`
	Mover     string `json:"mover"`
	PGN       string `json:"pgn"`
}

type GameOver struct {
	PGN     string `json:"pgn"`
	Outcome int    `json:"outcome"`
	Winner  string `json:"winner"`
}

type LiveViewers struct {
	Count int `json:"count"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (GetGame) MessageType() string          { return TypeGetGame }
func (ResetGame) MessageType() string        { return TypeResetGame }
func (LiveViewersQuery) MessageType() string { return TypeLiveViewers }
func (MovePayload) MessageType() string      { return TypeMove }
func (ResignPayload) MessageType() string    { return TypeResign }
func (GameView) MessageType() string         { return TypeGame }
func (MoveEvent) MessageType() string        { return TypeMove }
func (GameOver) MessageType() string         { return TypeGameOver }
func (LiveViewers) MessageType() string      { return TypeLiveViewers }
func (ErrorEvent) MessageType() string       { return TypeError }

// DecodeInbound parses a client frame into its typed variant.
func DecodeInbound(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch strings.TrimSpace(env.Type) {
	case TypeGetGame:
		return GetGame{}, nil
	case TypeResetGame:
		return ResetGame{}, nil
	case TypeLiveViewers:
		return LiveViewersQuery{}, nil
	case TypeMove:
		var p MovePayload
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeResign:
		var p ResignPayload
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeData(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// Encode wraps m in an envelope.
func Encode(m Message) (Envelope, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	return Envelope{Type: m.MessageType(), Data: data}, nil
}
