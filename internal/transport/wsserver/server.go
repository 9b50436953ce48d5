// Package wsserver serves game sessions to websocket observers.
package wsserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/basedchess/internal/gameerr"
	"github.com/park285/basedchess/internal/history"
	"github.com/park285/basedchess/internal/rules"
	"github.com/park285/basedchess/internal/session"
	"github.com/park285/basedchess/pkg/chessdto"
)

type SessionSource interface {
	Session(ctx context.Context, gameID string) (*session.Session, error)
}

// Verifier checks a player's signature over a serialized history.
type Verifier interface {
	VerifySignature(message, signature, identity string) (bool, error)
}

type Option func(*Server)

func WithBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.buffer = n
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithOriginPatterns allows cross-origin upgrades from the given host
// patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = append(s.originPatterns, patterns...) }
}

type Server struct {
	sessions       SessionSource
	verifier       Verifier
	logger         *zap.Logger
	buffer         int
	pingInterval   time.Duration
	writeTimeout   time.Duration
	originPatterns []string
}

func New(sessions SessionSource, verifier Verifier, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions:     sessions,
		verifier:     verifier,
		logger:       logger,
		buffer:       32,
		pingInterval: 15 * time.Second,
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve upgrades the request and attaches it to gameID until the peer
// disconnects.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, gameID string) {
	sess, err := s.sessions.Session(r.Context(), gameID)
	if err != nil {
		de := gameerr.Public(err)
		http.Error(w, de.Message, gameerr.KindOf(err).HTTPStatus())
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.originPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Debug("ws_accept_failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(uuid.NewString(), s.buffer)
	log := s.logger.With(zap.String("game_id", gameID), zap.String("observer_id", c.id))

	if _, err := sess.AddObserver(ctx, c); err != nil {
		_ = ws.Close(websocket.StatusTryAgainLater, "session unavailable")
		return
	}
	defer func() {
		if _, err := sess.RemoveObserver(context.Background(), c.id); err != nil {
			log.Debug("ws_remove_observer_failed", zap.Error(err))
		}
		if n := c.dropped.Load(); n > 0 {
			log.Info("ws_frames_dropped", zap.Int64("count", n))
		}
	}()

	go s.writeLoop(ctx, cancel, ws, c, log)

	log.Debug("ws_connected")
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug("ws_read_failed", zap.Error(err))
			}
			return
		}
		msg, err := chessdto.DecodeInbound(raw)
		if err != nil {
			s.reply(c, chessdto.ErrorEvent{Code: string(gameerr.KindValidation), Message: err.Error()})
			continue
		}
		if err := s.dispatch(ctx, sess, c, msg); err != nil {
			de := gameerr.Public(err)
			if gameerr.KindOf(err) == gameerr.KindInternal {
				log.Error("ws_dispatch_failed", zap.String("type", msg.MessageType()), zap.Error(err))
			}
			s.reply(c, chessdto.ErrorEvent{Code: de.Code, Message: de.Message})
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, c *conn, log *zap.Logger) {
	defer cancel()
	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, s.writeTimeout)
			err := wsjson.Write(wctx, ws, env)
			wcancel()
			if err != nil {
				log.Debug("ws_write_failed", zap.Error(err))
				return
			}
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, s.writeTimeout)
			err := ws.Ping(pctx)
			pcancel()
			if err != nil {
				log.Debug("ws_ping_failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, c *conn, msg chessdto.Message) error {
	switch m := msg.(type) {
	case chessdto.GetGame:
		snap := sess.Snapshot()
		s.reply(c, session.View(&snap))
		return nil
	case chessdto.LiveViewersQuery:
		s.reply(c, chessdto.LiveViewers{Count: sess.LiveViewers()})
		return nil
	case chessdto.ResetGame:
		return sess.Reset(ctx)
	case chessdto.MovePayload:
		if err := s.verify(m.SignedMessage, m.Signature, m.SignerIdentity); err != nil {
			return err
		}
		_, err := sess.ApplyMove(ctx, session.MoveRequest{
			Mover: m.SignerIdentity,
			Move:  rules.MoveSpec{From: m.From, To: m.To, Promotion: m.Promotion},
			Attestation: &session.SignedHistory{
				Message:   m.SignedMessage,
				Signature: m.Signature,
			},
		})
		return err
	case chessdto.ResignPayload:
		if err := s.verify(m.SignedMessage, m.Signature, m.SignerIdentity); err != nil {
			return err
		}
		if !history.IsValidPriorHistory(m.SignedMessage, sess.History()) {
			return gameerr.StaleHistory("signed history does not match this game")
		}
		if _, err := sess.Resign(ctx, m.SignerIdentity); err != nil {
			return err
		}
		return sess.RecordAttestation(ctx, m.SignerIdentity, session.SignedHistory{
			Message:   m.SignedMessage,
			Signature: m.Signature,
		})
	default:
		return gameerr.Validation("unsupported message type " + msg.MessageType())
	}
}

func (s *Server) verify(message, signature, identity string) error {
	if strings.TrimSpace(identity) == "" || strings.TrimSpace(signature) == "" {
		return gameerr.Authorization("signer identity and signature are required")
	}
	ok, err := s.verifier.VerifySignature(message, signature, identity)
	if err != nil || !ok {
		return gameerr.InvalidSignature("signature is invalid")
	}
	return nil
}

func (s *Server) reply(c *conn, m chessdto.Message) {
	env, err := chessdto.Encode(m)
	if err != nil {
		s.logger.Error("ws_encode_failed", zap.String("type", m.MessageType()), zap.Error(err))
		return
	}
	c.Deliver(env)
}
