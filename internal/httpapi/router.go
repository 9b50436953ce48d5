// Package httpapi exposes game registration, settlement and observer
// endpoints over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/park285/basedchess/internal/boardimg"
	"github.com/park285/basedchess/internal/gameerr"
	"github.com/park285/basedchess/internal/lobby"
	"github.com/park285/basedchess/internal/registry"
	"github.com/park285/basedchess/internal/session"
	"github.com/park285/basedchess/internal/settlement"
	"github.com/park285/basedchess/pkg/chessdto"
)

const maxBodyBytes = 1 << 20

type Registrar interface {
	Register(ctx context.Context, p lobby.Params) (*registry.Record, error)
	Lookup(ctx context.Context, displayID string) (*registry.Record, error)
}

type SessionSource interface {
	Session(ctx context.Context, gameID string) (*session.Session, error)
}

type Settler interface {
	Reconcile(ctx context.Context, req settlement.Request) (settlement.Result, error)
}

type NFTSetter interface {
	Publish(ctx context.Context, req settlement.NFTRequest) (string, error)
}

type Observers interface {
	Serve(w http.ResponseWriter, r *http.Request, gameID string)
}

type Deps struct {
	Games       Registrar
	Sessions    SessionSource
	Observers   Observers
	Settlements Settler
	NFT         NFTSetter
	Logger      *zap.Logger
}

type api struct {
	Deps
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	a := &api{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/games", func(g chi.Router) {
		g.Post("/", a.createGame)
		g.Get("/{displayID}", a.getGame)
		g.Get("/{displayID}/ws", a.observe)
		g.Get("/{displayID}/board.png", a.boardImage)
	})
	r.Post("/settlements", a.settle)
	r.Post("/nft", a.publishNFT)
	return r
}

func (a *api) createGame(w http.ResponseWriter, r *http.Request) {
	var req chessdto.CreateGameRequest
	if err := readJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	rec, err := a.Games.Register(r.Context(), lobby.Params{
		ContractGameID: req.ContractGameID,
		Player1:        req.Player1,
		Player2:        req.Player2,
		Creator:        req.Creator,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chessdto.CreateGameResponse{DisplayID: rec.DisplayID, ContractGameID: rec.ContractGameID})
}

func (a *api) getGame(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Games.Lookup(r.Context(), chi.URLParam(r, "displayID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sess, err := a.Sessions.Session(r.Context(), rec.DisplayID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	snap := sess.Snapshot()
	writeJSON(w, http.StatusOK, session.View(&snap))
}

// boardImage renders the current position, used as the game NFT artwork.
func (a *api) boardImage(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Games.Lookup(r.Context(), chi.URLParam(r, "displayID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sess, err := a.Sessions.Session(r.Context(), rec.DisplayID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	snap := sess.Snapshot()
	img, err := boardimg.RenderHistory(r.Context(), snap.History, boardimg.Options{})
	if err != nil {
		a.writeError(w, r, gameerr.Internal("render board", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func (a *api) observe(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Games.Lookup(r.Context(), chi.URLParam(r, "displayID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Observers.Serve(w, r, rec.DisplayID)
}

func (a *api) settle(w http.ResponseWriter, r *http.Request) {
	var req chessdto.SettlementRequest
	if err := readJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.Settlements.Reconcile(r.Context(), settlement.Request{
		ContractGameID: req.ContractGameID,
		SignerIdentity: req.SignerIdentity,
		Message:        req.Message,
		Signature:      req.Signature,
		UpdateIndex:    req.UpdateIndex,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chessdto.SettlementResponse{TxHash: res.TxHash})
}

func (a *api) publishNFT(w http.ResponseWriter, r *http.Request) {
	var req chessdto.NFTRequest
	if err := readJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	tx, err := a.NFT.Publish(r.Context(), settlement.NFTRequest{
		ContractAddress: req.ContractAddress,
		ContractGameID:  req.ContractGameID,
		MetadataURL:     req.MetadataURL,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chessdto.NFTResponse{TxHash: tx})
}

func (a *api) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.Logger.Info("http_request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := gameerr.KindOf(err)
	if kind == gameerr.KindInternal {
		a.Logger.Error("http_internal_error",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, kind.HTTPStatus(), gameerr.Public(err))
}

func readJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return gameerr.Validation("request body is empty")
		}
		return gameerr.Validation("invalid request body: " + strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
