package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/basedchess/internal/gameerr"
	"github.com/park285/basedchess/internal/lobby"
	"github.com/park285/basedchess/internal/registry"
	"github.com/park285/basedchess/internal/rules"
	"github.com/park285/basedchess/internal/session"
	"github.com/park285/basedchess/internal/settlement"
	"github.com/park285/basedchess/internal/store"
	"github.com/park285/basedchess/pkg/chessdto"
)

const (
	alice = "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"
	bob   = "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
)

type fakeGames struct {
	records map[string]*registry.Record
	err     error
}

func (f *fakeGames) Register(ctx context.Context, p lobby.Params) (*registry.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec := &registry.Record{DisplayID: "NEW001", ContractGameID: p.ContractGameID, Player1: p.Player1, Player2: p.Player2}
	f.records[rec.DisplayID] = rec
	return rec, nil
}

func (f *fakeGames) Lookup(ctx context.Context, id string) (*registry.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, gameerr.NotFound("game " + id + " not found")
	}
	return rec, nil
}

type fakeSettler struct {
	got settlement.Request
	err error
}

func (f *fakeSettler) Reconcile(ctx context.Context, req settlement.Request) (settlement.Result, error) {
	f.got = req
	if f.err != nil {
		return settlement.Result{}, f.err
	}
	return settlement.Result{TxHash: "0xabc"}, nil
}

type fakeNFT struct{ err error }

func (f fakeNFT) Publish(ctx context.Context, req settlement.NFTRequest) (string, error) {
	return "0xnft", f.err
}

type fixture struct {
	srv     *httptest.Server
	games   *fakeGames
	settler *fakeSettler
}

func newFixture(t *testing.T, nftErr error) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb, err := store.Connect(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("store.Connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	mgr := session.NewManager(store.NewRedisStore(rdb), rules.LoadChess, nil)
	t.Cleanup(mgr.Close)

	sess, err := mgr.Session(context.Background(), "GAME01")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if err := sess.Initialize(context.Background(), session.InitParams{Player1: alice, Player2: bob, ContractGameID: 3}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	f := &fixture{
		games:   &fakeGames{records: map[string]*registry.Record{"GAME01": {DisplayID: "GAME01", ContractGameID: 3}}},
		settler: &fakeSettler{},
	}
	f.srv = httptest.NewServer(NewRouter(Deps{
		Games:       f.games,
		Sessions:    mgr,
		Settlements: f.settler,
		NFT:         fakeNFT{err: nftErr},
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if s, ok := body.(string); ok {
		rd = bytes.NewReader([]byte(s))
	} else {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func decodeError(t *testing.T, raw []byte) chessdto.DomainError {
	t.Helper()
	var de chessdto.DomainError
	if err := json.Unmarshal(raw, &de); err != nil {
		t.Fatalf("decode error body %q: %v", raw, err)
	}
	return de
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	if code, _ := f.do(t, http.MethodGet, "/health", ""); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
}

func TestCreateGame(t *testing.T) {
	f := newFixture(t, nil)
	code, raw := f.do(t, http.MethodPost, "/games", chessdto.CreateGameRequest{ContractGameID: 11, Player1: alice, Player2: bob})
	if code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", code, raw)
	}
	var resp chessdto.CreateGameResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.DisplayID != "NEW001" || resp.ContractGameID != 11 {
		t.Fatalf("unexpected response %s (%v)", raw, err)
	}
}

func TestCreateGameRejectsBadBody(t *testing.T) {
	f := newFixture(t, nil)
	code, raw := f.do(t, http.MethodPost, "/games", `{"contractGameId": "x"}`)
	if code != http.StatusBadRequest || decodeError(t, raw).Code != "validation" {
		t.Fatalf("status = %d body=%s", code, raw)
	}
	code, _ = f.do(t, http.MethodPost, "/games", `{"unknown": 1}`)
	if code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d", code)
	}
}

func TestGetGame(t *testing.T) {
	f := newFixture(t, nil)
	code, raw := f.do(t, http.MethodGet, "/games/GAME01", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d body=%s", code, raw)
	}
	var view chessdto.GameView
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.DisplayID != "GAME01" || view.Status != string(session.StatusInProgress) || view.Player2 != bob {
		t.Fatalf("unexpected view %+v", view)
	}

	code, raw = f.do(t, http.MethodGet, "/games/MISSING", "")
	if code != http.StatusNotFound || decodeError(t, raw).Code != "not-found" {
		t.Fatalf("status = %d body=%s", code, raw)
	}
}

func TestSettlementMapsErrors(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		code      string
		retryable bool
	}{
		{nil, http.StatusOK, "", false},
		{gameerr.InvalidSignature("signature is invalid"), http.StatusForbidden, "invalid-signature", false},
		{gameerr.StaleHistory("attested history invalid for this game"), http.StatusConflict, "stale-history", false},
		{gameerr.Ledger("ledger submission failed", errors.New("rpc down")), http.StatusBadGateway, "ledger-failure", true},
		{gameerr.Internal("boom", errors.New("secret detail")), http.StatusInternalServerError, "internal", false},
	}
	for _, tc := range cases {
		f := newFixture(t, nil)
		f.settler.err = tc.err
		req := chessdto.SettlementRequest{ContractGameID: 3, SignerIdentity: alice, Message: "m", Signature: "s", UpdateIndex: 2}
		code, raw := f.do(t, http.MethodPost, "/settlements", req)
		if code != tc.status {
			t.Fatalf("%v: status = %d body=%s", tc.err, code, raw)
		}
		if tc.err == nil {
			var resp chessdto.SettlementResponse
			if err := json.Unmarshal(raw, &resp); err != nil || resp.TxHash != "0xabc" {
				t.Fatalf("unexpected response %s", raw)
			}
			if f.settler.got.UpdateIndex != 2 || f.settler.got.SignerIdentity != alice {
				t.Fatalf("request not forwarded: %+v", f.settler.got)
			}
			continue
		}
		de := decodeError(t, raw)
		if de.Code != tc.code || de.Retryable != tc.retryable {
			t.Fatalf("unexpected error body %+v", de)
		}
		if bytes.Contains(raw, []byte("secret detail")) {
			t.Fatalf("internal detail leaked: %s", raw)
		}
	}
}

func TestPublishNFT(t *testing.T) {
	f := newFixture(t, nil)
	code, raw := f.do(t, http.MethodPost, "/nft", chessdto.NFTRequest{ContractAddress: alice, ContractGameID: 3, MetadataURL: "https://x.test/3.json"})
	if code != http.StatusOK {
		t.Fatalf("status = %d body=%s", code, raw)
	}
	f = newFixture(t, gameerr.Authorization("contract address does not match the games contract"))
	code, raw = f.do(t, http.MethodPost, "/nft", chessdto.NFTRequest{ContractAddress: bob, ContractGameID: 3, MetadataURL: "https://x.test/3.json"})
	if code != http.StatusForbidden || decodeError(t, raw).Code != "unauthorized" {
		t.Fatalf("status = %d body=%s", code, raw)
	}
}

func TestBoardImage(t *testing.T) {
	f := newFixture(t, nil)
	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/games/GAME01/board.png", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("status = %d content-type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if _, err := png.Decode(resp.Body); err != nil {
		t.Fatalf("decode png: %v", err)
	}

	if code, _ := f.do(t, http.MethodGet, "/games/MISSING/board.png", ""); code != http.StatusNotFound {
		t.Fatalf("missing game status = %d", code)
	}
}
