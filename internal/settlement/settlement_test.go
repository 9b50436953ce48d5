package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/park285/basedchess/internal/attest"
	"github.com/park285/basedchess/internal/gameerr"
	"github.com/park285/basedchess/internal/ledger"
	"github.com/park285/basedchess/internal/registry"
	"github.com/park285/basedchess/internal/rules"
	"github.com/park285/basedchess/internal/session"
	"github.com/park285/basedchess/internal/store"
)

const (
	alice   = "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"
	bob     = "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
	mallory = "0xCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCc"
)

var (
	gamesContract = common.HexToAddress("0x1111111111111111111111111111111111111111")
	nftContract   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type submission struct {
	contract common.Address
	function string
	args     []any
}

// fakeLedger accepts every signature unless rejectSig is set.
type fakeLedger struct {
	mu        sync.Mutex
	rejectSig bool
	submitErr error
	awaitErr  error
	gate      chan struct{}
	entered   chan struct{}
	submits   []submission
	calls     atomic.Int32
}

func (f *fakeLedger) VerifySignature(message, signature, identity string) (bool, error) {
	return !f.rejectSig, nil
}

func (f *fakeLedger) SimulateAndSubmit(ctx context.Context, contract common.Address, function string, args ...any) (ledger.TxHandle, error) {
	n := f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.submitErr != nil {
		return ledger.TxHandle{}, f.submitErr
	}
	f.mu.Lock()
	f.submits = append(f.submits, submission{contract: contract, function: function, args: args})
	f.mu.Unlock()
	return ledger.TxHandle{Hash: common.BigToHash(ledger.U256(uint64(n))), Contract: contract, Function: function}, nil
}

func (f *fakeLedger) AwaitInclusion(ctx context.Context, tx ledger.TxHandle) (ledger.Receipt, error) {
	if f.awaitErr != nil {
		return ledger.Receipt{}, f.awaitErr
	}
	return ledger.Receipt{TxHash: tx.Hash, BlockNumber: 100}, nil
}

type fixture struct {
	st     store.Store
	mgr    *session.Manager
	games  *registry.MemoryRepository
	chain  *fakeLedger
	recon  *Reconciler
	sess   *session.Session
	gameID uint64
}

func newFixture(t *testing.T) *fixture {
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

	st := store.NewRedisStore(rdb)
	mgr := session.NewManager(st, rules.LoadChess, nil)
	t.Cleanup(mgr.Close)

	games := registry.NewMemory()
	const gameID = 7
	err = games.Insert(context.Background(), &registry.Record{
		ContractGameID:  gameID,
		ContractAddress: gamesContract.Hex(),
		DisplayID:       "ABC123",
		Player1:         alice,
		Player2:         bob,
		Creator:         alice,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ctx := context.Background()
	sess, err := mgr.Session(ctx, "ABC123")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if err := sess.Initialize(ctx, session.InitParams{Player1: alice, Player2: bob, ContractGameID: gameID}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	chain := &fakeLedger{}
	return &fixture{
		st:     st,
		mgr:    mgr,
		games:  games,
		chain:  chain,
		recon:  NewReconciler(games, mgr, chain, gamesContract, nil),
		sess:   sess,
		gameID: gameID,
	}
}

func (f *fixture) play(t *testing.T, moves ...string) {
	t.Helper()
	for i, mv := range moves {
		mover := alice
		if i%2 == 1 {
			mover = bob
		}
		f.move(t, mover, mv)
	}
}

func (f *fixture) move(t *testing.T, mover, mv string) {
	t.Helper()
	_, err := f.sess.ApplyMove(context.Background(), session.MoveRequest{
		Mover: mover,
		Move:  rules.MoveSpec{From: mv[:2], To: mv[2:4]},
	})
	if err != nil {
		t.Fatalf("move %s: %v", mv, err)
	}
}

func (f *fixture) attest(t *testing.T, identity, message string) {
	t.Helper()
	err := f.sess.RecordAttestation(context.Background(), identity, session.SignedHistory{Message: message, Signature: "0xsig"})
	if err != nil {
		t.Fatalf("RecordAttestation: %v", err)
	}
}

func (f *fixture) request(signer, message string, index uint64) Request {
	return Request{
		ContractGameID: f.gameID,
		SignerIdentity: signer,
		Message:        message,
		Signature:      "0xsig",
		UpdateIndex:    index,
	}
}

func TestReconcileCheckmate(t *testing.T) {
	f := newFixture(t)
	f.play(t, "f2f3", "e7e5", "g2g4", "d8h4")
	final := f.sess.History()
	f.attest(t, bob, final)

	res, err := f.recon.Reconcile(context.Background(), f.request(bob, final, 1))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.TxHash == "" || res.Outcome != rules.OutcomeDecisive || !strings.EqualFold(res.Winner, bob) {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.chain.submits) != 1 {
		t.Fatalf("submits = %d", len(f.chain.submits))
	}
	sub := f.chain.submits[0]
	if sub.contract != gamesContract || sub.function != ledger.FnVerifyGameUpdate {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if sub.args[0].(interface{ Uint64() uint64 }).Uint64() != 7 || sub.args[1].(interface{ Uint64() uint64 }).Uint64() != 1 {
		t.Fatalf("unexpected ids %v", sub.args[:2])
	}
	if sub.args[2].(uint8) != 1 || sub.args[3].(common.Address) != common.HexToAddress(bob) {
		t.Fatalf("unexpected outcome args %v", sub.args[2:])
	}
}

func TestReconcileOngoingGameSubmitsZeroOutcome(t *testing.T) {
	f := newFixture(t)
	f.play(t, "e2e4")
	hist := f.sess.History()
	f.attest(t, alice, hist)

	if _, err := f.recon.Reconcile(context.Background(), f.request(alice, hist, 1)); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	sub := f.chain.submits[0]
	if sub.args[2].(uint8) != 0 || sub.args[3].(common.Address) != (common.Address{}) {
		t.Fatalf("expected no outcome, got %v", sub.args[2:])
	}
}

// reload restarts the session layer from whatever is persisted.
func (f *fixture) reload(t *testing.T) {
	t.Helper()
	f.mgr = session.NewManager(f.st, rules.LoadChess, nil)
	t.Cleanup(f.mgr.Close)
	sess, err := f.mgr.Session(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	f.sess = sess
	f.recon = NewReconciler(f.games, f.mgr, f.chain, gamesContract, nil)
}

func TestReconcileAcceptsShorterSubmissionAgainstLongerAttestation(t *testing.T) {
	f := newFixture(t)
	f.play(t, "e2e4")
	short := f.sess.History()
	f.attest(t, alice, short)
	f.move(t, bob, "e7e5")
	f.attest(t, bob, f.sess.History())

	if _, err := f.recon.Reconcile(context.Background(), f.request(alice, short, 2)); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if f.chain.calls.Load() != 1 {
		t.Fatalf("ledger calls = %d", f.chain.calls.Load())
	}
}

func TestReconcileUsesLongerAttestation(t *testing.T) {
	f := newFixture(t)
	f.play(t, "e2e4")
	short := f.sess.History()
	f.attest(t, alice, short)
	f.move(t, bob, "e7e5")

	// A tampered record can only come from storage; the session refuses it live.
	raw, err := json.Marshal(attest.Attestation{
		Identity:  bob,
		Message:   strings.Replace(f.sess.History(), "1. e4 e5", "1. e4 e6", 1),
		Signature: "0xsig",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := f.st.Put(context.Background(), "ABC123", store.FieldAttestPlayer2, string(raw)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	f.reload(t)

	_, err = f.recon.Reconcile(context.Background(), f.request(alice, short, 2))
	if !errors.Is(err, gameerr.ErrStaleHistory) {
		t.Fatalf("expected stale history from longer attestation, got %v", err)
	}
	if f.chain.calls.Load() != 0 {
		t.Fatalf("ledger called after continuity failure")
	}
}

func TestReconcileRejectsForeignVenue(t *testing.T) {
	f := newFixture(t)
	f.play(t, "e2e4", "e7e5")
	hist := f.sess.History()
	f.attest(t, alice, hist)

	forged := strings.Replace(hist, `[Site "basedchess.xyz"]`, `[Site "evil.example"]`, 1)
	if forged == hist {
		t.Fatalf("venue tag not found in %q", hist)
	}
	_, err := f.recon.Reconcile(context.Background(), f.request(alice, forged, 1))
	if !errors.Is(err, gameerr.ErrStaleHistory) {
		t.Fatalf("expected stale history, got %v", err)
	}
	if f.chain.calls.Load() != 0 {
		t.Fatalf("ledger called with a foreign venue")
	}
}

func TestReconcileRejections(t *testing.T) {
	f := newFixture(t)
	f.play(t, "e2e4")
	hist := f.sess.History()

	cases := []struct {
		name string
		req  Request
		prep func()
		want error
	}{
		{"unknown game", Request{ContractGameID: 99, SignerIdentity: alice}, nil, gameerr.ErrNotFound},
		{"not a player", f.request(mallory, hist, 1), nil, gameerr.ErrAuthorization},
		{"bad signature", f.request(alice, hist, 1), func() { f.chain.rejectSig = true }, gameerr.ErrInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.prep != nil {
				tc.prep()
			}
			_, err := f.recon.Reconcile(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if f.chain.calls.Load() != 0 {
		t.Fatalf("ledger called on rejected request")
	}
}

func TestReconcileInvalidSignatureIsAuthorization(t *testing.T) {
	f := newFixture(t)
	f.chain.rejectSig = true
	_, err := f.recon.Reconcile(context.Background(), f.request(alice, f.sess.History(), 1))
	if !errors.Is(err, gameerr.ErrAuthorization) {
		t.Fatalf("invalid signature should refine authorization, got %v", err)
	}
	if pub := gameerr.Public(err); pub.Code != string(gameerr.KindInvalidSignature) {
		t.Fatalf("public code = %q", pub.Code)
	}
}

func TestReconcileRejectsDivergentSubmittedHistory(t *testing.T) {
	f := newFixture(t)
	f.play(t, "f2f3", "e7e5", "g2g4", "d8h4")
	forged := strings.Replace(f.sess.History(), "1. f3", "1. f4", 1)

	_, err := f.recon.Reconcile(context.Background(), f.request(alice, forged, 1))
	if !errors.Is(err, gameerr.ErrStaleHistory) || !errors.Is(err, gameerr.ErrConflict) {
		t.Fatalf("expected stale history conflict, got %v", err)
	}
	if f.chain.calls.Load() != 0 {
		t.Fatalf("ledger called with divergent history")
	}
}

func TestReconcileLedgerFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	hist := f.sess.History()
	f.chain.awaitErr = ledger.ErrNotIncluded

	_, err := f.recon.Reconcile(context.Background(), f.request(alice, hist, 1))
	if !errors.Is(err, gameerr.ErrLedger) || !errors.Is(err, ledger.ErrNotIncluded) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if !gameerr.Public(err).Retryable {
		t.Fatalf("ledger failures should be retryable")
	}
	if got := f.sess.History(); got != hist {
		t.Fatalf("history changed after ledger failure")
	}
}

func TestReconcileCollapsesConcurrentSubmissions(t *testing.T) {
	f := newFixture(t)
	hist := f.sess.History()
	f.chain.gate = make(chan struct{})
	f.chain.entered = make(chan struct{}, 8)

	const n = 5
	var wg sync.WaitGroup
	results := make([]Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.recon.Reconcile(context.Background(), f.request(alice, hist, 3))
		}(i)
	}
	<-f.chain.entered
	time.Sleep(50 * time.Millisecond)
	close(f.chain.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if results[i].TxHash != results[0].TxHash {
			t.Fatalf("call %d got a different tx", i)
		}
	}
	if got := f.chain.calls.Load(); got != 1 {
		t.Fatalf("ledger submissions = %d, want 1", got)
	}
}

func TestPublishNFT(t *testing.T) {
	f := newFixture(t)
	pub := NewNFTPublisher(f.games, f.chain, gamesContract, nftContract, nil)
	ctx := context.Background()

	_, err := pub.Publish(ctx, NFTRequest{ContractAddress: mallory, ContractGameID: f.gameID, MetadataURL: "https://x.test/7.json"})
	if !errors.Is(err, gameerr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	_, err = pub.Publish(ctx, NFTRequest{ContractAddress: gamesContract.Hex(), ContractGameID: 404, MetadataURL: "https://x.test/404.json"})
	if !errors.Is(err, gameerr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = pub.Publish(ctx, NFTRequest{ContractAddress: gamesContract.Hex(), ContractGameID: f.gameID, MetadataURL: "not a url"})
	if !errors.Is(err, gameerr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	tx, err := pub.Publish(ctx, NFTRequest{
		ContractAddress: strings.ToLower(gamesContract.Hex()),
		ContractGameID:  f.gameID,
		MetadataURL:     "https://x.test/7.json",
	})
	if err != nil || tx == "" {
		t.Fatalf("Publish: tx=%q err=%v", tx, err)
	}
	sub := f.chain.submits[0]
	if sub.contract != nftContract || sub.function != ledger.FnSetNftURI {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if sub.args[0].(common.Address) != gamesContract || sub.args[2].(string) != "https://x.test/7.json" {
		t.Fatalf("unexpected args %v", sub.args)
	}
}
