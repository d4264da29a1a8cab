package tryon

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/raushankrgupta/tryon-orchestrator/ledger"
	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/raushankrgupta/tryon-orchestrator/utils"
	"github.com/stretchr/testify/require"
)

// fakeProvider answers status checks from script, keyed by the 1-based check number.
type fakeProvider struct {
	mu        sync.Mutex
	submitErr error
	submits   int
	checks    int
	script    func(check int) (models.StatusReport, error)
}

func (p *fakeProvider) Submit(_ context.Context, _ models.TryOnRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return "prov-1", nil
}

func (p *fakeProvider) CheckStatus(_ context.Context, _ string) (models.StatusReport, error) {
	p.mu.Lock()
	p.checks++
	check := p.checks
	p.mu.Unlock()

	if p.script == nil {
		return models.StatusReport{Status: models.ProviderPending}, nil
	}
	return p.script(check)
}

func (p *fakeProvider) counts() (submits, checks int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits, p.checks
}

func pendingForever(int) (models.StatusReport, error) {
	return models.StatusReport{Status: models.ProviderPending}, nil
}

func completesOn(tick int, media ...string) func(int) (models.StatusReport, error) {
	return func(check int) (models.StatusReport, error) {
		if check >= tick {
			return models.StatusReport{Status: models.ProviderCompleted, ResultMedia: media}, nil
		}
		return models.StatusReport{Status: models.ProviderPending}, nil
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event models.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) types() []models.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.EventType
	for _, e := range n.events {
		if e.Type != models.EventProgress {
			out = append(out, e.Type)
		}
	}
	return out
}

// countingLedger wraps a real ledger and counts calls.
type countingLedger struct {
	*ledger.Ledger
	mu      sync.Mutex
	debits  int
	credits int
}

func (l *countingLedger) Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	l.mu.Lock()
	l.debits++
	l.mu.Unlock()
	return l.Ledger.Debit(ctx, userID, amount, reference)
}

func (l *countingLedger) Credit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	l.mu.Lock()
	l.credits++
	l.mu.Unlock()
	return l.Ledger.Credit(ctx, userID, amount, reference)
}

// failingStore fails every write once failWrites is set.
type failingStore struct {
	*ledger.MemoryStore
	mu         sync.Mutex
	failWrites bool
}

func (s *failingStore) AdjustBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	s.mu.Lock()
	fail := s.failWrites
	s.mu.Unlock()
	if fail {
		return 0, errors.New("write concern timeout")
	}
	return s.MemoryStore.AdjustBalance(ctx, userID, delta)
}

func (s *failingStore) setFailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

type harness struct {
	orch     *Orchestrator
	ledger   *countingLedger
	store    *failingStore
	provider *fakeProvider
	previews *MemoryPreviewCollection
	notifier *recordingNotifier
}

func newHarness(t *testing.T, balance int64, provider *fakeProvider) *harness {
	t.Helper()

	logger := utils.DiscardLogger()
	store := &failingStore{MemoryStore: ledger.NewMemoryStore(map[string]int64{"user-1": balance})}
	l := &countingLedger{Ledger: ledger.New(store, &ledger.MemoryJournal{}, logger)}
	previews := &MemoryPreviewCollection{}
	notifier := &recordingNotifier{}

	results, err := NewResultHandler(previews, notifier, "fal\\.media", logger)
	require.NoError(t, err)
	compensation := NewCompensationManager(l, nil, NewMetrics(nil), logger)

	cfg := Config{Pricing: DefaultPricing()}
	orch := New(cfg, l, provider, results, compensation, notifier, NewMetrics(nil), logger)

	return &harness{
		orch:     orch,
		ledger:   l,
		store:    store,
		provider: provider,
		previews: previews,
		notifier: notifier,
	}
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	return b
}

func imageRequest() models.TryOnRequest {
	return DefaultPricing().NewRequest(models.KindImage, "user-1", "product-1", "https://cdn.example.com/me.jpg", "https://cdn.example.com/shirt.jpg")
}

func videoRequest() models.TryOnRequest {
	return DefaultPricing().NewRequest(models.KindVideo, "user-1", "product-1", "https://cdn.example.com/me.jpg", "https://cdn.example.com/shirt.mp4")
}
