package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/broker"
	badgerstore "github.com/TKontu/knowledge-extraction-sub001/internal/storage/badger"
)

type scriptedEndpoint struct {
	mu           sync.Mutex
	failures     int // fail this many calls before succeeding
	calls        int
	temperatures []float64
	reply        string
}

func (s *scriptedEndpoint) Complete(ctx context.Context, messages []models.LMMessage, opts interfaces.CompletionOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.temperatures = append(s.temperatures, opts.Temperature)
	if s.calls <= s.failures {
		return "", fmt.Errorf("scripted failure %d", s.calls)
	}
	return s.reply, nil
}

func (s *scriptedEndpoint) ModelName() string { return "scripted" }

func newWorkerHarness(t *testing.T, endpoint interfaces.LMEndpoint, config *common.LLMConfig) (*Worker, *broker.Broker, interfaces.KVStorage) {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	kv := badgerstore.NewKVStorage(db, logger)
	return NewWorker("w1", kv, endpoint, config, logger), broker.NewBroker(kv, config, logger), kv
}

func fastConfig() *common.LLMConfig {
	return &common.LLMConfig{
		MaxQueueDepth:        100,
		StreamMaxLen:         200,
		PollInterval:         5 * time.Millisecond,
		RequestTimeout:       2 * time.Second,
		ResponseTTL:          time.Minute,
		MaxRetries:           3,
		BaseTemperature:      0.0,
		TemperatureIncrement: 0.2,
		InitialConcurrency:   5,
		MinConcurrency:       2,
		MaxConcurrency:       8,
	}
}

func TestWorkerProcessesRequest(t *testing.T) {
	endpoint := &scriptedEndpoint{reply: `{"answer": 42}`}
	worker, b, _ := newWorkerHarness(t, endpoint, fastConfig())
	ctx := context.Background()

	worker.Start(ctx)
	defer worker.Stop()

	req := models.NewLMRequest(models.LMRequestComplete, []models.LMMessage{
		{Role: "user", Content: "question"},
	}, true, 2*time.Second)
	resp, err := b.SubmitAndWait(ctx, req)
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected success, got %s: %s", resp.Status, resp.Error)
	}
	var text string
	if err := json.Unmarshal(resp.Result, &text); err != nil || text != `{"answer": 42}` {
		t.Fatalf("unexpected result %s", resp.Result)
	}
}

func TestWorkerRetriesWithTemperatureSchedule(t *testing.T) {
	endpoint := &scriptedEndpoint{failures: 2, reply: "ok"}
	worker, b, _ := newWorkerHarness(t, endpoint, fastConfig())
	ctx := context.Background()

	worker.Start(ctx)
	defer worker.Stop()

	req := models.NewLMRequest(models.LMRequestComplete, []models.LMMessage{
		{Role: "user", Content: "retry me"},
	}, false, 2*time.Second)
	resp, err := b.SubmitAndWait(ctx, req)
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected eventual success, got %s", resp.Status)
	}

	endpoint.mu.Lock()
	defer endpoint.mu.Unlock()
	want := []float64{0.0, 0.2, 0.4}
	if len(endpoint.temperatures) != len(want) {
		t.Fatalf("expected %d attempts, got %v", len(want), endpoint.temperatures)
	}
	for i, w := range want {
		if diff := endpoint.temperatures[i] - w; diff > 0.001 || diff < -0.001 {
			t.Fatalf("attempt %d temperature %f, want %f", i+1, endpoint.temperatures[i], w)
		}
	}
}

func TestWorkerDeadLettersExhaustedRequests(t *testing.T) {
	endpoint := &scriptedEndpoint{failures: 100}
	worker, b, kv := newWorkerHarness(t, endpoint, fastConfig())
	ctx := context.Background()

	worker.Start(ctx)
	defer worker.Stop()

	req := models.NewLMRequest(models.LMRequestComplete, []models.LMMessage{
		{Role: "user", Content: "doomed"},
	}, false, 2*time.Second)
	resp, err := b.SubmitAndWait(ctx, req)
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if resp.Status != models.LMResponseError {
		t.Fatalf("expected error status, got %s", resp.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := kv.ListLen(ctx, broker.DeadLetterList); n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("request never reached the dead letter list")
}

func TestAdaptShrinksOnTimeouts(t *testing.T) {
	worker, _, _ := newWorkerHarness(t, &scriptedEndpoint{}, fastConfig())

	for i := 0; i < 20; i++ {
		if i < 5 {
			worker.window.record(models.LMResponseTimeout)
		} else {
			worker.window.record(models.LMResponseSuccess)
		}
	}
	before := worker.Concurrency()
	worker.adapt()
	after := worker.Concurrency()
	if after >= before {
		t.Fatalf("expected shrink from %d, got %d", before, after)
	}
	if after < 2 {
		t.Fatalf("shrank below the floor: %d", after)
	}
}

func TestAdaptGrowsAfterCleanRun(t *testing.T) {
	worker, _, _ := newWorkerHarness(t, &scriptedEndpoint{}, fastConfig())

	for i := 0; i < 60; i++ {
		worker.window.record(models.LMResponseSuccess)
	}
	before := worker.Concurrency()
	worker.adapt()
	after := worker.Concurrency()
	if after <= before {
		t.Fatalf("expected growth from %d, got %d", before, after)
	}
	// Growth is floor(c * 1.2): 5 becomes 6.
	if after != 6 {
		t.Fatalf("expected 6, got %d", after)
	}
}

func TestAdaptExcludesErrorsFromTimeoutRate(t *testing.T) {
	worker, _, _ := newWorkerHarness(t, &scriptedEndpoint{}, fastConfig())

	// 2 timeouts against 8 successes is a 20% rate; the 10 plain errors
	// must not dilute it below the shrink threshold.
	for i := 0; i < 2; i++ {
		worker.window.record(models.LMResponseTimeout)
	}
	for i := 0; i < 8; i++ {
		worker.window.record(models.LMResponseSuccess)
	}
	for i := 0; i < 10; i++ {
		worker.window.record(models.LMResponseError)
	}
	before := worker.Concurrency()
	worker.adapt()
	if worker.Concurrency() >= before {
		t.Fatalf("expected shrink from %d, got %d", before, worker.Concurrency())
	}
}

func TestAdaptNeedsMinimumSamples(t *testing.T) {
	worker, _, _ := newWorkerHarness(t, &scriptedEndpoint{}, fastConfig())

	for i := 0; i < 5; i++ {
		worker.window.record(models.LMResponseTimeout)
	}
	before := worker.Concurrency()
	worker.adapt()
	if worker.Concurrency() != before {
		t.Fatal("adapt acted on too few samples")
	}
}

func TestExpiredRequestShortCircuits(t *testing.T) {
	endpoint := &scriptedEndpoint{reply: "late"}
	worker, _, _ := newWorkerHarness(t, endpoint, fastConfig())

	req := models.NewLMRequest(models.LMRequestComplete, nil, false, -time.Second)
	resp := worker.execute(context.Background(), req)
	if resp.Status != models.LMResponseTimeout {
		t.Fatalf("expected timeout, got %s", resp.Status)
	}
	endpoint.mu.Lock()
	defer endpoint.mu.Unlock()
	if endpoint.calls != 0 {
		t.Fatalf("expired request should never reach the endpoint, got %d calls", endpoint.calls)
	}
}

func TestExpiredRequestNotDeadLettered(t *testing.T) {
	endpoint := &scriptedEndpoint{reply: "late"}
	worker, b, kv := newWorkerHarness(t, endpoint, fastConfig())
	ctx := context.Background()

	worker.Start(ctx)
	defer worker.Stop()

	req := models.NewLMRequest(models.LMRequestComplete, []models.LMMessage{
		{Role: "user", Content: "too late"},
	}, false, -time.Second)
	if err := b.Submit(ctx, req); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// The worker writes a timeout response and acknowledges without touching
	// the dead letter list.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		raw, err := kv.Get(ctx, broker.ResponseKey(req.RequestID))
		if err == nil {
			var resp models.LMResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				t.Fatalf("bad response payload: %v", err)
			}
			if resp.Status != models.LMResponseTimeout {
				t.Fatalf("expected timeout response, got %s", resp.Status)
			}
			if n, _ := kv.ListLen(ctx, broker.DeadLetterList); n != 0 {
				t.Fatalf("expired request must not be dead-lettered, DLQ has %d entries", n)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timeout response never written")
}
