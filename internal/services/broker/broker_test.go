package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	badgerstore "github.com/TKontu/knowledge-extraction-sub001/internal/storage/badger"
)

func newTestBroker(t *testing.T, config *common.LLMConfig) (*Broker, interfaces.KVStorage) {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	kv := badgerstore.NewKVStorage(db, logger)
	return NewBroker(kv, config, logger), kv
}

func TestSubmitAndWaitRoundTrip(t *testing.T) {
	config := &common.LLMConfig{
		MaxQueueDepth: 100,
		StreamMaxLen:  200,
		PollInterval:  5 * time.Millisecond,
		ResponseTTL:   time.Minute,
	}
	b, kv := newTestBroker(t, config)
	ctx := context.Background()

	req := models.NewLMRequest(models.LMRequestComplete, []models.LMMessage{
		{Role: "user", Content: "hello"},
	}, false, 2*time.Second)

	// Answer the request the way an LM worker would.
	go func() {
		for {
			entries, err := kv.StreamReadGroup(ctx, RequestStream, ConsumerGroup, "test-worker", 1)
			if err != nil || len(entries) == 0 {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			var got models.LMRequest
			if err := json.Unmarshal(entries[0].Value, &got); err != nil {
				return
			}
			resp := &models.LMResponse{
				RequestID:   got.RequestID,
				Status:      models.LMResponseSuccess,
				Result:      json.RawMessage(`"world"`),
				CompletedAt: time.Now(),
			}
			encoded, _ := json.Marshal(resp)
			_ = kv.SetWithTTL(ctx, ResponseKey(got.RequestID), encoded, time.Minute)
			_ = kv.StreamAck(ctx, RequestStream, ConsumerGroup, entries[0].ID)
			return
		}
	}()

	resp, err := b.SubmitAndWait(ctx, req)
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected success, got %s: %s", resp.Status, resp.Error)
	}
	var text string
	if err := json.Unmarshal(resp.Result, &text); err != nil || text != "world" {
		t.Fatalf("unexpected result %s", resp.Result)
	}

	// The response key is consumed on read.
	if _, err := kv.Get(ctx, ResponseKey(req.RequestID)); err != interfaces.ErrKeyNotFound {
		t.Fatalf("response should be deleted after Wait, got %v", err)
	}
}

func TestSubmitRejectsWhenFull(t *testing.T) {
	config := &common.LLMConfig{
		MaxQueueDepth: 2,
		StreamMaxLen:  10,
		PollInterval:  5 * time.Millisecond,
	}
	b, _ := newTestBroker(t, config)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		req := models.NewLMRequest(models.LMRequestComplete, nil, false, time.Second)
		if err := b.Submit(ctx, req); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}
	req := models.NewLMRequest(models.LMRequestComplete, nil, false, time.Second)
	if err := b.Submit(ctx, req); !errors.Is(err, interfaces.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	config := &common.LLMConfig{
		MaxQueueDepth: 10,
		PollInterval:  5 * time.Millisecond,
	}
	b, _ := newTestBroker(t, config)

	req := models.NewLMRequest(models.LMRequestComplete, nil, false, 50*time.Millisecond)
	if err := b.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := b.Wait(context.Background(), req.RequestID, req.TimeoutAt); !errors.Is(err, interfaces.ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}
}

func TestBackpressureLevels(t *testing.T) {
	config := &common.LLMConfig{
		MaxQueueDepth: 4,
		SlowThreshold: 2,
		PollInterval:  5 * time.Millisecond,
	}
	b, _ := newTestBroker(t, config)
	ctx := context.Background()

	level, depth, err := b.BackpressureStatus(ctx)
	if err != nil || level != interfaces.BackpressureOK || depth != 0 {
		t.Fatalf("expected ok/0, got %v/%d err %v", level, depth, err)
	}

	for i := 0; i < 2; i++ {
		req := models.NewLMRequest(models.LMRequestComplete, nil, false, time.Second)
		if err := b.Submit(ctx, req); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	level, _, _ = b.BackpressureStatus(ctx)
	if level != interfaces.BackpressureSlow {
		t.Fatalf("expected slow, got %v", level)
	}

	for i := 0; i < 2; i++ {
		req := models.NewLMRequest(models.LMRequestComplete, nil, false, time.Second)
		if err := b.Submit(ctx, req); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	level, _, _ = b.BackpressureStatus(ctx)
	if level != interfaces.BackpressureFull {
		t.Fatalf("expected full, got %v", level)
	}
}

type fakeEndpoint struct {
	reply string
	err   error
}

func (f *fakeEndpoint) Complete(ctx context.Context, messages []models.LMMessage, opts interfaces.CompletionOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeEndpoint) ModelName() string { return "fake-model" }

func TestDirectModeRoundTrip(t *testing.T) {
	logger := arbor.NewLogger()
	config := &common.LLMConfig{BaseTemperature: 0.1}
	d := NewDirect(&fakeEndpoint{reply: `{"ok": true}`}, config, logger)

	req := models.NewLMRequest(models.LMRequestComplete, []models.LMMessage{
		{Role: "user", Content: "hi"},
	}, true, time.Second)
	resp, err := d.SubmitAndWait(context.Background(), req)
	if err != nil {
		t.Fatalf("direct round trip failed: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected success, got %s", resp.Status)
	}
	var text string
	if err := json.Unmarshal(resp.Result, &text); err != nil || text != `{"ok": true}` {
		t.Fatalf("unexpected result %s", resp.Result)
	}
}

func TestDirectModeError(t *testing.T) {
	logger := arbor.NewLogger()
	d := NewDirect(&fakeEndpoint{err: fmt.Errorf("endpoint down")}, &common.LLMConfig{}, logger)

	req := models.NewLMRequest(models.LMRequestComplete, nil, false, time.Second)
	resp, err := d.SubmitAndWait(context.Background(), req)
	if err != nil {
		t.Fatalf("direct mode reports failures in the response: %v", err)
	}
	if resp.Status != models.LMResponseError || resp.Error == "" {
		t.Fatalf("expected error response, got %+v", resp)
	}
}
