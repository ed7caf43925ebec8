package webhooks

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-wearables/core"
)

type stubVerifier struct {
	err error
}

func (s stubVerifier) Verify(context.Context, Request) error {
	return s.err
}

type stubHandler struct {
	calls  int
	result Result
	err    error
}

func (s *stubHandler) Handle(context.Context, Request) (Result, error) {
	s.calls++
	if s.err != nil {
		return Result{}, s.err
	}
	return s.result, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
}

func TestProcessorDedupesDeliveries(t *testing.T) {
	ledger := NewMemoryLedger()
	handler := &stubHandler{result: Result{Accepted: true, StatusCode: http.StatusAccepted}}
	processor := NewProcessor(stubVerifier{}, ledger, handler)

	req := Request{Provider: "terra", Headers: map[string]string{"X-Delivery-Id": "delivery-1"}, Body: []byte(`{}`)}

	first, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process first delivery: %v", err)
	}
	if !first.Accepted || first.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected first result %+v", first)
	}
	if first.Metadata["delivery_id"] != "delivery-1" {
		t.Fatalf("expected delivery id in metadata, got %+v", first.Metadata)
	}

	second, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process duplicate delivery: %v", err)
	}
	if !second.Accepted || second.Metadata["deduped"] != true {
		t.Fatalf("expected duplicate accepted as deduped, got %+v", second)
	}
	if handler.calls != 1 {
		t.Fatalf("expected handler to run once, got %d", handler.calls)
	}
}

func TestProcessorContentHashDedupe(t *testing.T) {
	ledger := NewMemoryLedger()
	handler := &stubHandler{result: Result{Accepted: true}}
	processor := NewProcessor(nil, ledger, handler)

	body := []byte(`{"type":"activity"}`)
	for i := 0; i < 3; i++ {
		if _, err := processor.Process(context.Background(), Request{Provider: "terra", Body: body}); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if _, err := processor.Process(context.Background(), Request{Provider: "terra", Body: []byte(`{"type":"sleep"}`)}); err != nil {
		t.Fatalf("process distinct body: %v", err)
	}
	if handler.calls != 2 {
		t.Fatalf("expected identical bodies deduped, handler calls=%d", handler.calls)
	}

	record, ok := ledger.Get("terra", ContentDeliveryID(body))
	if !ok || record.Status != DeliveryStatusProcessed {
		t.Fatalf("expected processed ledger record, got %+v (found=%v)", record, ok)
	}
}

func TestProcessorHandlerFailureIsRetryable(t *testing.T) {
	ledger := NewMemoryLedger()
	ledger.Now = fixedNow
	handler := &stubHandler{err: errors.New("temporary failure")}
	processor := NewProcessor(stubVerifier{}, ledger, handler)
	processor.RetryPolicy = ExponentialRetryPolicy{Initial: time.Second, Max: 4 * time.Second}
	processor.Now = fixedNow

	req := Request{Provider: "terra", Headers: map[string]string{"x-delivery-id": "42"}}
	if _, err := processor.Process(context.Background(), req); err == nil {
		t.Fatalf("expected handler failure to surface")
	}

	record, ok := ledger.Get("terra", "42")
	if !ok {
		t.Fatalf("expected ledger record")
	}
	if record.Status != DeliveryStatusRetryReady {
		t.Fatalf("expected retry_ready, got %q", record.Status)
	}
	if record.NextAttemptAt == nil || !record.NextAttemptAt.Equal(fixedNow().Add(time.Second)) {
		t.Fatalf("unexpected next attempt %v", record.NextAttemptAt)
	}

	// the sender's redelivery is processed again, not deduped
	handler.err = nil
	handler.result = Result{Accepted: true}
	result, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if result.Metadata["deduped"] == true || handler.calls != 2 {
		t.Fatalf("expected redelivery to reach the handler, result=%+v calls=%d", result, handler.calls)
	}
	record, _ = ledger.Get("terra", "42")
	if record.Status != DeliveryStatusProcessed || record.Attempts != 2 {
		t.Fatalf("expected processed after second attempt, got %+v", record)
	}
}

func TestProcessorMarksDeadAfterMaxAttempts(t *testing.T) {
	ledger := NewMemoryLedger()
	handler := &stubHandler{result: Result{Accepted: false, StatusCode: http.StatusServiceUnavailable}}
	processor := NewProcessor(nil, ledger, handler)
	processor.MaxAttempts = 2

	req := Request{Provider: "terra", Headers: map[string]string{"x-delivery-id": "d-dead"}}
	for i := 0; i < 2; i++ {
		_, err := processor.Process(context.Background(), req)
		if !core.IsRetryable(err) {
			t.Fatalf("attempt %d: expected retryable error, got %v", i, err)
		}
	}
	record, _ := ledger.Get("terra", "d-dead")
	if record.Status != DeliveryStatusDead {
		t.Fatalf("expected dead after max attempts, got %q", record.Status)
	}

	result, err := processor.Process(context.Background(), req)
	if err != nil || result.Metadata["deduped"] != true {
		t.Fatalf("expected dead delivery to be deduped, got %+v err=%v", result, err)
	}
	if handler.calls != 2 {
		t.Fatalf("expected no further handler calls, got %d", handler.calls)
	}
}

func TestProcessorRejectsUnverifiedDelivery(t *testing.T) {
	ledger := NewMemoryLedger()
	handler := &stubHandler{}
	verifyErr := core.NewAuthFailedError("terra", "bad signature")
	processor := NewProcessor(stubVerifier{err: verifyErr}, ledger, handler)

	result, err := processor.Process(context.Background(), Request{Provider: "terra", Body: []byte(`{}`)})
	if !core.HasTextCode(err, core.ErrorAuthFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if result.StatusCode != http.StatusUnauthorized || result.Accepted {
		t.Fatalf("unexpected rejection result %+v", result)
	}
	if handler.calls != 0 {
		t.Fatalf("handler must not run for rejected deliveries")
	}
	if _, ok := ledger.Get("terra", ContentDeliveryID([]byte(`{}`))); ok {
		t.Fatalf("rejected delivery must not be claimed")
	}
}

func TestProcessorRequiresDeliveryIdentity(t *testing.T) {
	processor := NewProcessor(nil, NewMemoryLedger(), &stubHandler{})
	_, err := processor.Process(context.Background(), Request{Provider: "terra"})
	if !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for empty delivery, got %v", err)
	}
	_, err = processor.Process(context.Background(), Request{Body: []byte(`{}`)})
	if !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for missing provider, got %v", err)
	}
}

func TestMemoryLedgerLeaseBlocksConcurrentClaim(t *testing.T) {
	now := fixedNow()
	ledger := NewMemoryLedger()
	ledger.Now = func() time.Time { return now }

	first, claimed, err := ledger.Claim(context.Background(), "terra", "d1", nil, time.Minute)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	if _, claimed, _ := ledger.Claim(context.Background(), "terra", "d1", nil, time.Minute); claimed {
		t.Fatalf("expected live lease to block a second claim")
	}

	now = now.Add(2 * time.Minute)
	second, claimed, err := ledger.Claim(context.Background(), "terra", "d1", nil, time.Minute)
	if err != nil || !claimed {
		t.Fatalf("expected expired lease to be reclaimable: claimed=%v err=%v", claimed, err)
	}
	if second.ClaimID == first.ClaimID || second.Attempts != 2 {
		t.Fatalf("expected a fresh claim on attempt 2, got %+v", second)
	}

	// the stale claim can no longer complete the delivery
	if err := ledger.Complete(context.Background(), first.ClaimID); err != nil {
		t.Fatalf("complete stale claim: %v", err)
	}
	record, _ := ledger.Get("terra", "d1")
	if record.Status != DeliveryStatusProcessing {
		t.Fatalf("stale claim must not transition the record, got %q", record.Status)
	}
}

func TestExponentialRetryPolicy(t *testing.T) {
	policy := ExponentialRetryPolicy{Initial: time.Second, Max: 5 * time.Second}
	cases := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 5 * time.Second, 10: 5 * time.Second}
	for attempt, want := range cases {
		if got := policy.NextDelay(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}
