package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
)

const (
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

// Request is one inbound webhook delivery.
type Request struct {
	Provider   string
	Headers    map[string]string
	Body       []byte
	ReceivedAt time.Time
}

type Result struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

type DeliveryRecord struct {
	ID            string
	ClaimID       string
	Provider      string
	DeliveryID    string
	Status        string
	Attempts      int
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger dedupes deliveries. Claim returns claimed=false when the
// delivery was already processed or another worker holds a live lease.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		provider string,
		deliveryID string,
		payload []byte,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

type VerifierFunc func(ctx context.Context, req Request) error

func (f VerifierFunc) Verify(ctx context.Context, req Request) error {
	return f(ctx, req)
}

type DeliveryIDExtractor func(req Request) (string, error)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type Handler interface {
	Handle(ctx context.Context, req Request) (Result, error)
}

type HandlerFunc func(ctx context.Context, req Request) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	return min(delay, maximum)
}

type Processor struct {
	Verifier    Verifier
	Ledger      DeliveryLedger
	Handler     Handler
	ExtractID   DeliveryIDExtractor
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Logger      core.Logger
	Now         func() time.Time
}

func NewProcessor(verifier Verifier, ledger DeliveryLedger, handler Handler) *Processor {
	return &Processor{
		Verifier:    verifier,
		Ledger:      ledger,
		Handler:     handler,
		ExtractID:   DefaultDeliveryIDExtractor,
		RetryPolicy: ExponentialRetryPolicy{},
		ClaimLease:  30 * time.Second,
		MaxAttempts: 8,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process verifies, dedupes and hands a delivery to the handler. A failed
// handler leaves the delivery retry_ready so the sender's redelivery is
// processed again instead of being deduped.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if p == nil || p.Handler == nil || p.Ledger == nil {
		return Result{}, core.NewConfigurationError("webhooks: processor requires handler and ledger")
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return Result{}, core.NewBadInputError("webhooks: provider is required")
	}
	req.Provider = provider
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = p.now()
	}

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, req); err != nil {
			p.logger().Warn("webhook rejected", "provider", provider, "error", err)
			return Result{
				StatusCode: http.StatusUnauthorized,
				Metadata:   map[string]any{"provider": provider, "rejected": true},
			}, err
		}
	}

	extractor := p.ExtractID
	if extractor == nil {
		extractor = DefaultDeliveryIDExtractor
	}
	deliveryID, err := extractor(req)
	if err != nil {
		return Result{}, err
	}

	delivery, claimed, err := p.Ledger.Claim(ctx, provider, deliveryID, req.Body, p.claimLease())
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata: map[string]any{
				"provider":    provider,
				"delivery_id": deliveryID,
				"status":      delivery.Status,
				"deduped":     true,
			},
		}, nil
	}

	result, err := p.Handler.Handle(ctx, req)
	if err != nil {
		p.fail(ctx, delivery, err)
		return Result{}, err
	}
	if !result.Accepted || result.StatusCode >= http.StatusInternalServerError {
		retryErr := core.NewExternalError(provider, result.StatusCode,
			fmt.Sprintf("webhooks: delivery handler returned status %d", result.StatusCode), true)
		p.fail(ctx, delivery, retryErr)
		return result, retryErr
	}

	if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
		return Result{}, err
	}
	if result.StatusCode == 0 {
		result.StatusCode = http.StatusOK
	}
	result.Metadata = ensureMetadata(result.Metadata)
	result.Metadata["provider"] = provider
	result.Metadata["delivery_id"] = deliveryID
	return result, nil
}

func (p *Processor) fail(ctx context.Context, delivery DeliveryRecord, cause error) {
	nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(delivery.Attempts))
	if err := p.Ledger.Fail(ctx, delivery.ClaimID, cause, nextAttemptAt, p.maxAttempts()); err != nil {
		p.logger().Warn("webhook ledger fail transition failed",
			"provider", delivery.Provider,
			"delivery_id", delivery.DeliveryID,
			"error", err,
		)
	}
}

// DefaultDeliveryIDExtractor prefers an explicit delivery header and falls
// back to a content hash, since identical redeliveries carry identical bodies.
func DefaultDeliveryIDExtractor(req Request) (string, error) {
	for _, header := range []string{"x-delivery-id", "x-request-id"} {
		if value := headerValue(req.Headers, header); value != "" {
			return value, nil
		}
	}
	if len(req.Body) == 0 {
		return "", core.NewBadInputError("webhooks: delivery id is required for dedupe")
	}
	return ContentDeliveryID(req.Body), nil
}

func ContentDeliveryID(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}

func (p *Processor) logger() core.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return nopLogger
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
