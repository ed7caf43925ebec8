package webhooks

import (
	"context"
	"net/http"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers/terra"
)

// TerraVerifier checks the terra-signature header. An empty secret fails
// closed with a configuration error.
type TerraVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func (v TerraVerifier) Verify(_ context.Context, req Request) error {
	now := req.ReceivedAt
	if v.Now != nil {
		now = v.Now()
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	tolerance := v.Tolerance
	if tolerance == 0 {
		tolerance = terra.DefaultSignatureTolerance
	}
	return terra.VerifySignature(v.Secret, headerValue(req.Headers, terra.SignatureHeader), req.Body, now, tolerance)
}

// TerraHandler decodes deliveries and feeds them to the ingestor.
type TerraHandler struct {
	Ingestor *terra.Ingestor
}

func (h TerraHandler) Handle(ctx context.Context, req Request) (Result, error) {
	if h.Ingestor == nil {
		return Result{}, core.NewConfigurationError("webhooks: terra ingestor is required")
	}
	payload, err := terra.Decode(req.Body)
	if err != nil {
		return Result{}, err
	}
	ingested, err := h.Ingestor.Process(ctx, payload)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata: map[string]any{
			"type":    ingested.Type,
			"user_id": ingested.UserID,
			"stored":  ingested.Stored,
			"skipped": ingested.Skipped,
			"ignored": ingested.Ignored,
		},
	}, nil
}

// NewTerraProcessor wires signature verification, dedupe and ingest for the
// terra push provider.
func NewTerraProcessor(secret string, ledger DeliveryLedger, ingestor *terra.Ingestor) *Processor {
	return NewProcessor(TerraVerifier{Secret: secret}, ledger, TerraHandler{Ingestor: ingestor})
}
