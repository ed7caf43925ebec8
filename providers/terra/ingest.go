package terra

import (
	"context"
	"encoding/json"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
)

// Webhook event types.
const (
	EventAuth          = "auth"
	EventUserReauth    = "user_reauth"
	EventDeauth        = "deauth"
	EventAccessRevoked = "access_revoked"
	EventActivity      = "activity"
	EventSleep         = "sleep"
	EventBody          = "body"
	EventDaily         = "daily"
)

// IngestResult summarises one processed delivery.
type IngestResult struct {
	Type    string
	UserID  string
	Stored  int
	Skipped int
	Ignored bool
}

// Ingestor converts webhook deliveries into canonical records and writes
// them to the cache the push adapter reads from.
type Ingestor struct {
	cache  Cache
	logger core.Logger
}

type IngestorOption func(*Ingestor)

func WithIngestLogger(logger core.Logger) IngestorOption {
	return func(i *Ingestor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func NewIngestor(cache Cache, opts ...IngestorOption) *Ingestor {
	ingestor := &Ingestor{cache: cache, logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(ingestor)
		}
	}
	return ingestor
}

// Decode parses a raw delivery body.
func Decode(body []byte) (WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookPayload{}, core.NewBadInputError("terra: malformed webhook payload: " + err.Error())
	}
	if strings.TrimSpace(payload.Type) == "" {
		return WebhookPayload{}, core.NewBadInputError("terra: webhook payload has no type")
	}
	return payload, nil
}

func (i *Ingestor) Process(ctx context.Context, payload WebhookPayload) (IngestResult, error) {
	eventType := strings.ToLower(strings.TrimSpace(payload.Type))
	result := IngestResult{Type: eventType}
	if payload.User != nil {
		result.UserID = payload.User.UserID
	}

	switch eventType {
	case EventAuth, EventUserReauth:
		return result, i.registerUser(ctx, payload)
	case EventDeauth, EventAccessRevoked:
		i.logger.Info("terra user disconnected", "user_id", result.UserID, "type", eventType)
		return result, nil
	case EventActivity, EventSleep, EventBody, EventDaily:
	default:
		i.logger.Debug("ignoring terra webhook event", "type", payload.Type)
		result.Ignored = true
		return result, nil
	}

	if payload.User == nil || strings.TrimSpace(payload.User.UserID) == "" {
		return result, core.NewBadInputError("terra: data webhook without user")
	}
	user := *payload.User
	if ref := strings.TrimSpace(user.ReferenceID); ref != "" {
		if err := i.cache.RegisterUserMapping(ctx, ref, user.UserID); err != nil {
			return result, err
		}
	}

	var err error
	switch eventType {
	case EventActivity:
		err = i.storeActivities(ctx, user, payload.Data, &result)
	case EventSleep:
		err = i.storeSleep(ctx, user, payload.Data, &result)
	case EventBody:
		err = i.storeBody(ctx, user, payload.Data, &result)
	case EventDaily:
		err = i.storeDaily(ctx, user, payload.Data, &result)
	}
	if err != nil {
		return result, err
	}
	i.logger.Debug("terra webhook ingested",
		"type", eventType,
		"user_id", user.UserID,
		"stored", result.Stored,
		"skipped", result.Skipped,
	)
	return result, nil
}

func (i *Ingestor) registerUser(ctx context.Context, payload WebhookPayload) error {
	if payload.User == nil || strings.TrimSpace(payload.User.UserID) == "" {
		return core.NewBadInputError("terra: auth webhook without user")
	}
	ref := strings.TrimSpace(payload.User.ReferenceID)
	if ref == "" {
		ref = strings.TrimSpace(payload.ReferenceID)
	}
	if ref == "" {
		i.logger.Warn("terra auth webhook without reference id", "user_id", payload.User.UserID)
		return nil
	}
	if err := i.cache.RegisterUserMapping(ctx, ref, payload.User.UserID); err != nil {
		return err
	}
	i.logger.Info("terra user connected", "user_id", payload.User.UserID, "reference_id", ref)
	return nil
}

// decodeItems unmarshals each data item, skipping the ones that fail.
func decodeItems[T any](logger core.Logger, kind string, raw []json.RawMessage) []T {
	return providers.ConvertAll(logger, Name, kind, raw, func(item json.RawMessage) (T, error) {
		var out T
		err := json.Unmarshal(item, &out)
		return out, err
	})
}

func (i *Ingestor) storeActivities(ctx context.Context, user User, raw []json.RawMessage, result *IngestResult) error {
	payloads := decodeItems[activityPayload](i.logger, EventActivity, raw)
	activities := providers.ConvertAll(i.logger, Name, EventActivity, payloads, func(in activityPayload) (core.Activity, error) {
		return convertActivity(user, in)
	})
	result.Skipped += len(raw) - len(activities)
	for _, activity := range activities {
		if err := i.cache.StoreActivity(ctx, user.UserID, activity); err != nil {
			return err
		}
		result.Stored++
	}
	return nil
}

func (i *Ingestor) storeSleep(ctx context.Context, user User, raw []json.RawMessage, result *IngestResult) error {
	payloads := decodeItems[sleepPayload](i.logger, EventSleep, raw)
	for _, payload := range payloads {
		session, err := convertSleep(user, payload)
		if err != nil {
			i.logger.Warn("skipping malformed record", "provider", Name, "kind", EventSleep, "error", err.Error())
			result.Skipped++
			continue
		}
		if err := i.cache.StoreSleepSession(ctx, user.UserID, session); err != nil {
			return err
		}
		result.Stored++
		if metric, ok := recoveryFromSleep(user, payload); ok {
			if err := i.cache.StoreRecoveryMetrics(ctx, user.UserID, metric); err != nil {
				return err
			}
		}
	}
	result.Skipped += len(raw) - len(payloads)
	return nil
}

func (i *Ingestor) storeBody(ctx context.Context, user User, raw []json.RawMessage, result *IngestResult) error {
	payloads := decodeItems[bodyPayload](i.logger, EventBody, raw)
	metrics := providers.ConvertAll(i.logger, Name, EventBody, payloads, func(in bodyPayload) (core.HealthMetrics, error) {
		return convertBody(user, in)
	})
	result.Skipped += len(raw) - len(metrics)
	for _, metric := range metrics {
		if err := i.cache.StoreHealthMetrics(ctx, user.UserID, metric); err != nil {
			return err
		}
		result.Stored++
	}
	return nil
}

func (i *Ingestor) storeDaily(ctx context.Context, user User, raw []json.RawMessage, result *IngestResult) error {
	payloads := decodeItems[dailyPayload](i.logger, EventDaily, raw)
	metrics := providers.ConvertAll(i.logger, Name, EventDaily, payloads, func(in dailyPayload) (core.RecoveryMetrics, error) {
		return convertDaily(user, in)
	})
	result.Skipped += len(raw) - len(metrics)
	for _, metric := range metrics {
		if err := i.cache.StoreRecoveryMetrics(ctx, user.UserID, metric); err != nil {
			return err
		}
		result.Stored++
	}
	return nil
}
