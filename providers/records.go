package providers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
)

func ActivityKey(activity core.Activity) (time.Time, string) {
	return activity.StartDate, activity.ID
}

func SleepKey(session core.SleepSession) (time.Time, string) {
	return session.StartTime, session.ID
}

// DecodePosition returns the cursor carried by params, if any.
func DecodePosition(params pagination.Params) (*pagination.Cursor, error) {
	if !params.HasCursor() {
		return nil, nil
	}
	position, err := pagination.DecodeCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// KeysetPage builds a page from activities fetched from an upstream window
// bounded by the cursor time. Records at or before the cursor position are
// dropped, so ties on start time resolve by id. upstreamFull tells whether
// the provider returned a full window and may hold more records.
func KeysetPage(fetched []core.Activity, position *pagination.Cursor, limit int, upstreamFull bool) pagination.Page[core.Activity] {
	pagination.SortNewestFirst(fetched, ActivityKey)
	remaining := pagination.After(fetched, position, ActivityKey)
	page := pagination.PageFromWindow(remaining, limit, ActivityKey)
	if !page.HasMore && upstreamFull && len(page.Items) > 0 {
		sortKey, id := ActivityKey(page.Items[len(page.Items)-1])
		page.HasMore = true
		page.NextCursor = pagination.NewCursor(sortKey, id).Encode()
	}
	return page
}

// ConvertAll converts a batch, logging and skipping records that fail.
func ConvertAll[S any, T any](logger core.Logger, provider string, kind string, items []S, convert func(S) (T, error)) []T {
	out := make([]T, 0, len(items))
	for index, item := range items {
		converted, err := convert(item)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping malformed record",
					"provider", provider,
					"kind", kind,
					"index", index,
					"error", err.Error(),
				)
			}
			continue
		}
		out = append(out, converted)
	}
	return out
}

// FilterActivities applies the optional after/before bounds of params.
func FilterActivities(activities []core.Activity, params core.ActivityQueryParams) []core.Activity {
	out := make([]core.Activity, 0, len(activities))
	for _, activity := range activities {
		if params.After != nil && !activity.StartDate.After(*params.After) {
			continue
		}
		if params.Before != nil && !activity.StartDate.Before(*params.Before) {
			continue
		}
		out = append(out, activity)
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts the RFC 3339 variants and zone-less layouts
// providers emit. Zone-less values are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// HRVBand classifies an HRV reading against provider specific thresholds.
func HRVBand(value float64, high float64, normal float64) core.HRVStatus {
	switch {
	case value > high:
		return core.HRVStatusHigh
	case value > normal:
		return core.HRVStatusNormal
	default:
		return core.HRVStatusLow
	}
}

// OffsetPage translates an offset/limit window into a 1-based page number.
func OffsetPage(limit int, offset int) int {
	if limit <= 0 {
		return 1
	}
	return offset/limit + 1
}

// ClampLimit bounds limit to (0, max], defaulting when unset.
func ClampLimit(limit int, max int) int {
	if limit <= 0 {
		return pagination.DefaultLimit
	}
	if limit > max {
		return max
	}
	return limit
}

// LatestSleep returns the newest session or a not-found error.
func LatestSleep(provider string, sessions []core.SleepSession) (core.SleepSession, error) {
	if len(sessions) == 0 {
		return core.SleepSession{}, core.NewNotFoundError(provider, "sleep_session", "latest")
	}
	pagination.SortNewestFirst(sessions, SleepKey)
	return sessions[0], nil
}
