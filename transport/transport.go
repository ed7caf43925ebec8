// Package transport executes provider HTTP calls and hands back the raw
// status, headers and body. Interpreting non-2xx responses is left to the
// provider adapters, which know each upstream's error format.
package transport

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	// Form is encoded as application/x-www-form-urlencoded when Body is empty.
	Form                 url.Values
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

// Success reports a 2xx status.
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r Response) Header(name string) string {
	for key, value := range r.Headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

// DecodeJSON unmarshals the body into target. Upstreams that answer 2xx with
// an unparseable body are treated as an external failure.
func (r Response) DecodeJSON(target any) error {
	if len(r.Body) == 0 {
		return transportError(
			"transport: empty response body",
			goerrors.CategoryExternal,
			502,
			map[string]any{"status_code": r.StatusCode},
		)
	}
	if err := json.Unmarshal(r.Body, target); err != nil {
		return transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: decode response body",
			502,
			map[string]any{"status_code": r.StatusCode},
		)
	}
	return nil
}

type Adapter interface {
	Kind() string
	Do(ctx context.Context, req Request) (Response, error)
}

// AdapterFunc lets tests and decorators satisfy Adapter with a closure.
type AdapterFunc func(ctx context.Context, req Request) (Response, error)

func (AdapterFunc) Kind() string { return "func" }

func (f AdapterFunc) Do(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
