package devkit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/goliatone/go-wearables/transport"
)

type TransportScript struct {
	Response transport.Response
	Err      error
}

// JSONScript is a 200 response with a JSON body.
func JSONScript(body string) TransportScript {
	return TransportScript{Response: transport.Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(body),
	}}
}

// StatusScript is a bare response with the given status and headers.
func StatusScript(status int, headers map[string]string) TransportScript {
	return TransportScript{Response: transport.Response{StatusCode: status, Headers: headers}}
}

// FakeTransportAdapter answers from routes keyed by path suffix and falls
// back to sequential scripts. Every request is captured.
type FakeTransportAdapter struct {
	mu       sync.Mutex
	scripts  []TransportScript
	routes   map[string][]TransportScript
	served   int
	requests []transport.Request
}

func NewFakeTransportAdapter(scripts ...TransportScript) *FakeTransportAdapter {
	return &FakeTransportAdapter{
		scripts: append([]TransportScript(nil), scripts...),
		routes:  map[string][]TransportScript{},
	}
}

// Route scripts responses for requests whose path ends with suffix. Scripts
// are consumed in order; the last one repeats.
func (a *FakeTransportAdapter) Route(suffix string, scripts ...TransportScript) *FakeTransportAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes[suffix] = append(a.routes[suffix], scripts...)
	return a
}

func (*FakeTransportAdapter) Kind() string {
	return "fake"
}

func (a *FakeTransportAdapter) Do(_ context.Context, req transport.Request) (transport.Response, error) {
	if a == nil {
		return transport.Response{}, fmt.Errorf("devkit: fake transport adapter is nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, cloneRequest(req))
	path := req.URL
	if parsed, err := url.Parse(req.URL); err == nil {
		path = parsed.Path
	}
	if scripts, suffix, ok := a.routeFor(path); ok {
		script := scripts[0]
		if len(scripts) > 1 {
			a.routes[suffix] = scripts[1:]
		}
		return cloneResponse(script.Response), script.Err
	}

	index := a.served
	a.served++
	if index < len(a.scripts) {
		script := a.scripts[index]
		return cloneResponse(script.Response), script.Err
	}
	if len(a.scripts) > 0 {
		last := a.scripts[len(a.scripts)-1]
		return cloneResponse(last.Response), last.Err
	}
	return transport.Response{StatusCode: 404, Headers: map[string]string{}}, nil
}

// routeFor prefers the longest matching suffix.
func (a *FakeTransportAdapter) routeFor(path string) ([]TransportScript, string, bool) {
	best := ""
	for suffix, scripts := range a.routes {
		if len(scripts) == 0 || !strings.HasSuffix(path, suffix) {
			continue
		}
		if len(suffix) > len(best) {
			best = suffix
		}
	}
	if best == "" {
		return nil, "", false
	}
	return a.routes[best], best, true
}

func (a *FakeTransportAdapter) Requests() []transport.Request {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]transport.Request, 0, len(a.requests))
	for _, item := range a.requests {
		out = append(out, cloneRequest(item))
	}
	return out
}

func cloneRequest(in transport.Request) transport.Request {
	out := in
	out.Headers = map[string]string{}
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	out.Query = url.Values{}
	for key, values := range in.Query {
		out.Query[key] = append([]string(nil), values...)
	}
	out.Form = url.Values{}
	for key, values := range in.Form {
		out.Form[key] = append([]string(nil), values...)
	}
	out.Body = append([]byte(nil), in.Body...)
	return out
}

func cloneResponse(in transport.Response) transport.Response {
	out := transport.Response{
		StatusCode: in.StatusCode,
		Headers:    map[string]string{},
		Body:       append([]byte(nil), in.Body...),
	}
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	return out
}

var _ transport.Adapter = (*FakeTransportAdapter)(nil)
