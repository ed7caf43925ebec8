package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goliatone/go-wearables/core"
)

// DefaultMaxBodyBytes caps a single delivery. Terra batches can be large.
const DefaultMaxBodyBytes int64 = 10 << 20

type RouterConfig struct {
	// Processors maps a provider name to its delivery processor; each is
	// mounted at POST /webhooks/{provider}.
	Processors   map[string]*Processor
	MaxBodyBytes int64
	Logger       core.Logger
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type responseBody struct {
	Accepted bool           `json:"accepted"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    *errorBody     `json:"error,omitempty"`
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	Mount(r, cfg)
	return r
}

// Mount registers the webhook routes on an existing router.
func Mount(r chi.Router, cfg RouterConfig) {
	h := &handler{
		processors:   map[string]*Processor{},
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       cfg.Logger,
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = DefaultMaxBodyBytes
	}
	if h.logger == nil {
		h.logger = nopLogger
	}
	for name, processor := range cfg.Processors {
		if processor == nil {
			continue
		}
		h.processors[strings.ToLower(strings.TrimSpace(name))] = processor
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/{provider}", h.receive)
		r.Head("/{provider}", h.probe)
	})
}

type handler struct {
	processors   map[string]*Processor
	maxBodyBytes int64
	logger       core.Logger
}

// probe answers reachability checks some platforms send before enabling a
// destination.
func (h *handler) probe(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.processors[strings.ToLower(chi.URLParam(r, "provider"))]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) receive(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	processor, ok := h.processors[provider]
	if !ok {
		h.writeError(w, core.NewProviderNotFoundError(provider))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.writeError(w, core.NewBadInputError("webhooks: request body too large or unreadable"))
		return
	}

	headers := make(map[string]string, len(r.Header))
	for key := range r.Header {
		headers[strings.ToLower(key)] = r.Header.Get(key)
	}

	result, err := processor.Process(r.Context(), Request{
		Provider:   provider,
		Headers:    headers,
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Warn("webhook delivery failed", "provider", provider, "error", err)
		h.writeError(w, err)
		return
	}
	writeJSON(w, result.StatusCode, responseBody{Accepted: result.Accepted, Metadata: result.Metadata})
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	mapped := core.MapError(err)
	status := mapped.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, responseBody{Error: &errorBody{
		Code:      mapped.TextCode,
		Message:   mapped.Message,
		Retryable: core.IsRetryable(err),
	}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
