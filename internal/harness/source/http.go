package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lokegustafsson/ambacore/pkg/utils"
)

// SourceTypeHTTP is the source type constant for the HTTP webhook source.
const SourceTypeHTTP SourceType = "http"

func init() {
	Register(SourceTypeHTTP, NewHTTPSource)
}

// HTTPOptions holds HTTP source specific configuration.
type HTTPOptions struct {
	ListenAddr   string
	Path         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodySize  int64
}

// DefaultHTTPOptions returns the default options.
func DefaultHTTPOptions() *HTTPOptions {
	return &HTTPOptions{
		ListenAddr:   ":8081",
		Path:         "/callbacks",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		MaxBodySize:  1 << 20,
	}
}

// HTTPCallbackRequest represents an incoming recorded-callback submission,
// for feeding a live trace stream into the harness without a file.
type HTTPCallbackRequest struct {
	Callback *RecordedCallback `json:"callback"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// HTTPCallbackResponse represents the response for a callback submission.
type HTTPCallbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HTTPSource implements CallbackSource for webhook-based recorded-trace
// submission.
type HTTPSource struct {
	name    string
	options *HTTPOptions
	logger  utils.Logger

	server    *http.Server
	eventChan chan *CallbackEvent
	stopCh    chan struct{}

	mu      sync.RWMutex
	running bool
}

// NewHTTPSource creates a new HTTP source from configuration.
func NewHTTPSource(cfg *SourceConfig) (CallbackSource, error) {
	opts := &HTTPOptions{
		ListenAddr:   cfg.GetString("listen_addr", ":8081"),
		Path:         cfg.GetString("path", "/callbacks"),
		ReadTimeout:  cfg.GetDuration("read_timeout", 30*time.Second),
		WriteTimeout: cfg.GetDuration("write_timeout", 30*time.Second),
		MaxBodySize:  int64(cfg.GetInt("max_body_size", 1<<20)),
	}
	return &HTTPSource{
		name:      cfg.Name,
		options:   opts,
		eventChan: make(chan *CallbackEvent, 100),
		stopCh:    make(chan struct{}),
	}, nil
}

// NewHTTPSourceWithOptions creates a new HTTP source with explicit
// options.
func NewHTTPSourceWithOptions(name string, opts *HTTPOptions, logger utils.Logger) *HTTPSource {
	if opts == nil {
		opts = DefaultHTTPOptions()
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}
	return &HTTPSource{
		name:      name,
		options:   opts,
		logger:    logger,
		eventChan: make(chan *CallbackEvent, 100),
		stopCh:    make(chan struct{}),
	}
}

// SetLogger sets the logger.
func (s *HTTPSource) SetLogger(logger utils.Logger) { s.logger = logger }

// Type returns the source type.
func (s *HTTPSource) Type() SourceType { return SourceTypeHTTP }

// Name returns the source instance name.
func (s *HTTPSource) Name() string { return s.name }

// Start starts the HTTP server.
func (s *HTTPSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc(s.options.Path, s.handleCallback)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         s.options.ListenAddr,
		Handler:      mux,
		ReadTimeout:  s.options.ReadTimeout,
		WriteTimeout: s.options.WriteTimeout,
	}

	if s.logger != nil {
		s.logger.Info("HTTP source %s starting on %s%s", s.name, s.options.ListenAddr, s.options.Path)
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("HTTP source %s server error: %v", s.name, err)
			}
		}
	}()

	return nil
}

// Stop stops the HTTP server.
func (s *HTTPSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Callbacks returns the callback event channel.
func (s *HTTPSource) Callbacks() <-chan *CallbackEvent { return s.eventChan }

// Ack is a no-op: HTTP is synchronous, acknowledgment is the response.
func (s *HTTPSource) Ack(ctx context.Context, event *CallbackEvent) error {
	if s.logger != nil {
		s.logger.Debug("HTTP source %s acked callback %s", s.name, event.ID)
	}
	return nil
}

// Nack logs the failure; a callback-url webhook notification is not yet
// wired.
func (s *HTTPSource) Nack(ctx context.Context, event *CallbackEvent, reason string) error {
	if s.logger != nil {
		s.logger.Warn("HTTP source %s nacked callback %s: %s", s.name, event.ID, reason)
	}
	return nil
}

// HealthCheck checks if the HTTP server is running.
func (s *HTTPSource) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return fmt.Errorf("HTTP source %s is not running", s.name)
	}
	return nil
}

func (s *HTTPSource) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.options.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req HTTPCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Callback == nil {
		s.sendError(w, http.StatusBadRequest, "callback is required")
		return
	}

	event := NewCallbackEvent(req.Callback, SourceTypeHTTP, s.name)
	for k, v := range req.Metadata {
		event.WithMetadata(k, v)
	}

	select {
	case s.eventChan <- event:
		s.sendSuccess(w, "callback accepted")
		if s.logger != nil {
			s.logger.Debug("HTTP source %s received callback kind=%s", s.name, req.Callback.Kind)
		}
	default:
		s.sendError(w, http.StatusServiceUnavailable, "callback queue is full")
	}
}

func (s *HTTPSource) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"source": s.name,
		"type":   string(SourceTypeHTTP),
	})
}

func (s *HTTPSource) sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPCallbackResponse{Success: false, Message: message})
}

func (s *HTTPSource) sendSuccess(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(HTTPCallbackResponse{Success: true, Message: message})
}
