package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lokegustafsson/ambacore/pkg/utils"
)

// SourceTypeFile is the source type constant for the file-replay source.
const SourceTypeFile SourceType = "file"

func init() {
	Register(SourceTypeFile, NewFileSource)
}

// FileOptions holds file source specific configuration.
type FileOptions struct {
	// Path is the newline-delimited-JSON trace file to replay.
	Path string

	// ReplayInterval paces delivery of successive lines; zero means as
	// fast as possible.
	ReplayInterval time.Duration
}

// DefaultFileOptions returns the default options.
func DefaultFileOptions() *FileOptions {
	return &FileOptions{ReplayInterval: 0}
}

// FileSource implements CallbackSource by replaying a recorded trace file
// of newline-delimited RecordedCallback JSON objects, one per line. It
// stands in for a live host engine in tests and the `ambacore run` CLI
// subcommand.
type FileSource struct {
	name    string
	options *FileOptions
	logger  utils.Logger

	eventChan chan *CallbackEvent
	stopCh    chan struct{}

	mu      sync.RWMutex
	running bool
}

// NewFileSource creates a new file source from configuration.
func NewFileSource(cfg *SourceConfig) (CallbackSource, error) {
	opts := &FileOptions{
		Path:           cfg.GetString("path", ""),
		ReplayInterval: cfg.GetDuration("replay_interval", 0),
	}
	return &FileSource{
		name:      cfg.Name,
		options:   opts,
		eventChan: make(chan *CallbackEvent, 256),
		stopCh:    make(chan struct{}),
	}, nil
}

// NewFileSourceWithOptions creates a new file source with explicit options.
func NewFileSourceWithOptions(name string, opts *FileOptions, logger utils.Logger) *FileSource {
	if opts == nil {
		opts = DefaultFileOptions()
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}
	return &FileSource{
		name:      name,
		options:   opts,
		logger:    logger,
		eventChan: make(chan *CallbackEvent, 256),
		stopCh:    make(chan struct{}),
	}
}

// SetLogger sets the logger.
func (s *FileSource) SetLogger(logger utils.Logger) { s.logger = logger }

// Type returns the source type.
func (s *FileSource) Type() SourceType { return SourceTypeFile }

// Name returns the source instance name.
func (s *FileSource) Name() string { return s.name }

// Start begins replaying the trace file in a background goroutine.
func (s *FileSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if s.options.Path == "" {
		return fmt.Errorf("file source %s: path is required", s.name)
	}

	if s.logger != nil {
		s.logger.Info("File source %s replaying %s", s.name, s.options.Path)
	}

	go s.replayLoop(ctx)
	return nil
}

// Stop stops the replay.
func (s *FileSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	return nil
}

// Callbacks returns the callback event channel.
func (s *FileSource) Callbacks() <-chan *CallbackEvent { return s.eventChan }

// Ack is a no-op: file replay is not retried.
func (s *FileSource) Ack(ctx context.Context, event *CallbackEvent) error { return nil }

// Nack logs the failure; file replay never retries a line.
func (s *FileSource) Nack(ctx context.Context, event *CallbackEvent, reason string) error {
	if s.logger != nil {
		s.logger.Warn("File source %s nacked callback %s: %s", s.name, event.ID, reason)
	}
	return nil
}

// HealthCheck reports whether the replay loop is running.
func (s *FileSource) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return fmt.Errorf("file source %s is not running", s.name)
	}
	return nil
}

func (s *FileSource) replayLoop(ctx context.Context) {
	defer close(s.eventChan)

	f, err := os.Open(s.options.Path)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("File source %s: failed to open %s: %v", s.name, s.options.Path, err)
		}
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var cb RecordedCallback
		if err := json.Unmarshal(line, &cb); err != nil {
			if s.logger != nil {
				s.logger.Warn("File source %s: skipping malformed line %d: %v", s.name, lineNo, err)
			}
			continue
		}

		event := NewCallbackEvent(&cb, SourceTypeFile, s.name).WithAckToken(lineNo)

		select {
		case s.eventChan <- event:
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}

		if s.options.ReplayInterval > 0 {
			select {
			case <-time.After(s.options.ReplayInterval):
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}
}
