package source

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lokegustafsson/ambacore/pkg/utils"
)

// SourceTypeKafka is the source type constant for the Kafka source.
const SourceTypeKafka SourceType = "kafka"

func init() {
	Register(SourceTypeKafka, NewKafkaSource)
}

// KafkaOptions holds Kafka source specific configuration.
type KafkaOptions struct {
	Brokers        []string
	Topic          string
	ConsumerGroup  string
	AutoCommit     bool
	MaxPollRecords int
}

// DefaultKafkaOptions returns the default options.
func DefaultKafkaOptions() *KafkaOptions {
	return &KafkaOptions{
		Brokers:        []string{"localhost:9092"},
		Topic:          "ambacore-traces",
		ConsumerGroup:  "ambacore-harness",
		AutoCommit:     false,
		MaxPollRecords: 100,
	}
}

// KafkaMessage represents a message from Kafka carrying one recorded
// callback.
type KafkaMessage struct {
	Callback *RecordedCallback `json:"callback"`
	Offset   int64              `json:"-"`
}

// KafkaSource implements CallbackSource for Kafka-based recorded-trace
// consumption.
type KafkaSource struct {
	name    string
	options *KafkaOptions
	logger  utils.Logger

	eventChan chan *CallbackEvent
	stopCh    chan struct{}

	mu      sync.RWMutex
	running bool

	// consumer would be the actual Kafka consumer (e.g. segmentio/kafka-go)
	// consumer kafka.Consumer
}

// NewKafkaSource creates a new Kafka source from configuration.
func NewKafkaSource(cfg *SourceConfig) (CallbackSource, error) {
	opts := &KafkaOptions{
		Brokers:        []string{cfg.GetString("brokers", "localhost:9092")},
		Topic:          cfg.GetString("topic", "ambacore-traces"),
		ConsumerGroup:  cfg.GetString("consumer_group", "ambacore-harness"),
		AutoCommit:     cfg.GetBool("auto_commit", false),
		MaxPollRecords: cfg.GetInt("max_poll_records", 100),
	}
	return &KafkaSource{
		name:      cfg.Name,
		options:   opts,
		eventChan: make(chan *CallbackEvent, opts.MaxPollRecords),
		stopCh:    make(chan struct{}),
	}, nil
}

// NewKafkaSourceWithOptions creates a new Kafka source with explicit
// options.
func NewKafkaSourceWithOptions(name string, opts *KafkaOptions, logger utils.Logger) *KafkaSource {
	if opts == nil {
		opts = DefaultKafkaOptions()
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}
	return &KafkaSource{
		name:      name,
		options:   opts,
		logger:    logger,
		eventChan: make(chan *CallbackEvent, opts.MaxPollRecords),
		stopCh:    make(chan struct{}),
	}
}

// SetLogger sets the logger.
func (s *KafkaSource) SetLogger(logger utils.Logger) { s.logger = logger }

// Type returns the source type.
func (s *KafkaSource) Type() SourceType { return SourceTypeKafka }

// Name returns the source instance name.
func (s *KafkaSource) Name() string { return s.name }

// Start marks the source running and launches its consume loop, which
// connects to no broker and delivers no callbacks; it only waits for ctx
// cancellation or Stop.
func (s *KafkaSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("Kafka source %s starting with brokers=%v, topic=%s, group=%s",
			s.name, s.options.Brokers, s.options.Topic, s.options.ConsumerGroup)
	}

	// TODO: initialise the actual Kafka consumer group here.
	go s.consumeLoop(ctx)
	return nil
}

// Stop stops the Kafka consumer.
func (s *KafkaSource) Stop() error {
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
func (s *KafkaSource) Callbacks() <-chan *CallbackEvent { return s.eventChan }

// Ack logs the acknowledgement at debug level; no offset is committed.
func (s *KafkaSource) Ack(ctx context.Context, event *CallbackEvent) error {
	if s.logger != nil {
		s.logger.Debug("Kafka source %s acked callback %s", s.name, event.ID)
	}
	return nil
}

// Nack logs the rejection; nothing is written to a dead-letter topic.
func (s *KafkaSource) Nack(ctx context.Context, event *CallbackEvent, reason string) error {
	if s.logger != nil {
		s.logger.Warn("Kafka source %s nacked callback %s: %s", s.name, event.ID, reason)
	}
	return nil
}

// HealthCheck always returns nil; broker connectivity is not checked.
func (s *KafkaSource) HealthCheck(ctx context.Context) error {
	return nil
}

func (s *KafkaSource) consumeLoop(ctx context.Context) {
	// TODO: replace with an actual Kafka consumer poll loop.
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func (s *KafkaSource) parseMessage(data []byte) (*RecordedCallback, error) {
	var msg KafkaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return msg.Callback, nil
}
