package source

import (
	"context"
	"sync"

	"github.com/lokegustafsson/ambacore/pkg/utils"
)

// Aggregator aggregates multiple CallbackSources into a single unified
// event channel. It starts all sources in parallel and forwards their
// callbacks to one output channel.
type Aggregator struct {
	sources    []CallbackSource
	sourceMap  map[string]CallbackSource // key: "type:name"
	outputChan chan *CallbackEvent
	bufferSize int
	logger     utils.Logger

	mu        sync.RWMutex
	running   bool
	wg        sync.WaitGroup
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewAggregator creates a new Aggregator with the given sources.
func NewAggregator(sources []CallbackSource, bufferSize int, logger utils.Logger) *Aggregator {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	sourceMap := make(map[string]CallbackSource)
	for _, src := range sources {
		sourceMap[buildSourceKey(src.Type(), src.Name())] = src
	}

	return &Aggregator{
		sources:    sources,
		sourceMap:  sourceMap,
		outputChan: make(chan *CallbackEvent, bufferSize),
		bufferSize: bufferSize,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

func buildSourceKey(sourceType SourceType, name string) string {
	return string(sourceType) + ":" + name
}

// Start starts all sources and begins forwarding callbacks.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.mu.Unlock()

	a.logger.Info("Starting harness aggregator with %d sources", len(a.sources))

	for _, src := range a.sources {
		if err := src.Start(ctx); err != nil {
			a.logger.Error("Failed to start source %s/%s: %v", src.Type(), src.Name(), err)
			a.Stop()
			return err
		}
		a.logger.Info("Started source: %s/%s", src.Type(), src.Name())

		a.wg.Add(1)
		go a.forward(ctx, src)
	}

	// Once every source's forward loop has exited — whether because its
	// own channel closed (e.g. a finite file replay reached EOF) or
	// because Stop/ctx cancellation unwound it — the aggregated output
	// channel is done too.
	go func() {
		a.wg.Wait()
		a.closeOutput()
	}()

	return nil
}

func (a *Aggregator) closeOutput() {
	a.closeOnce.Do(func() {
		close(a.outputChan)
	})
}

func (a *Aggregator) forward(ctx context.Context, src CallbackSource) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case event, ok := <-src.Callbacks():
			if !ok {
				a.logger.Info("Source %s/%s channel closed", src.Type(), src.Name())
				return
			}
			event.SourceType = src.Type()
			event.SourceName = src.Name()

			select {
			case a.outputChan <- event:
			case <-ctx.Done():
				return
			case <-a.stopCh:
				return
			}
		}
	}
}

// Stop stops all sources and the aggregator.
func (a *Aggregator) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	a.logger.Info("Stopping harness aggregator...")
	close(a.stopCh)

	for _, src := range a.sources {
		if err := src.Stop(); err != nil {
			a.logger.Error("Failed to stop source %s/%s: %v", src.Type(), src.Name(), err)
		}
	}

	a.wg.Wait()
	a.closeOutput()

	a.logger.Info("Harness aggregator stopped")
	return nil
}

// Callbacks returns the aggregated callback channel.
func (a *Aggregator) Callbacks() <-chan *CallbackEvent {
	return a.outputChan
}

// GetSource retrieves a specific source by type and name.
func (a *Aggregator) GetSource(sourceType SourceType, name string) CallbackSource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sourceMap[buildSourceKey(sourceType, name)]
}

// Ack acknowledges a callback event by delegating to its source.
func (a *Aggregator) Ack(ctx context.Context, event *CallbackEvent) error {
	src := a.GetSource(event.SourceType, event.SourceName)
	if src == nil {
		return nil
	}
	return src.Ack(ctx, event)
}

// Nack rejects a callback event by delegating to its source.
func (a *Aggregator) Nack(ctx context.Context, event *CallbackEvent, reason string) error {
	src := a.GetSource(event.SourceType, event.SourceName)
	if src == nil {
		return nil
	}
	return src.Nack(ctx, event, reason)
}

// HealthCheck performs health checks on all sources.
func (a *Aggregator) HealthCheck(ctx context.Context) error {
	for _, src := range a.sources {
		if err := src.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SourceCount returns the number of sources.
func (a *Aggregator) SourceCount() int {
	return len(a.sources)
}
