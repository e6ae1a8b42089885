// Package transport implements the duplex, length-delimited channel to a
// single external consumer: outbound EDGE_BATCH messages and inbound
// PRIORITISE_STATES messages.
package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lokegustafsson/ambacore/pkg/compression"
	amberrors "github.com/lokegustafsson/ambacore/pkg/errors"
	"github.com/lokegustafsson/ambacore/pkg/model"
	"github.com/lokegustafsson/ambacore/pkg/utils"
)

var tracer = otel.Tracer("github.com/lokegustafsson/ambacore/internal/transport")

// outboundQueueSize bounds how many batches may be in flight toward the
// consumer before the transport starts degrading by dropping the oldest
// queued batch. Flushes are nominally once per second (§ timer callback),
// so headroom here absorbs a brief consumer stall without blocking the
// engine thread.
const outboundQueueSize = 64

// inboundQueueSize bounds decoded PRIORITISE_STATES messages waiting to be
// polled by the PrioritisationReceiver.
const inboundQueueSize = 8

// Conn is the minimal duplex byte stream a Transport runs over. A real
// deployment supplies a net.Conn or an os.Pipe; tests supply an in-memory
// pipe.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Transport is a duplex channel to a single consumer. The outbound writer
// is owned by the engine thread via SendEdgeBatch; the inbound reader runs
// its own goroutine and is polled non-blockingly via TryReceive, matching
// the single-writer/single-reader ownership split in the concurrency
// model.
type Transport struct {
	conn   Conn
	logger utils.Logger

	compressor compression.Compressor

	outbound chan *model.EdgeBatch
	inbound  chan *model.PrioritiseRequest

	disconnected atomic.Bool
	closeOnce    sync.Once
	done         chan struct{}
	wg           sync.WaitGroup

	sequence atomic.Uint64
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithCompression enables zstd compression of frame payloads, via the
// shared compression package (falling back to gzip if zstd init fails).
func WithCompression() Option {
	return func(t *Transport) { t.compressor = compression.Default() }
}

// WithCompressor installs a specific compressor, overriding the default
// zstd-with-gzip-fallback chosen by WithCompression.
func WithCompressor(c compression.Compressor) Option {
	return func(t *Transport) { t.compressor = c }
}

// WithLogger overrides the default null logger.
func WithLogger(l utils.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New wraps conn in a Transport and starts its reader and writer
// goroutines. Close must be called to release them.
func New(conn Conn, opts ...Option) (*Transport, error) {
	t := &Transport{
		conn:     conn,
		logger:   &utils.NullLogger{},
		outbound: make(chan *model.EdgeBatch, outboundQueueSize),
		inbound:  make(chan *model.PrioritiseRequest, inboundQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.wg.Add(2)
	go t.writeLoop()
	go t.readLoop()

	return t, nil
}

// IsConnected reports false once any read or write has failed or Close has
// been called, and never reports true again after that.
// PluginBoundary consults this before draining the EdgeBatcher, per the
// "edges remain in the batcher while disconnected" error-handling rule.
func (t *Transport) IsConnected() bool {
	return !t.disconnected.Load()
}

// SendEdgeBatch stamps a fresh batch id and sequence number onto batch,
// then enqueues it for the write loop. Enqueueing never blocks: if the
// outbound queue is full, the oldest queued batch is dropped (documented
// degrade-under-backpressure behaviour) and a warning is logged for each
// batch dropped.
func (t *Transport) SendEdgeBatch(ctx context.Context, batch *model.EdgeBatch) error {
	if t.disconnected.Load() {
		return amberrors.ErrTransportDisconnected
	}

	ctx, span := tracer.Start(ctx, "amba.flush", trace.WithAttributes(
		attribute.Int("amba.block_edges", len(batch.BlockEdges)),
		attribute.Int("amba.state_edges", len(batch.StateEdges)),
	))
	defer span.End()
	_ = ctx

	batch.BatchID = uuid.New().String()
	batch.SequenceNum = t.sequence.Add(1)

	select {
	case t.outbound <- batch:
		return nil
	default:
		select {
		case <-t.outbound:
			t.logger.Warn("transport: outbound queue full, dropping oldest edge batch")
		default:
		}
		select {
		case t.outbound <- batch:
		default:
		}
		return nil
	}
}

// TryReceive returns the oldest decoded PRIORITISE_STATES request, or
// ok=false immediately if none is buffered. Never blocks.
func (t *Transport) TryReceive() (*model.PrioritiseRequest, bool) {
	select {
	case req := <-t.inbound:
		return req, true
	default:
		return nil, false
	}
}

// Close stops the reader/writer goroutines and closes the underlying
// connection. Safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.disconnected.Store(true)
		close(t.done)
		err = t.conn.Close()
		t.wg.Wait()
		compression.Close(t.compressor)
	})
	return err
}

func (t *Transport) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case batch := <-t.outbound:
			if err := t.writeEdgeBatch(batch); err != nil {
				t.disconnected.Store(true)
				t.logger.Error("transport: write failed, marking disconnected: %v", err)
			}
		}
	}
}

func (t *Transport) writeEdgeBatch(batch *model.EdgeBatch) error {
	payload, release := encodeEdgeBatchPooled(batch)
	defer release()

	if t.compressor != nil {
		compressed, err := t.compressor.Compress(payload)
		if err != nil {
			return err
		}
		return writeFrame(t.conn, kindEdgeBatch, compressed)
	}
	return writeFrame(t.conn, kindEdgeBatch, payload)
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	for {
		kind, payload, err := readFrame(t.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Warn("transport: read failed: %v", err)
			}
			t.disconnected.Store(true)
			return
		}

		if t.compressor != nil {
			decoded, err := t.compressor.Decompress(payload)
			if err != nil {
				t.logger.Warn("transport: decompression failed: %v", err)
				continue
			}
			payload = decoded
		}

		switch kind {
		case kindPrioritiseStates:
			req, err := decodePrioritiseRequest(payload)
			if err != nil {
				t.logger.Warn("transport: decoding prioritise request: %v", err)
				continue
			}
			select {
			case t.inbound <- req:
			default:
				t.logger.Warn("transport: inbound queue full, dropping prioritise request")
			}
		default:
			t.logger.Warn("transport: unknown message kind %d", kind)
		}

		select {
		case <-t.done:
			return
		default:
		}
	}
}

