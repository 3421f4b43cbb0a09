// Package codec implements the four WebCodecs engines — VideoEncoder,
// VideoDecoder, AudioEncoder and AudioDecoder — on a shared state-machine
// core, plus codec-string parsing and configuration support negotiation.
//
// Every engine owns one worker goroutine that feeds the backend context and
// one delivery goroutine that plays the role of the host loop: output, error
// and dequeue callbacks are all invoked there, serialized, in production
// order. Apart from Flush, which waits for the drain, the caller-facing
// methods never block on codec work.
package codec

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/richinsley/gowebcodecs/media"
)

// State is the lifecycle state of a codec engine.
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateConfigured   State = "configured"
	StateClosed       State = "closed"
)

type itemKind int

const (
	itemWork itemKind = iota
	itemConfigure
	itemRetire
	itemFlush
	itemShutdown
)

// workItem is one entry in an engine's input FIFO. The generation stamps
// which configure/reset epoch the item belongs to; the worker drops items
// from dead epochs.
type workItem struct {
	kind    itemKind
	gen     uint64
	payload any
	done    chan error
	once    sync.Once
}

func (w *workItem) resolve(err error) {
	w.once.Do(func() { w.done <- err })
}

// processor is the engine-specific half of the state machine. All methods
// run on the worker goroutine; the returned closures are the outputs to be
// played on the delivery goroutine.
type processor interface {
	// open replaces any previous backend context with one for cfg.
	open(cfg any) error
	// process handles one queued input and returns its output deliveries.
	process(payload any) ([]func(), error)
	// drain flushes the backend and returns the residual deliveries.
	drain() ([]func(), error)
	// discard releases an input that will never be processed. Unlike the
	// rest of the interface it may be called from any goroutine and must
	// not touch the backend.
	discard(payload any)
	// teardown releases the backend context; must be idempotent.
	teardown()
}

// engineCore is the state, queue and callback plumbing shared by the four
// engines. One mutex guards every field; the worker holds it only while
// popping or committing, never across a backend call.
type engineCore struct {
	mu   sync.Mutex
	cond *sync.Cond
	log  zerolog.Logger

	state     State
	gen       uint64
	queueSize int
	pending   []*workItem

	// inflight is the flush the worker is currently draining, visible so a
	// reset can reject it mid-drain.
	inflight *workItem

	onDequeue func()
	errorCB   func(error)
	erred     bool

	deliver     chan func()
	deliverDone chan struct{}

	proc processor
}

func newEngineCore(kind string, errorCB func(error), proc processor) *engineCore {
	c := &engineCore{
		log: log.With().
			Str("engine", kind).
			Str("id", uuid.NewString()).
			Logger(),
		state:       StateUnconfigured,
		errorCB:     errorCB,
		deliver:     make(chan func(), 128),
		deliverDone: make(chan struct{}),
		proc:        proc,
	}
	c.cond = sync.NewCond(&c.mu)
	go c.workerLoop()
	go c.deliveryLoop()
	return c
}

// deliveryLoop is the engine's host loop: one consumer draining the
// cross-thread channel, invoking callbacks in post order.
func (c *engineCore) deliveryLoop() {
	for fn := range c.deliver {
		fn()
	}
	close(c.deliverDone)
}

// post hands a delivery to the host loop. Only the worker posts, so sends
// are ordered and never race the channel close in shutdown.
func (c *engineCore) post(fn func()) {
	c.deliver <- fn
}

func (c *engineCore) workerLoop() {
	for {
		c.mu.Lock()
		for len(c.pending) == 0 {
			c.cond.Wait()
		}
		item := c.pending[0]
		c.pending = c.pending[1:]
		gen := c.gen
		if item.kind == itemFlush {
			c.inflight = item
		}
		c.mu.Unlock()

		switch item.kind {
		case itemShutdown:
			c.proc.teardown()
			close(c.deliver)
			return

		case itemRetire:
			if item.gen == gen {
				c.proc.teardown()
			}

		case itemConfigure:
			if item.gen != gen {
				continue
			}
			if err := c.proc.open(item.payload); err != nil {
				c.log.Error().Err(err).Msg("configure rejected by backend")
				c.fail(media.NotSupportedf("%v", err))
			}

		case itemWork:
			if item.gen != gen {
				c.proc.discard(item.payload)
				continue
			}
			outs, err := c.proc.process(item.payload)
			c.noteDequeue(item.gen)
			c.commitWork(item.gen, outs)
			if err != nil {
				c.log.Error().Err(err).Msg("backend failed while processing input")
				c.fail(engineErr(err))
			}

		case itemFlush:
			if item.gen != gen {
				item.resolve(media.ErrAborted)
				c.clearInflight(item)
				continue
			}
			outs, err := c.proc.drain()
			if err != nil {
				err = engineErr(err)
				c.commitWork(item.gen, outs)
				item.resolve(err)
				c.clearInflight(item)
				c.log.Error().Err(err).Msg("backend failed while draining")
				c.fail(err)
				continue
			}
			// Resolve through the delivery channel so the flush completes
			// strictly after every output it produced reaches the host loop.
			c.commitWork(item.gen, append(outs, func() { item.resolve(nil) }))
			c.clearInflight(item)
		}
	}
}

// engineErr folds a backend failure into the error taxonomy, keeping an
// already-classified error as is.
func engineErr(err error) error {
	if errors.Is(err, media.ErrNotSupported) || errors.Is(err, media.ErrEncoding) ||
		errors.Is(err, media.ErrType) || errors.Is(err, media.ErrAborted) {
		return err
	}
	return media.Encodingf("%v", err)
}

func (c *engineCore) clearInflight(item *workItem) {
	c.mu.Lock()
	if c.inflight == item {
		c.inflight = nil
	}
	c.mu.Unlock()
}

// commitWork posts the deliveries of one processed item unless the epoch
// died while the backend was working.
func (c *engineCore) commitWork(gen uint64, outs []func()) {
	c.mu.Lock()
	live := gen == c.gen
	c.mu.Unlock()
	if !live {
		return
	}
	for _, fn := range outs {
		c.post(fn)
	}
}

// noteDequeue records that one queued input was consumed and schedules a
// dequeue callback on the host loop.
func (c *engineCore) noteDequeue(gen uint64) {
	c.mu.Lock()
	if gen == c.gen && c.queueSize > 0 {
		c.queueSize--
	}
	c.mu.Unlock()
	c.post(func() {
		c.mu.Lock()
		handler := c.onDequeue
		c.mu.Unlock()
		if handler != nil {
			handler()
		}
	})
}

// fail moves the engine to closed and reports err through the error
// callback. Runs on the worker; the error callback fires at most once per
// engine instance.
func (c *engineCore) fail(err error) {
	c.mu.Lock()
	wasErred := c.erred
	c.erred = true
	c.state = StateClosed
	c.gen++
	c.rejectFlushesLocked()
	c.discardPendingLocked()
	c.queueSize = 0
	cb := c.errorCB
	// The worker exits through the shutdown item; teardown happens there.
	c.pending = append(c.pending, &workItem{kind: itemShutdown, gen: c.gen})
	c.mu.Unlock()

	if !wasErred && cb != nil {
		c.post(func() { cb(err) })
	}
}

// rejectFlushesLocked aborts every pending flush and the in-flight one.
func (c *engineCore) rejectFlushesLocked() {
	for _, item := range c.pending {
		if item.kind == itemFlush {
			item.resolve(media.ErrAborted)
		}
	}
	if c.inflight != nil {
		c.inflight.resolve(media.ErrAborted)
		c.inflight = nil
	}
}

// discardPendingLocked releases queued inputs and empties the FIFO.
func (c *engineCore) discardPendingLocked() {
	for _, item := range c.pending {
		if item.kind == itemWork {
			c.proc.discard(item.payload)
		}
	}
	c.pending = c.pending[:0]
}

// configure is the common tail of an engine Configure after synchronous
// validation: replace the epoch, clear the queues and hand the open to the
// worker.
func (c *engineCore) configure(cfg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return media.InvalidStatef("codec is closed")
	}
	c.gen++
	c.rejectFlushesLocked()
	c.discardPendingLocked()
	c.queueSize = 0
	c.state = StateConfigured
	c.pending = append(c.pending, &workItem{kind: itemConfigure, gen: c.gen, payload: cfg})
	c.cond.Signal()
	return nil
}

// submit queues one encode/decode input.
func (c *engineCore) submit(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConfigured {
		return media.InvalidStatef("codec is %s, not configured", c.state)
	}
	c.queueSize++
	c.pending = append(c.pending, &workItem{kind: itemWork, gen: c.gen, payload: payload})
	c.cond.Signal()
	return nil
}

// flush queues a flush marker and waits for the worker to drain everything
// submitted before it. A reset, reconfigure or close while waiting rejects
// with ErrAborted.
func (c *engineCore) flush(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConfigured {
		c.mu.Unlock()
		return media.InvalidStatef("codec is %s, not configured", c.state)
	}
	item := &workItem{kind: itemFlush, gen: c.gen, done: make(chan error, 1)}
	c.pending = append(c.pending, item)
	c.cond.Signal()
	c.mu.Unlock()

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reset clears the queues, aborts any pending flush and returns the engine
// to unconfigured. The backend context is retired on the worker.
func (c *engineCore) reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return media.InvalidStatef("codec is closed")
	}
	c.gen++
	c.rejectFlushesLocked()
	c.discardPendingLocked()
	c.queueSize = 0
	c.state = StateUnconfigured
	c.pending = append(c.pending, &workItem{kind: itemRetire, gen: c.gen})
	c.cond.Signal()
	return nil
}

// close shuts the engine down for good. A second close fails with
// ErrInvalidState; that failure is the observable difference between closed
// and merely reset.
func (c *engineCore) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return media.InvalidStatef("codec is already closed")
	}
	c.gen++
	c.rejectFlushesLocked()
	c.discardPendingLocked()
	c.queueSize = 0
	c.state = StateClosed
	c.onDequeue = nil
	c.errorCB = nil
	c.pending = append(c.pending, &workItem{kind: itemShutdown, gen: c.gen})
	c.cond.Signal()
	return nil
}

// currentState reads the engine state.
func (c *engineCore) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// queueDepth reads the number of submitted inputs not yet consumed by the
// worker.
func (c *engineCore) queueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueSize
}

// setOnDequeue installs (or clears) the dequeue handler.
func (c *engineCore) setOnDequeue(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDequeue = fn
}

// generation reads the current epoch; processors stamp worker-side state
// with it.
func (c *engineCore) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}
