package events

import (
	"sync"

	"github.com/cuemby/dfms/pkg/log"
)

// Kind identifies a DO lifecycle event (spec §4.1).
type Kind string

const (
	StatusChange     Kind = "status-change"
	Write            Kind = "write"
	ContentAvailable Kind = "content-available"
)

// Event is published by a Data Object to its Broadcaster.
type Event struct {
	Kind   Kind
	OID    string
	UID    string
	Status int // mirrors types.Status; kept as int to avoid an import cycle
	Data   []byte
}

// Handler receives events fired for a given DO identity. Handlers must not
// block indefinitely; a threaded Broadcaster runs them off the firing
// goroutine, but a synchronous one does not.
type Handler func(Event)

// Subscription is the token returned by Subscribe; pass it to Unsubscribe
// to remove exactly that registration. Subscribe/Unsubscribe are
// idempotent: unsubscribing twice, or an unknown/zero Subscription, is a
// no-op.
type Subscription uint64

type subKey struct {
	kind Kind
	uid  string
}

type registration struct {
	id Subscription
	h  Handler
}

// Broadcaster publishes DO lifecycle events to subscribed handlers. Two
// implementations exist: Sync (handlers run inline) and Threaded (handlers
// run on a dedicated per-broadcaster worker). Both satisfy this interface
// so a graph section can pick either without its producers caring.
type Broadcaster interface {
	Subscribe(kind Kind, uid string, h Handler) Subscription
	Unsubscribe(kind Kind, uid string, sub Subscription)
	Fire(e Event)
	Close()
}

// ---- Synchronous -----------------------------------------------------------

// Sync is the synchronous Broadcaster variant: Fire invokes every
// subscribed handler on the caller's goroutine, in subscription order,
// before returning. Used where completion must be observable before write
// returns (tests, single-process graphs).
type Sync struct {
	mu     sync.Mutex
	subs   map[subKey][]registration
	nextID uint64
}

// NewSync creates a synchronous broadcaster.
func NewSync() *Sync {
	return &Sync{subs: make(map[subKey][]registration)}
}

func (b *Sync) Subscribe(kind Kind, uid string, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := Subscription(b.nextID)
	k := subKey{kind, uid}
	b.subs[k] = append(b.subs[k], registration{id: id, h: h})
	return id
}

func (b *Sync) Unsubscribe(kind Kind, uid string, sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	removeReg(b.subs, subKey{kind, uid}, sub)
}

func (b *Sync) Fire(e Event) {
	b.mu.Lock()
	regs := append([]registration(nil), b.subs[subKey{e.Kind, e.UID}]...)
	b.mu.Unlock()

	for _, r := range regs {
		invoke(r.h, e)
	}
}

func (b *Sync) Close() {}

// ---- Threaded ---------------------------------------------------------------

// Threaded is the threaded Broadcaster variant: Fire appends onto a
// slice-backed FIFO drained by one worker goroutine per broadcaster. The
// queue grows without bound (spec §4.1: "unbounded FIFO"; spec §5: "fire
// never blocks on a handler") — Fire only ever takes the queue mutex to
// append and signal, it never waits on the worker or on channel capacity.
// Delivery is ordered per producer but not globally across producers.
// Required whenever a handler may itself drive a producer, to break
// reentrant cycles, and in multi-threaded graph sections.
type Threaded struct {
	mu       sync.Mutex
	subs     map[subKey][]registration
	nextID   uint64
	qmu      sync.Mutex
	qcond    *sync.Cond
	queue    []Event
	closed   bool
	closeOne sync.Once
}

// NewThreaded creates a threaded broadcaster and starts its worker.
func NewThreaded() *Threaded {
	b := &Threaded{
		subs: make(map[subKey][]registration),
	}
	b.qcond = sync.NewCond(&b.qmu)
	go b.run()
	return b
}

func (b *Threaded) Subscribe(kind Kind, uid string, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := Subscription(b.nextID)
	k := subKey{kind, uid}
	b.subs[k] = append(b.subs[k], registration{id: id, h: h})
	return id
}

func (b *Threaded) Unsubscribe(kind Kind, uid string, sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	removeReg(b.subs, subKey{kind, uid}, sub)
}

// Fire appends e to the unbounded queue and returns immediately; it never
// blocks on the worker or on any handler.
func (b *Threaded) Fire(e Event) {
	b.qmu.Lock()
	if b.closed {
		b.qmu.Unlock()
		return
	}
	b.queue = append(b.queue, e)
	b.qmu.Unlock()
	b.qcond.Signal()
}

func (b *Threaded) run() {
	for {
		b.qmu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.qcond.Wait()
		}
		if len(b.queue) == 0 && b.closed {
			b.qmu.Unlock()
			return
		}
		e := b.queue[0]
		b.queue = b.queue[1:]
		b.qmu.Unlock()
		b.deliver(e)
	}
}

func (b *Threaded) deliver(e Event) {
	b.mu.Lock()
	regs := append([]registration(nil), b.subs[subKey{e.Kind, e.UID}]...)
	b.mu.Unlock()

	for _, r := range regs {
		invoke(r.h, e)
	}
}

func (b *Threaded) Close() {
	b.closeOne.Do(func() {
		b.qmu.Lock()
		b.closed = true
		b.qmu.Unlock()
		b.qcond.Broadcast()
	})
}

func removeReg(subs map[subKey][]registration, k subKey, sub Subscription) {
	entries := subs[k]
	for i, r := range entries {
		if r.id == sub {
			subs[k] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// invoke runs a handler, logging and swallowing a panic so the remaining
// handlers in this Fire still run (spec §4.1 failure model).
func invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("events").Error().
				Str("oid", e.OID).Str("uid", e.UID).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	h(e)
}
