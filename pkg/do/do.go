// Package do implements the Data Object: the execution kernel's unit of
// identity, lifecycle, content, and triggering (spec §3, §4.3). A
// DataObject holds one ioback.Backend and, optionally, a Stage; its status
// machine and event propagation are the core algorithm the rest of the
// engine (pkg/manager's node and composite managers) builds on.
package do

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/cuemby/dfms/pkg/events"
	"github.com/cuemby/dfms/pkg/ioback"
	"github.com/cuemby/dfms/pkg/log"
	"github.com/cuemby/dfms/pkg/types"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Config carries everything needed to construct a DataObject.
type Config struct {
	OID           string
	UID           string
	Backend       ioback.Backend // nil for a container DO
	Broadcaster   events.Broadcaster
	ExpectedSize  int64
	ExecutionMode types.ExecutionMode
	Stage         Stage
}

// DataObject is the node in the execution graph described by spec §3.
type DataObject struct {
	oid string
	uid string

	mu            sync.Mutex
	status        types.Status
	expectedSize  int64
	size          int64
	sizeFromWrite bool // true once any byte has passed through write()
	sizeSetOnce   bool // true once size has been set (written or external)
	hasChecksum   bool
	checksum      uint32
	executionMode types.ExecutionMode

	backend ioback.Backend
	bc      events.Broadcaster
	stage   Stage

	consumers          []*DataObject
	immediateConsumers []*DataObject
	children           []*DataObject
	parent             *DataObject // weak, non-owning

	openFds    map[ioback.Token]struct{}
	nextFdSeed uint64

	childSub events.Subscription // this DO's own subscription as a child, held by the parent
}

// New constructs a DataObject. For a container DO, pass a nil Backend;
// children are then added with AddChild.
func New(cfg Config) *DataObject {
	mode := cfg.ExecutionMode
	d := &DataObject{
		oid:           cfg.OID,
		uid:           cfg.UID,
		status:        types.StatusInitialized,
		expectedSize:  cfg.ExpectedSize,
		executionMode: mode,
		backend:       cfg.Backend,
		bc:            cfg.Broadcaster,
		stage:         cfg.Stage,
		openFds:       make(map[ioback.Token]struct{}),
	}
	if sl, ok := cfg.Backend.(*ioback.SocketListener); ok {
		sl.SetForwarder(socketForwarder{d})
	}
	return d
}

func (d *DataObject) OID() string { return d.oid }
func (d *DataObject) UID() string { return d.uid }

func (d *DataObject) Status() types.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *DataObject) IsContainer() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backend == nil
}

// Size returns the number of bytes written through this DO, or the sum of
// its children's sizes if it is a container (spec §4.3).
func (d *DataObject) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backend == nil {
		var total int64
		for _, c := range d.children {
			total += c.Size()
		}
		return total
	}
	return d.size
}

// Checksum returns the accumulated CRC32C of all bytes written through
// this DO, or nil if no checksum is available: either nothing has been
// written through the normal path yet, data arrived out-of-band, or this
// is a container (whose checksum is undefined per spec §4.3).
func (d *DataObject) Checksum() *uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backend == nil || !d.hasChecksum {
		return nil
	}
	v := d.checksum
	return &v
}

// Write appends p to the backend, updates size/checksum, and advances the
// state machine. Valid only in INITIALIZED/WRITING (spec §3, §4.3 rule 1).
func (d *DataObject) Write(p []byte) (int, error) {
	d.mu.Lock()
	if d.backend == nil {
		d.mu.Unlock()
		return 0, fmt.Errorf("write %s/%s: %w: container DOs cannot be written directly", d.oid, d.uid, types.ErrInvalidState)
	}
	if d.status != types.StatusInitialized && d.status != types.StatusWriting {
		st := d.status
		d.mu.Unlock()
		return 0, fmt.Errorf("write %s/%s: %w: DO is %s", d.oid, d.uid, types.ErrInvalidState, st)
	}

	n, err := d.backend.Write(p)
	if err != nil {
		d.mu.Unlock()
		return n, err
	}

	d.status = types.StatusWriting
	d.size += int64(n)
	d.sizeFromWrite = true
	d.sizeSetOnce = true
	d.checksum = crc32.Update(d.checksum, castagnoliTable, p[:n])
	d.hasChecksum = true

	expectedReached := d.expectedSize > 0 && d.size >= d.expectedSize
	immediate := append([]*DataObject(nil), d.immediateConsumers...)
	d.mu.Unlock()

	d.bc.Fire(events.Event{Kind: events.Write, OID: d.oid, UID: d.uid, Data: p[:n]})

	for _, c := range immediate {
		c.receiveImmediate(d, p[:n])
	}

	if expectedReached {
		_ = d.SetCompleted()
	}

	return n, nil
}

// SetSize sets size exactly once, for a DO whose bytes arrived out-of-band
// (a File backend written to outside the engine). Fails if any byte has
// passed through Write, or if size has already been set; the DO's status
// is not checked, so it may be called after SetCompleted.
func (d *DataObject) SetSize(size int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sizeFromWrite {
		return fmt.Errorf("set size %s/%s: %w: size already derived from write()", d.oid, d.uid, types.ErrInvalidState)
	}
	if d.sizeSetOnce {
		return fmt.Errorf("set size %s/%s: %w: size already set", d.oid, d.uid, types.ErrInvalidState)
	}
	d.size = size
	d.sizeSetOnce = true
	return nil
}

// SetCompleted transitions this DO to COMPLETED and drives spec §4.3
// rules 1-2. It rejects a repeat call locally (spec §4.6 / §9): remote
// at-least-once delivery tolerance is implemented one layer up, in
// pkg/manager's NodeManager.Notify, not here.
func (d *DataObject) SetCompleted() error {
	d.mu.Lock()
	if d.status == types.StatusCompleted || d.status == types.StatusExpired || d.status == types.StatusCancelled {
		st := d.status
		d.mu.Unlock()
		return fmt.Errorf("set completed %s/%s: %w: DO is %s", d.oid, d.uid, types.ErrInvalidState, st)
	}
	d.status = types.StatusCompleted
	deferred := append([]*DataObject(nil), d.consumers...)
	immediate := append([]*DataObject(nil), d.immediateConsumers...)
	mode := d.executionMode
	d.mu.Unlock()

	d.fireCompletionConsequences(deferred, immediate, mode)
	return nil
}

// fireCompletionConsequences fires status-change(COMPLETED) and drives
// this DO's consumers per spec §4.3 rules 1-2. Deferred consumers under
// executionMode=DO are invoked in subscription order, synchronously: the
// core does not spawn a goroutine per consumer. Graph sections where a
// consumer's Run may itself drive a producer (reentrant cycles) should use
// the threaded event Broadcaster instead.
func (d *DataObject) fireCompletionConsequences(deferred, immediate []*DataObject, mode types.ExecutionMode) {
	d.bc.Fire(events.Event{Kind: events.StatusChange, OID: d.oid, UID: d.uid, Status: int(types.StatusCompleted)})

	for _, c := range immediate {
		if err := c.consumptionCompleted(d); err != nil {
			log.WithComponent("do").Warn().Err(err).Str("uid", c.uid).Msg("immediate consumer completion callback failed")
		}
	}

	if mode == types.ModeDO {
		for _, c := range deferred {
			if err := c.Consume(d); err != nil {
				log.WithComponent("do").Warn().Err(err).Str("uid", c.uid).Str("producer", d.uid).Msg("deferred consumer failed")
			}
		}
	}
}

// Cancel transitions this DO to CANCELLED and propagates the cancellation
// to its deferred and immediate consumers, which must not invoke run
// (spec §5 "Downstream consumers observing CANCELLED propagate it").
func (d *DataObject) Cancel() error {
	d.mu.Lock()
	if d.status == types.StatusCancelled {
		st := d.status
		d.mu.Unlock()
		return fmt.Errorf("cancel %s/%s: %w: DO is %s", d.oid, d.uid, types.ErrInvalidState, st)
	}
	d.status = types.StatusCancelled
	deferred := append([]*DataObject(nil), d.consumers...)
	immediate := append([]*DataObject(nil), d.immediateConsumers...)
	d.mu.Unlock()

	d.bc.Fire(events.Event{Kind: events.StatusChange, OID: d.oid, UID: d.uid, Status: int(types.StatusCancelled)})

	for _, c := range append(deferred, immediate...) {
		_ = c.Cancel()
	}
	return nil
}

// Expire transitions a COMPLETED DO to EXPIRED (spec §3: terminal,
// mutually exclusive with further setCompleted). Any other state fails.
func (d *DataObject) Expire() error {
	d.mu.Lock()
	if d.status != types.StatusCompleted {
		st := d.status
		d.mu.Unlock()
		return fmt.Errorf("expire %s/%s: %w: DO is %s", d.oid, d.uid, types.ErrInvalidState, st)
	}
	d.status = types.StatusExpired
	d.mu.Unlock()

	d.bc.Fire(events.Event{Kind: events.StatusChange, OID: d.oid, UID: d.uid, Status: int(types.StatusExpired)})
	return nil
}

// Open returns a new read token; valid only in COMPLETED (spec §4.3).
func (d *DataObject) Open() (ioback.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != types.StatusCompleted {
		return 0, fmt.Errorf("open %s/%s: %w: DO is %s, not COMPLETED", d.oid, d.uid, types.ErrInvalidState, d.status)
	}
	if d.backend == nil {
		return 0, fmt.Errorf("open %s/%s: %w: container DOs are not directly readable", d.oid, d.uid, types.ErrInvalidState)
	}
	tok, err := d.backend.Open()
	if err != nil {
		return 0, err
	}
	d.openFds[tok] = struct{}{}
	return tok, nil
}

// Read returns up to len(p) bytes for tok (spec §4.3).
func (d *DataObject) Read(tok ioback.Token, p []byte) (int, error) {
	d.mu.Lock()
	if _, ok := d.openFds[tok]; !ok {
		d.mu.Unlock()
		return 0, fmt.Errorf("read %s/%s: %w", d.oid, d.uid, ioback.ErrUnknownToken)
	}
	backend := d.backend
	d.mu.Unlock()
	return backend.Read(tok, p)
}

// Close releases tok (spec §4.3).
func (d *DataObject) Close(tok ioback.Token) error {
	d.mu.Lock()
	if _, ok := d.openFds[tok]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("close %s/%s: %w", d.oid, d.uid, ioback.ErrUnknownToken)
	}
	delete(d.openFds, tok)
	backend := d.backend
	d.mu.Unlock()
	return backend.Close(tok)
}

// IsBeingRead reports whether any read token is currently outstanding.
func (d *DataObject) IsBeingRead() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.openFds) > 0
}

// ReadAll is a convenience helper that drives Open/Read/Close to return
// the whole COMPLETED content. Stage implementations use it to avoid
// hand-rolling the loop.
func (d *DataObject) ReadAll() ([]byte, error) {
	tok, err := d.Open()
	if err != nil {
		return nil, err
	}
	defer d.Close(tok)

	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		n, err := d.Read(tok, chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			break
		}
	}
	return buf.Bytes(), nil
}

// AddConsumer adds c to the deferred-consumer set. Fails if c is already
// an immediate consumer (spec §3 invariant: consumers ∩ immediateConsumers
// = ∅).
func (d *DataObject) AddConsumer(c *DataObject) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if containsDO(d.immediateConsumers, c) {
		return fmt.Errorf("add consumer %s: %w: already an immediate consumer", c.uid, types.ErrInvalidArgument)
	}
	if containsDO(d.consumers, c) {
		return nil // idempotent
	}
	d.consumers = append(d.consumers, c)
	return nil
}

// AddImmediateConsumer adds c to the immediate-consumer set. Fails if c is
// already a deferred consumer.
func (d *DataObject) AddImmediateConsumer(c *DataObject) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if containsDO(d.consumers, c) {
		return fmt.Errorf("add immediate consumer %s: %w: already a deferred consumer", c.uid, types.ErrInvalidArgument)
	}
	if containsDO(d.immediateConsumers, c) {
		return nil
	}
	d.immediateConsumers = append(d.immediateConsumers, c)
	return nil
}

func containsDO(list []*DataObject, target *DataObject) bool {
	for _, x := range list {
		if x == target {
			return true
		}
	}
	return false
}

// Consume opens producer, invokes this DO's DeferredStage.Run, and closes
// producer (spec §4.3 rule 2). It is what both the DO-driven auto-trigger
// and an external driver (executionMode EXTERNAL) call.
func (d *DataObject) Consume(producer *DataObject) error {
	d.mu.Lock()
	if d.status != types.StatusInitialized {
		st := d.status
		d.mu.Unlock()
		if st == types.StatusCancelled {
			return nil // already cancelled by propagation; nothing to run
		}
		return fmt.Errorf("consume %s/%s: %w: consumer is %s, not INITIALIZED", d.oid, d.uid, types.ErrInvalidState, st)
	}
	stage, _ := d.stage.(DeferredStage)
	d.mu.Unlock()

	if producer.Status() == types.StatusCancelled {
		return d.Cancel()
	}
	if stage == nil {
		return fmt.Errorf("consume %s/%s: %w: stage is not a DeferredStage", d.oid, d.uid, types.ErrInvalidArgument)
	}

	// A container producer has no backend to Open/Close (spec §4.3: a
	// container's content is the abstract concatenation of its children);
	// its status alone is what makes it a valid producer here, so the
	// read-token bracket is skipped and stage.Run reads children directly
	// (e.g. via Children()/Checksum()) instead of ReadAll.
	if !producer.IsContainer() {
		tok, err := producer.Open()
		if err != nil {
			return err
		}
		defer producer.Close(tok)
	}

	if err := stage.Run(d, producer); err != nil {
		log.WithComponent("do").Error().Err(err).Str("uid", d.uid).Msg("application consumer run failed")
		_ = d.Cancel()
		return fmt.Errorf("consume %s/%s: %w: %v", d.oid, d.uid, types.ErrExecutionFailed, err)
	}
	return nil
}

// receiveImmediate delivers a producer's write to this immediate consumer
// (spec §4.3 rule 3). Errors are logged, not propagated, mirroring the
// teacher's event-handler failure model: a broken immediate consumer must
// not stall the producer's Write call.
func (d *DataObject) receiveImmediate(producer *DataObject, data []byte) {
	stage, _ := d.stage.(ImmediateStage)
	if stage == nil {
		return
	}
	if err := stage.Consume(d, producer, data); err != nil {
		log.WithComponent("do").Error().Err(err).Str("uid", d.uid).Msg("immediate consumer failed")
		_ = d.Cancel()
	}
}

func (d *DataObject) consumptionCompleted(producer *DataObject) error {
	stage, _ := d.stage.(ImmediateStage)
	if stage == nil {
		return nil
	}
	return stage.ConsumptionCompleted(d, producer)
}

// socketForwarder adapts a *DataObject to ioback.Forwarder so a
// SocketListener backend can drive the DO's normal write path (spec
// §4.2's "bytes received are forwarded through the DO's normal write
// path; connection close → setCompleted()").
type socketForwarder struct{ d *DataObject }

func (s socketForwarder) ForwardWrite(p []byte) (int, error) { return s.d.Write(p) }
func (s socketForwarder) ForwardClose()                      { _ = s.d.SetCompleted() }

// Destroy releases this DO's backend resources and unsubscribes it from
// its parent container, if any. Session teardown must call Destroy on
// every child before its parent container (spec §9 "destroy children
// strictly before parents on session teardown"), since a parent holds no
// ownership over its children's backing storage but does hold an event
// subscription against them.
func (d *DataObject) Destroy() error {
	d.mu.Lock()
	parent := d.parent
	sub := d.childSub
	backend := d.backend
	d.mu.Unlock()

	if parent != nil && sub != 0 {
		parent.bc.Unsubscribe(events.StatusChange, d.uid, sub)
	}
	if backend != nil {
		return backend.Delete()
	}
	return nil
}
