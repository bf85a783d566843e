// Package manager implements the Node Manager and Composite Manager
// tiers of spec §4.5/§4.6: the control surface that instantiates a graph
// descriptor into wired Data Objects, drives their lifecycle from the
// outside, and — at the composite level — fans that same surface out
// across a set of named children so a graph may span processes.
package manager

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/dfms/pkg/consumer"
	"github.com/cuemby/dfms/pkg/do"
	"github.com/cuemby/dfms/pkg/events"
	"github.com/cuemby/dfms/pkg/ioback"
	"github.com/cuemby/dfms/pkg/log"
	"github.com/cuemby/dfms/pkg/metrics"
	"github.com/cuemby/dfms/pkg/storage"
	"github.com/cuemby/dfms/pkg/types"
	"github.com/google/uuid"
)

// Manager is the uniform control surface spec §4.5/§4.6 describes: both a
// bare Node Manager and a Composite Manager satisfy it, so a graph
// descriptor's caller (a CLI, an external planner, a parent composite)
// never needs to know which tier it is talking to.
type Manager interface {
	CreateSession(sessionID string) error
	DestroySession(sessionID string) error
	AddGraphSpec(sessionID string, spec types.GraphSpec) error
	Deploy(sessionID string) error
	Trigger(sessionID, uid string, data []byte) error
	SetCompleted(sessionID, uid string) error
	Cancel(sessionID, uid string) error
	// Notify applies a remotely observed status change idempotently (spec
	// §4.6): a repeat COMPLETED for an already-COMPLETED DO is a no-op,
	// unlike the local SetCompleted path, which rejects it.
	Notify(sessionID, uid string, status types.Status) error
	GetStatus(sessionID string) ([]types.StatusReport, error)
	// Addr returns the host:port this manager's control surface listens
	// on, or "" if it has none (e.g. an in-process-only Node Manager).
	// Composite managers use a child's Addr as the callback URI for
	// cross-manager edges (spec §4.6).
	Addr() string
	// RegisterRemoteConsumer and AttachRemoteProducer implement the two
	// ends of a cross-manager edge (spec §4.6). A CompositeManager calls
	// these on whichever child owns the producer/consumer side; a
	// NodeManager applies them to its own session registry directly; an
	// rpcapi client forwards them as RPCs to a remote process.
	RegisterRemoteConsumer(sessionID, producerUID, consumerCallbackAddr string) error
	AttachRemoteProducer(sessionID, consumerUID, remoteOID, remoteUID, remoteAddr string, kind types.ConsumerKind) error
	// ReadAll returns a COMPLETED DO's full content. pkg/rpcapi's server
	// calls this to answer the Read RPC a RemoteReader issues.
	ReadAll(sessionID, uid string) ([]byte, error)
	Shutdown() error
}

// RemoteNotifier delivers a status change to the manager owning uid's
// consumer, addressed by host:port (spec §4.6's "remote callback
// identified by a URI"). Injected rather than imported directly from
// pkg/rpcapi to avoid a manager<->rpcapi import cycle: rpcapi depends on
// manager to dispatch incoming RPCs, so manager cannot depend back on
// rpcapi's client.
type RemoteNotifier func(addr, sessionID, uid string, status types.Status) error

// RemoteReader fetches a remote producer's full content once, by host:port
// and (session, uid), for a RemoteProxy stub's lazy Open (spec §4.6).
type RemoteReader func(addr, sessionID, uid string) ([]byte, error)

// Config carries everything needed to construct a NodeManager.
type Config struct {
	// Name addresses this manager from a parent Composite Manager's
	// child map (spec §4.5/§6); it is reported by Name() and used in log
	// fields.
	Name string
	// ListenAddr is this manager's own control-surface address, reported
	// via Addr(). Empty if this manager has no RPC front door of its own.
	ListenAddr string
	// FileDir is the directory File backends write under when a DOSpec
	// does not override it with its own FileDir.
	FileDir string
	// Store persists the session/graph-spec registry across restarts. A
	// nil Store disables durability (spec §1 Non-goals: DO content is
	// never durable regardless).
	Store storage.Store
	// Broadcaster is shared by every DO this manager instantiates. A nil
	// Broadcaster defaults to a synchronous one (events.NewSync).
	Broadcaster events.Broadcaster
}

type session struct {
	mu         sync.Mutex
	id         string
	dos        map[string]*do.DataObject
	order      []string
	updatedAt  map[string]time.Time
	edges      []types.EdgeSpec
	wiredEdges map[string]bool
}

func newSession(id string) *session {
	return &session{
		id:         id,
		dos:        make(map[string]*do.DataObject),
		updatedAt:  make(map[string]time.Time),
		wiredEdges: make(map[string]bool),
	}
}

// NodeManager owns a local registry of Data Objects keyed by uid, wires
// them from graph descriptors, and exposes the method-forwarding surface
// of spec §4.5.
type NodeManager struct {
	name     string
	addr     string
	fileDir  string
	store    storage.Store
	bc       events.Broadcaster
	notifier RemoteNotifier
	reader   RemoteReader

	mu       sync.Mutex
	sessions map[string]*session
}

// NewNodeManager constructs a Node Manager. If cfg.Store is set, any
// sessions/graph specs it already contains are restored with fresh
// (INITIALIZED) DOs — spec §1 Non-goals excludes durable DO content, so a
// restored DO never replays bytes.
func NewNodeManager(cfg Config) (*NodeManager, error) {
	bc := cfg.Broadcaster
	if bc == nil {
		bc = events.NewSync()
	}
	m := &NodeManager{
		name:     cfg.Name,
		addr:     cfg.ListenAddr,
		fileDir:  cfg.FileDir,
		store:    cfg.Store,
		bc:       bc,
		sessions: make(map[string]*session),
	}
	if cfg.Store != nil {
		if err := m.restore(); err != nil {
			return nil, fmt.Errorf("node manager %s: restore: %w", cfg.Name, err)
		}
	}
	return m, nil
}

func (m *NodeManager) restore() error {
	ids, err := m.store.ListSessions()
	if err != nil {
		return err
	}
	for _, id := range ids {
		sess := newSession(id)
		m.sessions[id] = sess
		specs, err := m.store.GraphSpecs(id)
		if err != nil {
			return err
		}
		for _, spec := range specs {
			if err := m.addGraphSpecLocked(sess, spec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *NodeManager) Name() string { return m.name }
func (m *NodeManager) Addr() string { return m.addr }

// SetRemoteNotifier and SetRemoteReader wire this manager into a
// CompositeManager's cross-manager edges (spec §4.6). Both are no-ops
// until set, which is fine for a NodeManager used standalone.
func (m *NodeManager) SetRemoteNotifier(f RemoteNotifier) { m.notifier = f }
func (m *NodeManager) SetRemoteReader(f RemoteReader)     { m.reader = f }

func (m *NodeManager) CreateSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sessionID]; exists {
		return fmt.Errorf("create session %s: %w: already exists", sessionID, types.ErrInvalidArgument)
	}
	m.sessions[sessionID] = newSession(sessionID)
	if m.store != nil {
		if err := m.store.CreateSession(sessionID); err != nil {
			delete(m.sessions, sessionID)
			return fmt.Errorf("create session %s: %w", sessionID, err)
		}
	}
	metrics.SessionsTotal.Set(float64(len(m.sessions)))
	log.WithSession(sessionID).Info().Str("manager", m.name).Msg("session created")
	return nil
}

func (m *NodeManager) getSession(sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w: not found", sessionID, types.ErrInvalidArgument)
	}
	return sess, nil
}

func (m *NodeManager) DestroySession(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("destroy session %s: %w: not found", sessionID, types.ErrInvalidArgument)
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	destroySessionDOs(sess)

	if m.store != nil {
		if err := m.store.DeleteSession(sessionID); err != nil {
			return fmt.Errorf("destroy session %s: %w", sessionID, err)
		}
	}
	m.mu.Lock()
	metrics.SessionsTotal.Set(float64(len(m.sessions)))
	m.mu.Unlock()
	return nil
}

// destroySessionDOs tears down every DO in the session, children strictly
// before parents (spec §9), regardless of instantiation order.
func destroySessionDOs(sess *session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	done := make(map[string]bool, len(sess.dos))
	var destroy func(d *do.DataObject)
	destroy = func(d *do.DataObject) {
		if done[d.UID()] {
			return
		}
		for _, child := range d.Children() {
			destroy(child)
		}
		done[d.UID()] = true
		if err := d.Destroy(); err != nil {
			log.WithComponent("manager").Warn().Err(err).Str("uid", d.UID()).Msg("destroy failed")
		}
	}
	for _, uid := range sess.order {
		destroy(sess.dos[uid])
	}
}

// AddGraphSpec instantiates every DO in spec into sessionID, idempotent on
// a repeat uid (spec §4.5). Edges are recorded but not wired until Deploy.
func (m *NodeManager) AddGraphSpec(sessionID string, spec types.GraphSpec) error {
	sess, err := m.getSession(sessionID)
	if err != nil {
		return err
	}
	if err := m.addGraphSpecLocked(sess, spec); err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.AddGraphSpec(sessionID, spec); err != nil {
			return fmt.Errorf("add graph spec %s: %w", sessionID, err)
		}
	}
	return nil
}

func (m *NodeManager) addGraphSpecLocked(sess *session, spec types.GraphSpec) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	// A caller may omit uid to ask for one (spec §6 "stable instance-level
	// identifier"); the generated value is written back into spec.DOs so
	// the edges in the same descriptor, and a durable replay of it, see
	// the same uid.
	for i := range spec.DOs {
		if spec.DOs[i].UID == "" {
			spec.DOs[i].UID = uuid.New().String()
		}
	}

	for _, doSpec := range spec.DOs {
		if _, exists := sess.dos[doSpec.UID]; exists {
			continue // idempotent on repeat uid (spec §4.5)
		}
		d, err := m.instantiateDO(doSpec)
		if err != nil {
			return fmt.Errorf("add graph spec: build %s/%s: %w", doSpec.OID, doSpec.UID, err)
		}
		sess.dos[doSpec.UID] = d
		sess.order = append(sess.order, doSpec.UID)
		sess.updatedAt[doSpec.UID] = time.Now()
		uid := doSpec.UID
		m.bc.Subscribe(events.StatusChange, uid, func(e events.Event) {
			sess.mu.Lock()
			sess.updatedAt[uid] = time.Now()
			sess.mu.Unlock()
			metrics.EventsFiredTotal.WithLabelValues(string(events.StatusChange)).Inc()
		})
	}

	sess.edges = append(sess.edges, spec.Edges...)
	return nil
}

func (m *NodeManager) instantiateDO(spec types.DOSpec) (*do.DataObject, error) {
	var backend ioback.Backend
	var err error
	if spec.Backend != "" {
		backend, err = m.instantiateBackend(spec)
		if err != nil {
			return nil, err
		}
	}

	var stage do.Stage
	if spec.Stage != "" {
		stage, err = consumer.New(spec.Stage)
		if err != nil {
			return nil, err
		}
	}

	d := do.New(do.Config{
		OID:           spec.OID,
		UID:           spec.UID,
		Backend:       backend,
		Broadcaster:   m.bc,
		ExpectedSize:  spec.ExpectedSize,
		ExecutionMode: spec.Mode,
		Stage:         stage,
	})

	if stage != nil {
		if err := stage.AppInitialize(d, spec.Options); err != nil {
			return nil, fmt.Errorf("appInitialize %s/%s: %w", spec.OID, spec.UID, err)
		}
	}
	return d, nil
}

func (m *NodeManager) instantiateBackend(spec types.DOSpec) (ioback.Backend, error) {
	switch spec.Backend {
	case types.BackendMemory:
		return ioback.NewMemory(spec.ExpectedSize), nil
	case types.BackendNull:
		return ioback.NewNull(), nil
	case types.BackendFile:
		dir := spec.FileDir
		if dir == "" {
			dir = m.fileDir
		}
		return ioback.NewFile(ioback.FilePath(dir, spec.OID, spec.UID))
	case types.BackendSocket:
		if spec.SocketAddr == "" {
			return nil, fmt.Errorf("instantiate %s/%s: %w: socket backend requires SocketAddr", spec.OID, spec.UID, types.ErrInvalidArgument)
		}
		return ioback.NewSocketListener(spec.SocketAddr)
	default:
		return nil, fmt.Errorf("instantiate %s/%s: %w: unknown backend kind %q", spec.OID, spec.UID, types.ErrInvalidArgument, spec.Backend)
	}
}

// Deploy wires every edge added to sessionID so far and transitions
// member DOs to the point where they can receive writes (spec §4.5). A
// deploy that would create a cycle in the deferred-consumer edges is
// rejected in full, before any edge is wired (spec §4.5).
func (m *NodeManager) Deploy(sessionID string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DeployDuration)

	sess, err := m.getSession(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := detectConsumerCycle(sess); err != nil {
		return fmt.Errorf("deploy %s: %w", sessionID, err)
	}

	for _, edge := range sess.edges {
		key := fmt.Sprintf("%s->%s:%s", edge.ProducerUID, edge.ConsumerUID, edge.Kind)
		if sess.wiredEdges[key] {
			continue
		}
		producer, ok := sess.dos[edge.ProducerUID]
		if !ok {
			return fmt.Errorf("deploy %s: %w: unknown producer uid %q", sessionID, types.ErrInvalidArgument, edge.ProducerUID)
		}
		target, ok := sess.dos[edge.ConsumerUID]
		if !ok {
			return fmt.Errorf("deploy %s: %w: unknown consumer uid %q", sessionID, types.ErrInvalidArgument, edge.ConsumerUID)
		}
		switch edge.Kind {
		case types.EdgeConsumer:
			err = producer.AddConsumer(target)
		case types.EdgeImmediate:
			err = producer.AddImmediateConsumer(target)
		case types.EdgeChild:
			err = producer.AddChild(target)
		default:
			err = fmt.Errorf("%w: unknown edge kind %q", types.ErrInvalidArgument, edge.Kind)
		}
		if err != nil {
			return fmt.Errorf("deploy %s: wire %s->%s: %w", sessionID, edge.ProducerUID, edge.ConsumerUID, err)
		}
		sess.wiredEdges[key] = true
	}
	return nil
}

// detectConsumerCycle walks the deferred-consumer edge set (EdgeConsumer
// only — immediate consumers cannot cycle back to an already-COMPLETED
// producer, and child edges aggregate rather than trigger) looking for a
// cycle, per spec §4.5.
func detectConsumerCycle(sess *session) error {
	adj := make(map[string][]string)
	for _, e := range sess.edges {
		if e.Kind == types.EdgeConsumer {
			adj[e.ProducerUID] = append(adj[e.ProducerUID], e.ConsumerUID)
		}
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var visit func(uid string) error
	visit = func(uid string) error {
		color[uid] = gray
		for _, next := range adj[uid] {
			switch color[next] {
			case gray:
				return fmt.Errorf("%w: cycle in deferred-consumer edges at %q", types.ErrInvalidArgument, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[uid] = black
		return nil
	}
	uids := make([]string, 0, len(adj))
	for uid := range adj {
		uids = append(uids, uid)
	}
	sort.Strings(uids) // deterministic traversal order for reproducible error messages
	for _, uid := range uids {
		if color[uid] == white {
			if err := visit(uid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *NodeManager) findDO(sessionID, uid string) (*do.DataObject, error) {
	sess, err := m.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	d, ok := sess.dos[uid]
	sess.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w: uid not found in session", sessionID, uid, types.ErrInvalidArgument)
	}
	return d, nil
}

func (m *NodeManager) Trigger(sessionID, uid string, data []byte) error {
	d, err := m.findDO(sessionID, uid)
	if err != nil {
		return err
	}
	n, err := d.Write(data)
	if err != nil {
		return err
	}
	metrics.BytesWrittenTotal.Add(float64(n))
	return nil
}

func (m *NodeManager) SetCompleted(sessionID, uid string) error {
	d, err := m.findDO(sessionID, uid)
	if err != nil {
		return err
	}
	return d.SetCompleted()
}

// ReadAll returns a local DO's full content (spec §4.3's ReadAll
// convenience, exposed here for pkg/rpcapi's Read RPC).
func (m *NodeManager) ReadAll(sessionID, uid string) ([]byte, error) {
	d, err := m.findDO(sessionID, uid)
	if err != nil {
		return nil, err
	}
	return d.ReadAll()
}

func (m *NodeManager) Cancel(sessionID, uid string) error {
	d, err := m.findDO(sessionID, uid)
	if err != nil {
		return err
	}
	return d.Cancel()
}

// Notify applies a remotely observed status change idempotently: a
// repeat COMPLETED for a DO already COMPLETED is a success no-op, per
// spec §4.6's at-least-once delivery guarantee. Any other repeat, or a
// transition the local state machine rejects outright, still surfaces as
// an error.
func (m *NodeManager) Notify(sessionID, uid string, status types.Status) error {
	d, err := m.findDO(sessionID, uid)
	if err != nil {
		metrics.RemoteNotifyTotal.WithLabelValues("unknown_do").Inc()
		return err
	}
	switch status {
	case types.StatusCompleted:
		if d.Status() == types.StatusCompleted {
			metrics.RemoteNotifyTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
		err = d.SetCompleted()
	case types.StatusCancelled:
		if d.Status() == types.StatusCancelled {
			metrics.RemoteNotifyTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
		err = d.Cancel()
	default:
		err = fmt.Errorf("notify %s/%s: %w: unsupported remote status %s", sessionID, uid, types.ErrInvalidArgument, status)
	}
	if err != nil {
		metrics.RemoteNotifyTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.RemoteNotifyTotal.WithLabelValues("applied").Inc()
	return nil
}

func (m *NodeManager) GetStatus(sessionID string) ([]types.StatusReport, error) {
	sess, err := m.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	statusCounts := make(map[types.Status]int)
	reports := make([]types.StatusReport, 0, len(sess.order))
	for _, uid := range sess.order {
		d := sess.dos[uid]
		reports = append(reports, types.StatusReport{
			OID:       d.OID(),
			UID:       d.UID(),
			Status:    d.Status(),
			Size:      d.Size(),
			Checksum:  d.Checksum(),
			UpdatedAt: sess.updatedAt[uid],
		})
		statusCounts[d.Status()]++
	}
	for status, n := range statusCounts {
		metrics.DOsTotal.WithLabelValues(sessionID, status.String()).Set(float64(n))
	}
	return reports, nil
}

// Shutdown tears down every session on this manager (spec §4.5).
func (m *NodeManager) Shutdown() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.DestroySession(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RegisterRemoteConsumer subscribes to producerUID's completion and, when
// it fires, notifies consumerCallbackAddr via the injected RemoteNotifier
// (spec §4.6: "register a proxy consumer that, on fire, invokes the
// downstream manager's per-DO method"). A CompositeManager calls this on
// the manager that owns the producer side of a cross-manager edge.
func (m *NodeManager) RegisterRemoteConsumer(sessionID, producerUID, consumerCallbackAddr string) error {
	producer, err := m.findDO(sessionID, producerUID)
	if err != nil {
		return err
	}
	m.bc.Subscribe(events.StatusChange, producer.UID(), func(e events.Event) {
		if types.Status(e.Status) != types.StatusCompleted {
			return
		}
		if m.notifier == nil {
			log.WithComponent("manager").Error().Str("uid", producerUID).Msg("remote consumer registered but no RemoteNotifier configured")
			return
		}
		if err := m.notifier(consumerCallbackAddr, sessionID, producerUID, types.StatusCompleted); err != nil {
			log.WithComponent("manager").Warn().Err(err).Str("uid", producerUID).Str("addr", consumerCallbackAddr).Msg("remote notify failed")
		}
	})
	return nil
}

// AttachRemoteProducer installs a remote-producer stub in sessionID under
// remoteUID, wired as consumerUID's producer edge of the given kind (spec
// §4.6: "the DO is replaced by a remote stub whose operations are RPC
// calls"). remoteAddr is the manager owning the real producer; reads are
// deferred to the injected RemoteReader.
func (m *NodeManager) AttachRemoteProducer(sessionID, consumerUID, remoteOID, remoteUID, remoteAddr string, kind types.ConsumerKind) error {
	sess, err := m.getSession(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	consumerDO, ok := sess.dos[consumerUID]
	if !ok {
		sess.mu.Unlock()
		return fmt.Errorf("attach remote producer: %w: unknown consumer uid %q", types.ErrInvalidArgument, consumerUID)
	}
	if _, exists := sess.dos[remoteUID]; exists {
		sess.mu.Unlock()
		return nil // idempotent: already attached
	}
	sess.mu.Unlock()

	fetch := func() ([]byte, error) {
		if m.reader == nil {
			return nil, fmt.Errorf("remote read %s/%s: %w: no RemoteReader configured", sessionID, remoteUID, types.ErrRemoteUnavailable)
		}
		return m.reader(remoteAddr, sessionID, remoteUID)
	}
	stub := do.New(do.Config{
		OID:         remoteOID,
		UID:         remoteUID,
		Backend:     ioback.NewRemoteProxy(fetch),
		Broadcaster: m.bc,
	})

	switch kind {
	case types.EdgeImmediate:
		err = stub.AddImmediateConsumer(consumerDO)
	default:
		err = stub.AddConsumer(consumerDO)
	}
	if err != nil {
		return fmt.Errorf("attach remote producer: %w", err)
	}

	sess.mu.Lock()
	sess.dos[remoteUID] = stub
	sess.order = append(sess.order, remoteUID)
	sess.updatedAt[remoteUID] = time.Now()
	sess.mu.Unlock()
	return nil
}
