package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/dfms/pkg/health"
	"github.com/cuemby/dfms/pkg/log"
	"github.com/cuemby/dfms/pkg/types"
)

// compositeSession tracks, per session, which child partition owns each
// DO and the cross-partition edges still waiting to be wired at Deploy.
type compositeSession struct {
	mu        sync.Mutex
	owner     map[string]string // uid -> child name
	oid       map[string]string // uid -> oid, for remote-stub naming
	crossEdge []types.EdgeSpec
}

func newCompositeSession() *compositeSession {
	return &compositeSession{
		owner: make(map[string]string),
		oid:   make(map[string]string),
	}
}

// CompositeManager fans spec §4.5's control surface out across a set of
// named children (spec §4.6's Island/Master tiers). It never holds a
// DataObject itself; every operation is dispatched to the child owning
// the uid in question, or broadcast to all children for session-wide
// operations.
type CompositeManager struct {
	name     string
	addr     string
	children map[string]Manager

	mu       sync.Mutex
	sessions map[string]*compositeSession

	healthCfg     health.Config
	healthMu      sync.RWMutex
	childHealth   map[string]*health.Status
	onChildHealth func(name string, healthy bool, message string)
	stopMonitor   chan struct{}
	monitorWG     sync.WaitGroup
}

// NewCompositeManager constructs a CompositeManager over children, keyed
// by the name a DOSpec.Node will reference. Each child with a non-empty
// Addr is TCP health-probed at construction so a dead child is reported
// immediately rather than on first use (spec §4.6). Networked children are
// then re-probed on health.DefaultConfig's interval for as long as the
// manager runs, so a child that goes dark after construction shows up in
// ChildHealth instead of only failing the next RPC.
func NewCompositeManager(name, addr string, children map[string]Manager) (*CompositeManager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg := health.DefaultConfig()
	childHealth := make(map[string]*health.Status)
	for childName, child := range children {
		if child.Addr() == "" {
			continue // in-process child, nothing to dial
		}
		checker := health.NewTCPChecker(child.Addr()).WithTimeout(cfg.Timeout)
		result := checker.Check(ctx)
		if !result.Healthy {
			return nil, fmt.Errorf("composite manager %s: child %s at %s: %w", name, childName, child.Addr(), types.ErrRemoteUnavailable)
		}
		status := health.NewStatus()
		status.Update(result, cfg)
		childHealth[childName] = status
	}
	m := &CompositeManager{
		name:        name,
		addr:        addr,
		children:    children,
		sessions:    make(map[string]*compositeSession),
		healthCfg:   cfg,
		childHealth: childHealth,
		stopMonitor: make(chan struct{}),
	}
	m.monitorWG.Add(1)
	go m.monitorChildren()
	return m, nil
}

// SetChildHealthCallback registers a function invoked whenever a periodic
// probe flips a child between healthy and unhealthy (not on probes that
// leave its health unchanged), letting a manager
// binary mirror child reachability into its own process-level health
// endpoint.
func (m *CompositeManager) SetChildHealthCallback(f func(name string, healthy bool, message string)) {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	m.onChildHealth = f
}

// ChildHealth returns a point-in-time snapshot of every networked child's
// probe status.
func (m *CompositeManager) ChildHealth() map[string]health.Status {
	m.healthMu.RLock()
	defer m.healthMu.RUnlock()
	out := make(map[string]health.Status, len(m.childHealth))
	for name, s := range m.childHealth {
		out[name] = *s
	}
	return out
}

func (m *CompositeManager) monitorChildren() {
	defer m.monitorWG.Done()
	if len(m.childHealth) == 0 {
		return
	}
	ticker := time.NewTicker(m.healthCfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopMonitor:
			return
		case <-ticker.C:
			m.probeChildren()
		}
	}
}

func (m *CompositeManager) probeChildren() {
	for childName, child := range m.children {
		if child.Addr() == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.healthCfg.Timeout)
		checker := health.NewTCPChecker(child.Addr()).WithTimeout(m.healthCfg.Timeout)
		result := checker.Check(ctx)
		cancel()

		m.healthMu.Lock()
		status, ok := m.childHealth[childName]
		if !ok {
			status = health.NewStatus()
			m.childHealth[childName] = status
		}
		wasHealthy := status.Healthy
		status.Update(result, m.healthCfg)
		nowHealthy := status.Healthy
		cb := m.onChildHealth
		m.healthMu.Unlock()

		if cb != nil && wasHealthy != nowHealthy {
			cb(childName, nowHealthy, result.Message)
		}
		if !nowHealthy && wasHealthy {
			log.WithComponent("composite").Warn().Str("child", childName).Str("message", result.Message).Msg("composite child marked unhealthy")
		}
	}
}

func (m *CompositeManager) Addr() string { return m.addr }

func (m *CompositeManager) getSession(sessionID string) (*compositeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("composite session %s: %w: not found", sessionID, types.ErrInvalidArgument)
	}
	return sess, nil
}

// CreateSession fans out to every child, joining every failure so a
// caller sees every partition that rejected the session, not just the
// first (spec §4.6).
func (m *CompositeManager) CreateSession(sessionID string) error {
	var errs []error
	for name, child := range m.children {
		if err := child.CreateSession(sessionID); err != nil {
			errs = append(errs, fmt.Errorf("child %s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("composite create session %s: %w", sessionID, err)
	}
	m.mu.Lock()
	m.sessions[sessionID] = newCompositeSession()
	m.mu.Unlock()
	return nil
}

func (m *CompositeManager) DestroySession(sessionID string) error {
	var errs []error
	for name, child := range m.children {
		if err := child.DestroySession(sessionID); err != nil {
			errs = append(errs, fmt.Errorf("child %s: %w", name, err))
		}
	}
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("composite destroy session %s: %w", sessionID, err)
	}
	return nil
}

// AddGraphSpec partitions spec's DOs by DOSpec.Node and forwards each
// partition to its owning child. An edge whose producer and consumer sit
// in different partitions is recorded as a cross edge and wired at
// Deploy instead of here (spec §4.6). A child-container edge (EdgeChild)
// spanning partitions is rejected: a container DO's child aggregation
// assumes its children share the container's process (spec §4.3).
func (m *CompositeManager) AddGraphSpec(sessionID string, spec types.GraphSpec) error {
	sess, err := m.getSession(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	partitioned := make(map[string]types.GraphSpec)
	for _, doSpec := range spec.DOs {
		if doSpec.Node == "" {
			return fmt.Errorf("add graph spec %s: %w: %s/%s has no Node assignment", sessionID, types.ErrInvalidArgument, doSpec.OID, doSpec.UID)
		}
		if _, ok := m.children[doSpec.Node]; !ok {
			return fmt.Errorf("add graph spec %s: %w: unknown node %q", sessionID, types.ErrInvalidArgument, doSpec.Node)
		}
		g := partitioned[doSpec.Node]
		g.DOs = append(g.DOs, doSpec)
		partitioned[doSpec.Node] = g
		sess.owner[doSpec.UID] = doSpec.Node
		sess.oid[doSpec.UID] = doSpec.OID
	}

	for _, edge := range spec.Edges {
		producerNode := sess.owner[edge.ProducerUID]
		consumerNode := sess.owner[edge.ConsumerUID]
		if producerNode == "" || consumerNode == "" {
			return fmt.Errorf("add graph spec %s: %w: edge references an unplaced uid", sessionID, types.ErrInvalidArgument)
		}
		if producerNode == consumerNode {
			g := partitioned[producerNode]
			g.Edges = append(g.Edges, edge)
			partitioned[producerNode] = g
			continue
		}
		if edge.Kind == types.EdgeChild {
			return fmt.Errorf("add graph spec %s: %w: child edge %s->%s spans partitions %s/%s", sessionID, types.ErrInvalidArgument, edge.ProducerUID, edge.ConsumerUID, producerNode, consumerNode)
		}
		sess.crossEdge = append(sess.crossEdge, edge)
	}

	var errs []error
	for nodeName, g := range partitioned {
		if err := m.children[nodeName].AddGraphSpec(sessionID, g); err != nil {
			errs = append(errs, fmt.Errorf("child %s: %w", nodeName, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("composite add graph spec %s: %w", sessionID, err)
	}
	return nil
}

// Deploy deploys every child partition, then wires each recorded cross
// edge by registering a remote consumer on the producer's child and
// attaching a remote-producer stub on the consumer's child (spec §4.6).
func (m *CompositeManager) Deploy(sessionID string) error {
	sess, err := m.getSession(sessionID)
	if err != nil {
		return err
	}

	var errs []error
	for name, child := range m.children {
		if err := child.Deploy(sessionID); err != nil {
			errs = append(errs, fmt.Errorf("child %s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("composite deploy %s: %w", sessionID, err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, edge := range sess.crossEdge {
		producerNode := sess.owner[edge.ProducerUID]
		consumerNode := sess.owner[edge.ConsumerUID]
		producerChild := m.children[producerNode]
		consumerChild := m.children[consumerNode]

		if err := producerChild.RegisterRemoteConsumer(sessionID, edge.ProducerUID, consumerChild.Addr()); err != nil {
			return fmt.Errorf("composite deploy %s: register remote consumer %s on %s: %w", sessionID, edge.ProducerUID, producerNode, err)
		}
		if err := consumerChild.AttachRemoteProducer(sessionID, edge.ConsumerUID, sess.oid[edge.ProducerUID], edge.ProducerUID, producerChild.Addr(), edge.Kind); err != nil {
			return fmt.Errorf("composite deploy %s: attach remote producer %s on %s: %w", sessionID, edge.ProducerUID, consumerNode, err)
		}
		log.WithSession(sessionID).Info().
			Str("producer", edge.ProducerUID).Str("producer_node", producerNode).
			Str("consumer", edge.ConsumerUID).Str("consumer_node", consumerNode).
			Msg("wired cross-manager edge")
	}
	return nil
}

func (m *CompositeManager) childFor(sessionID, uid string) (Manager, error) {
	sess, err := m.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	nodeName, ok := sess.owner[uid]
	sess.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("composite %s/%s: %w: uid not placed", sessionID, uid, types.ErrInvalidArgument)
	}
	return m.children[nodeName], nil
}

func (m *CompositeManager) Trigger(sessionID, uid string, data []byte) error {
	child, err := m.childFor(sessionID, uid)
	if err != nil {
		return err
	}
	return child.Trigger(sessionID, uid, data)
}

func (m *CompositeManager) SetCompleted(sessionID, uid string) error {
	child, err := m.childFor(sessionID, uid)
	if err != nil {
		return err
	}
	return child.SetCompleted(sessionID, uid)
}

func (m *CompositeManager) ReadAll(sessionID, uid string) ([]byte, error) {
	child, err := m.childFor(sessionID, uid)
	if err != nil {
		return nil, err
	}
	return child.ReadAll(sessionID, uid)
}

func (m *CompositeManager) Cancel(sessionID, uid string) error {
	child, err := m.childFor(sessionID, uid)
	if err != nil {
		return err
	}
	return child.Cancel(sessionID, uid)
}

func (m *CompositeManager) Notify(sessionID, uid string, status types.Status) error {
	child, err := m.childFor(sessionID, uid)
	if err != nil {
		return err
	}
	return child.Notify(sessionID, uid, status)
}

// GetStatus aggregates every child's report for sessionID into one
// ordered list (spec §4.6).
func (m *CompositeManager) GetStatus(sessionID string) ([]types.StatusReport, error) {
	if _, err := m.getSession(sessionID); err != nil {
		return nil, err
	}
	var all []types.StatusReport
	for name, child := range m.children {
		reports, err := child.GetStatus(sessionID)
		if err != nil {
			return nil, fmt.Errorf("composite get status %s: child %s: %w", sessionID, name, err)
		}
		all = append(all, reports...)
	}
	return all, nil
}

// RegisterRemoteConsumer and AttachRemoteProducer let a CompositeManager
// itself be nested as a child of a higher Composite Manager tier (spec
// §1's Island -> Master composition): both delegate to the partition
// that actually owns the uid in question.
func (m *CompositeManager) RegisterRemoteConsumer(sessionID, producerUID, consumerCallbackAddr string) error {
	child, err := m.childFor(sessionID, producerUID)
	if err != nil {
		return err
	}
	return child.RegisterRemoteConsumer(sessionID, producerUID, consumerCallbackAddr)
}

func (m *CompositeManager) AttachRemoteProducer(sessionID, consumerUID, remoteOID, remoteUID, remoteAddr string, kind types.ConsumerKind) error {
	child, err := m.childFor(sessionID, consumerUID)
	if err != nil {
		return err
	}
	return child.AttachRemoteProducer(sessionID, consumerUID, remoteOID, remoteUID, remoteAddr, kind)
}

func (m *CompositeManager) Shutdown() error {
	close(m.stopMonitor)
	m.monitorWG.Wait()
	var errs []error
	for name, child := range m.children {
		if err := child.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("child %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
