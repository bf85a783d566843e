package do

import (
	"fmt"

	"github.com/cuemby/dfms/pkg/events"
	"github.com/cuemby/dfms/pkg/types"
)

// AddChild wires child into this container DO (spec §4.3 "Container
// DOs"): child.parent becomes a weak, non-owning back-reference, and this
// container subscribes to the child's status-change events so it can
// notice when every child reaches COMPLETED. d must have been constructed
// with a nil Backend.
func (d *DataObject) AddChild(child *DataObject) error {
	d.mu.Lock()
	if d.backend != nil {
		d.mu.Unlock()
		return fmt.Errorf("add child %s: %w: not a container DO", child.uid, types.ErrInvalidArgument)
	}
	d.children = append(d.children, child)
	d.mu.Unlock()

	child.mu.Lock()
	child.parent = d
	child.mu.Unlock()

	child.childSub = d.bc.Subscribe(events.StatusChange, child.uid, func(e events.Event) {
		if types.Status(e.Status) == types.StatusCompleted {
			d.onChildCompleted()
		}
	})
	return nil
}

// Children returns this container's ordered child list.
func (d *DataObject) Children() []*DataObject {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*DataObject(nil), d.children...)
}

// Parent returns the owning container, or nil if this DO has none. The
// reference is a lookup-only back-pointer; the parent does not own this
// DO's bytes.
func (d *DataObject) Parent() *DataObject {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parent
}

func (d *DataObject) onChildCompleted() {
	d.mu.Lock()
	if d.status == types.StatusCompleted || d.status == types.StatusCancelled || d.status == types.StatusExpired {
		d.mu.Unlock()
		return
	}
	allDone := true
	for _, c := range d.children {
		if c.Status() != types.StatusCompleted {
			allDone = false
			break
		}
	}
	if !allDone {
		d.mu.Unlock()
		return
	}
	d.status = types.StatusCompleted
	deferred := append([]*DataObject(nil), d.consumers...)
	immediate := append([]*DataObject(nil), d.immediateConsumers...)
	mode := d.executionMode
	d.mu.Unlock()

	d.fireCompletionConsequences(deferred, immediate, mode)
}

// WriteChild is a convenience a ContainerStage's Run uses to write into
// one of its own children by index (spec §4.3 rule 4: "a container
// application consumer... writes into self._children[i]").
func (d *DataObject) WriteChild(i int, p []byte) (int, error) {
	children := d.Children()
	if i < 0 || i >= len(children) {
		return 0, fmt.Errorf("write child %d: %w: index out of range", i, types.ErrInvalidArgument)
	}
	return children[i].Write(p)
}
