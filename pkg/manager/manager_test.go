package manager

import (
	"testing"

	"github.com/cuemby/dfms/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *NodeManager {
	t.Helper()
	m, err := NewNodeManager(Config{Name: "n1"})
	require.NoError(t, err)
	return m
}

func simpleGraph() types.GraphSpec {
	return types.GraphSpec{
		DOs: []types.DOSpec{
			{OID: "A", UID: "uid:A", Backend: types.BackendMemory},
			{OID: "B", UID: "uid:B", Backend: types.BackendMemory, Stage: "crc"},
		},
		Edges: []types.EdgeSpec{
			{ProducerUID: "uid:A", ConsumerUID: "uid:B", Kind: types.EdgeConsumer},
		},
	}
}

func TestNodeManagerDeployAndTrigger(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))
	require.NoError(t, m.AddGraphSpec("s1", simpleGraph()))
	require.NoError(t, m.Deploy("s1"))

	require.NoError(t, m.Trigger("s1", "uid:A", []byte("hello")))
	require.NoError(t, m.SetCompleted("s1", "uid:A"))

	reports, err := m.GetStatus("s1")
	require.NoError(t, err)
	require.Len(t, reports, 2)

	b, err := m.ReadAll("s1", "uid:B")
	require.NoError(t, err)
	require.NotEmpty(t, b)
}

func TestNodeManagerCreateSessionTwiceFails(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))
	require.ErrorIs(t, m.CreateSession("s1"), types.ErrInvalidArgument)
}

func TestNodeManagerAddGraphSpecIdempotentOnRepeatUID(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))
	g := simpleGraph()
	require.NoError(t, m.AddGraphSpec("s1", g))
	require.NoError(t, m.AddGraphSpec("s1", g)) // repeat uid is a no-op, not an error

	reports, err := m.GetStatus("s1")
	require.NoError(t, err)
	require.Len(t, reports, 2, "re-adding the same DOs must not duplicate them")
}

func TestNodeManagerDeployRejectsCycle(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))
	g := types.GraphSpec{
		DOs: []types.DOSpec{
			{OID: "A", UID: "uid:A", Backend: types.BackendMemory},
			{OID: "B", UID: "uid:B", Backend: types.BackendMemory},
		},
		Edges: []types.EdgeSpec{
			{ProducerUID: "uid:A", ConsumerUID: "uid:B", Kind: types.EdgeConsumer},
			{ProducerUID: "uid:B", ConsumerUID: "uid:A", Kind: types.EdgeConsumer},
		},
	}
	require.NoError(t, m.AddGraphSpec("s1", g))
	require.ErrorIs(t, m.Deploy("s1"), types.ErrInvalidArgument)
}

func TestNodeManagerDeployUnknownUIDFails(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))
	g := types.GraphSpec{
		DOs:   []types.DOSpec{{OID: "A", UID: "uid:A", Backend: types.BackendMemory}},
		Edges: []types.EdgeSpec{{ProducerUID: "uid:A", ConsumerUID: "uid:missing", Kind: types.EdgeConsumer}},
	}
	require.NoError(t, m.AddGraphSpec("s1", g))
	require.ErrorIs(t, m.Deploy("s1"), types.ErrInvalidArgument)
}

func TestNodeManagerNotifyIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))
	require.NoError(t, m.AddGraphSpec("s1", types.GraphSpec{
		DOs: []types.DOSpec{{OID: "A", UID: "uid:A", Backend: types.BackendMemory}},
	}))
	require.NoError(t, m.Deploy("s1"))

	require.NoError(t, m.Notify("s1", "uid:A", types.StatusCompleted))
	// A repeat COMPLETED notify is a success no-op, unlike local SetCompleted.
	require.NoError(t, m.Notify("s1", "uid:A", types.StatusCompleted))
}

func TestNodeManagerSetCompletedTwiceFailsLocally(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))
	require.NoError(t, m.AddGraphSpec("s1", types.GraphSpec{
		DOs: []types.DOSpec{{OID: "A", UID: "uid:A", Backend: types.BackendMemory}},
	}))
	require.NoError(t, m.Deploy("s1"))

	require.NoError(t, m.SetCompleted("s1", "uid:A"))
	require.ErrorIs(t, m.SetCompleted("s1", "uid:A"), types.ErrInvalidState)
}

func TestNodeManagerDestroySessionWithContainerRemovesSession(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))
	g := types.GraphSpec{
		DOs: []types.DOSpec{
			{OID: "C", UID: "uid:C"},
			{OID: "D1", UID: "uid:D1", Backend: types.BackendMemory},
		},
		Edges: []types.EdgeSpec{
			{ProducerUID: "uid:C", ConsumerUID: "uid:D1", Kind: types.EdgeChild},
		},
	}
	require.NoError(t, m.AddGraphSpec("s1", g))
	require.NoError(t, m.Deploy("s1"))
	require.NoError(t, m.DestroySession("s1"))

	_, err := m.GetStatus("s1")
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestNodeManagerUnknownSessionFails(t *testing.T) {
	m := newTestManager(t)
	require.ErrorIs(t, m.AddGraphSpec("missing", simpleGraph()), types.ErrInvalidArgument)
	require.ErrorIs(t, m.Deploy("missing"), types.ErrInvalidArgument)
	require.ErrorIs(t, m.Trigger("missing", "uid:A", nil), types.ErrInvalidArgument)
}
