package storage

import (
	"testing"

	"github.com/cuemby/dfms/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestBoltStoreSessionLifecycle(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateSession("sess-1"))
	ids, err := store.ListSessions()
	require.NoError(t, err)
	require.Equal(t, []string{"sess-1"}, ids)

	spec := types.GraphSpec{
		DOs: []types.DOSpec{{OID: "A", UID: "uid:A", Backend: types.BackendMemory}},
	}
	require.NoError(t, store.AddGraphSpec("sess-1", spec))

	specs, err := store.GraphSpecs("sess-1")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "A", specs[0].DOs[0].OID)

	require.Error(t, store.AddGraphSpec("missing", spec))

	require.NoError(t, store.DeleteSession("sess-1"))
	ids, err = store.ListSessions()
	require.NoError(t, err)
	require.Empty(t, ids)
}
