package consumer

import (
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/cuemby/dfms/pkg/do"
	"github.com/cuemby/dfms/pkg/events"
	"github.com/cuemby/dfms/pkg/ioback"
	"github.com/cuemby/dfms/pkg/types"
	"github.com/stretchr/testify/require"
)

func memDO(oid, uid string, bc events.Broadcaster, stage do.Stage) *do.DataObject {
	return do.New(do.Config{
		OID:         oid,
		UID:         uid,
		Backend:     ioback.NewMemory(0),
		Broadcaster: bc,
		Stage:       stage,
	})
}

// S1: chained CRC, producer A -> consumer B.
func TestCRCChain(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()

	a := memDO("A", "uid:A", bc, nil)
	b := memDO("B", "uid:B", bc, &CRC{})
	require.NoError(t, a.AddConsumer(b))

	for i := 0; i < 8; i++ {
		_, err := a.Write([]byte(fmt.Sprintf("chunk-%d-", i)))
		require.NoError(t, err)
	}
	require.NoError(t, a.SetCompleted())

	require.Equal(t, types.StatusCompleted, b.Status())
	aChecksum := a.Checksum()
	require.NotNil(t, aChecksum)

	bContent, err := b.ReadAll()
	require.NoError(t, err)
	got, err := strconv.ParseUint(string(bContent), 10, 32)
	require.NoError(t, err)
	require.Equal(t, uint64(*aChecksum), got)
}

// S2: three A_i -> three B_i (CRC) -> container C -> SumUp consumer D.
func TestJoinSumUp(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()

	c := do.New(do.Config{OID: "C", UID: "uid:C", Broadcaster: bc})
	d := memDO("D", "uid:D", bc, &SumUp{})
	require.NoError(t, c.AddConsumer(d))

	// Wire the whole graph before any producer runs: the container
	// completes as soon as every child it has so far is COMPLETED.
	var as, bs []*do.DataObject
	for i := 0; i < 3; i++ {
		a := memDO(fmt.Sprintf("A%d", i), fmt.Sprintf("uid:A%d", i), bc, nil)
		b := memDO(fmt.Sprintf("B%d", i), fmt.Sprintf("uid:B%d", i), bc, &CRC{})
		require.NoError(t, a.AddConsumer(b))
		require.NoError(t, c.AddChild(b))
		as = append(as, a)
		bs = append(bs, b)
	}
	for i, a := range as {
		_, err := a.Write([]byte(fmt.Sprintf("payload-%d", i)))
		require.NoError(t, err)
		require.NoError(t, a.SetCompleted())
	}

	require.Equal(t, types.StatusCompleted, c.Status())
	require.Equal(t, types.StatusCompleted, d.Status())

	var want uint64
	for _, b := range bs {
		cs := b.Checksum()
		require.NotNil(t, cs)
		want += uint64(*cs)
	}
	require.Greater(t, want, uint64(0))

	dContent, err := d.ReadAll()
	require.NoError(t, err)
	got, err := strconv.ParseUint(string(dContent), 10, 64)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// S3: A -> grep("a") -> sort -> reverse-words.
func TestTextPipeline(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()

	a := memDO("A", "uid:A", bc, nil)
	g := &Grep{}
	require.NoError(t, g.AppInitialize(nil, []types.Option{{Name: "pattern", Value: "a"}}))
	bDO := memDO("B", "uid:B", bc, g)
	cDO := memDO("C", "uid:C", bc, &Sort{})
	dDO := memDO("D", "uid:D", bc, &ReverseWords{})

	require.NoError(t, a.AddConsumer(bDO))
	require.NoError(t, bDO.AddConsumer(cDO))
	require.NoError(t, cDO.AddConsumer(dDO))

	text := "first line\nwe have an a here\nand another one\nnoone knows me"
	_, err := a.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, a.SetCompleted())

	bContent, _ := bDO.ReadAll()
	require.Equal(t, "we have an a here\nand another one\n", string(bContent))

	cContent, _ := cDO.ReadAll()
	require.Equal(t, "and another one\nwe have an a here\n", string(cContent))

	dContent, _ := dDO.ReadAll()
	require.Equal(t, "dna rehtona eno\new evah na a ereh\n", string(dContent))
}

// S4: A -> NumberWriter B -> ContainerApp C routing to children D, E.
func TestContainerRouter(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()

	a := memDO("A", "uid:A", bc, nil)
	b := memDO("B", "uid:B", bc, &NumberWriter{})
	c := do.New(do.Config{OID: "C", UID: "uid:C", Broadcaster: bc, Stage: &EvenOddRouter{}})
	dEvens := memDO("D", "uid:D", bc, nil)
	eOdds := memDO("E", "uid:E", bc, nil)

	require.NoError(t, c.AddChild(dEvens))
	require.NoError(t, c.AddChild(eOdds))
	require.NoError(t, a.AddConsumer(b))
	require.NoError(t, b.AddConsumer(c))

	_, err := a.Write([]byte("20"))
	require.NoError(t, err)
	require.NoError(t, a.SetCompleted())

	for _, target := range []*do.DataObject{a, b, c, dEvens, eOdds} {
		require.Equal(t, types.StatusCompleted, target.Status())
	}

	dContent, _ := dEvens.ReadAll()
	require.Equal(t, "0 2 4 6 8 10 12 14 16 18", string(dContent))
	eContent, _ := eOdds.ReadAll()
	require.Equal(t, "1 3 5 7 9 11 13 15 17 19", string(eContent))
}

// S7: A with immediate consumer B (last char) and deferred consumer C (CRC).
func TestImmediateAndDeferredDisjoint(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()

	a := memDO("A", "uid:A", bc, nil)
	lc := &LastChar{}
	b := memDO("B", "uid:B", bc, lc)
	c := memDO("C", "uid:C", bc, &CRC{})

	require.NoError(t, a.AddImmediateConsumer(b))
	require.NoError(t, a.AddConsumer(c))

	require.Error(t, a.AddConsumer(b))
	require.Error(t, a.AddImmediateConsumer(c))

	_, err := a.Write([]byte("abcde"))
	require.NoError(t, err)
	last, ok := lc.Last()
	require.True(t, ok)
	require.Equal(t, byte('e'), last)
	require.Equal(t, types.StatusInitialized, c.Status())

	_, err = a.Write([]byte("fghij"))
	require.NoError(t, err)
	last, _ = lc.Last()
	require.Equal(t, byte('j'), last)

	_, err = a.Write([]byte("k"))
	require.NoError(t, err)
	last, _ = lc.Last()
	require.Equal(t, byte('k'), last)
	require.Equal(t, types.StatusInitialized, c.Status())

	require.NoError(t, a.SetCompleted())
	require.Equal(t, types.StatusCompleted, b.Status())
	require.Equal(t, types.StatusCompleted, c.Status())
}

// S5: socket-listener DO A, client sends data and disconnects -> CRC
// consumer B.
func TestSocketListenerToCRC(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()

	sl, err := ioback.NewSocketListener("127.0.0.1:0")
	require.NoError(t, err)
	addr := sl.Addr()

	a := do.New(do.Config{OID: "A", UID: "uid:A", Backend: sl, Broadcaster: bc})
	b := memDO("B", "uid:B", bc, &CRC{})
	require.NoError(t, a.AddConsumer(b))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	data := []byte("shine on you crazy diamond")
	_, err = conn.Write(data)
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return a.Status() == types.StatusCompleted && b.Status() == types.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	aContent, err := a.ReadAll()
	require.NoError(t, err)
	require.Equal(t, data, aContent)

	bContent, err := b.ReadAll()
	require.NoError(t, err)
	got, err := strconv.ParseUint(string(bContent), 10, 32)
	require.NoError(t, err)
	aChecksum := a.Checksum()
	require.NotNil(t, aChecksum)
	require.Equal(t, uint64(*aChecksum), got)
}
