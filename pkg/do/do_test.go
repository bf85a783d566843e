package do

import (
	"testing"

	"github.com/cuemby/dfms/pkg/events"
	"github.com/cuemby/dfms/pkg/ioback"
	"github.com/cuemby/dfms/pkg/types"
	"github.com/stretchr/testify/require"
)

func newMemDO(oid, uid string, bc events.Broadcaster, expectedSize int64, mode types.ExecutionMode) *DataObject {
	return New(Config{
		OID:           oid,
		UID:           uid,
		Backend:       ioback.NewMemory(expectedSize),
		Broadcaster:   bc,
		ExpectedSize:  expectedSize,
		ExecutionMode: mode,
	})
}

func TestWriteReadRoundTrip(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()
	a := newMemDO("A", "uid:A", bc, 0, types.ModeDO)

	_, err := a.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = a.Write([]byte("world"))
	require.NoError(t, err)
	require.Equal(t, types.StatusWriting, a.Status())

	require.NoError(t, a.SetCompleted())
	require.Equal(t, types.StatusCompleted, a.Status())

	got, err := a.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))

	cs := a.Checksum()
	require.NotNil(t, cs)
	require.NotZero(t, *cs)
}

func TestReadWriteOutsideCompletedFails(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()
	a := newMemDO("A", "uid:A", bc, 0, types.ModeDO)

	_, err := a.Open()
	require.ErrorIs(t, err, types.ErrInvalidState)

	require.NoError(t, a.SetCompleted())
	_, err = a.Write([]byte("x"))
	require.ErrorIs(t, err, types.ErrInvalidState)
}

func TestUnknownTokenFails(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()
	a := newMemDO("A", "uid:A", bc, 0, types.ModeDO)
	require.NoError(t, a.SetCompleted())

	_, err := a.Read(ioback.Token(999), make([]byte, 1))
	require.ErrorIs(t, err, ioback.ErrUnknownToken)
	require.ErrorIs(t, a.Close(ioback.Token(999)), ioback.ErrUnknownToken)
}

func TestSetCompletedTwiceFailsLocally(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()
	a := newMemDO("A", "uid:A", bc, 0, types.ModeDO)
	require.NoError(t, a.SetCompleted())
	require.ErrorIs(t, a.SetCompleted(), types.ErrInvalidState)
}

func TestExpectedSizeAutoCompletes(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()
	a := newMemDO("A", "uid:A", bc, 5, types.ModeDO)

	_, err := a.Write([]byte("12345"))
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, a.Status())
}

// recorderStage is an ImmediateStage that records the last byte it saw
// (S7) and an appInitialize is a no-op.
type recorderStage struct {
	last byte
	seen int
}

func (r *recorderStage) AppInitialize(self *DataObject, opts []types.Option) error { return nil }

func (r *recorderStage) Consume(self *DataObject, producer *DataObject, data []byte) error {
	if len(data) > 0 {
		r.last = data[len(data)-1]
	}
	r.seen++
	return nil
}

func (r *recorderStage) ConsumptionCompleted(self *DataObject, producer *DataObject) error {
	return nil
}

// crcReaderStage is a DeferredStage that copies producer's checksum into
// its own content as 4 little-endian bytes (see decodeCRC), and is also
// used as the "consumer C" of S1/S7.
type crcReaderStage struct{}

func (crcReaderStage) AppInitialize(self *DataObject, opts []types.Option) error { return nil }

func (crcReaderStage) Run(self *DataObject, producer *DataObject) error {
	cs := producer.Checksum()
	val := uint32(0)
	if cs != nil {
		val = *cs
	}
	if _, err := self.Write([]byte{byte(val), byte(val >> 8), byte(val >> 16), byte(val >> 24)}); err != nil {
		return err
	}
	return self.SetCompleted()
}

func TestImmediateAndDeferredConsumersAreDisjoint(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()

	a := newMemDO("A", "uid:A", bc, 0, types.ModeDO)
	b := New(Config{OID: "B", UID: "uid:B", Backend: ioback.NewMemory(0), Broadcaster: bc, Stage: &recorderStage{}})
	c := New(Config{OID: "C", UID: "uid:C", Backend: ioback.NewMemory(0), Broadcaster: bc, Stage: crcReaderStage{}})

	require.NoError(t, a.AddImmediateConsumer(b))
	require.NoError(t, a.AddConsumer(c))

	require.ErrorIs(t, a.AddConsumer(b), types.ErrInvalidArgument)
	require.ErrorIs(t, a.AddImmediateConsumer(c), types.ErrInvalidArgument)

	_, err := a.Write([]byte("abcde"))
	require.NoError(t, err)
	require.Equal(t, types.StatusInitialized, c.Status(), "deferred consumer stays INITIALIZED until producer completes")

	require.NoError(t, a.SetCompleted())
	require.Equal(t, types.StatusCompleted, c.Status())
}

func TestExecutionModeExternal(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()

	a := newMemDO("A", "uid:A", bc, 1, types.ModeExternal)
	b := New(Config{OID: "B", UID: "uid:B", Backend: ioback.NewMemory(0), Broadcaster: bc, Stage: crcReaderStage{}})
	require.NoError(t, a.AddConsumer(b))

	_, err := a.Write([]byte("1"))
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, a.Status())
	require.Equal(t, types.StatusInitialized, b.Status(), "EXTERNAL mode must not auto-trigger deferred consumers")

	require.NoError(t, b.Consume(a))
	require.Equal(t, types.StatusCompleted, b.Status())
}

func TestContainerCompletesWhenAllChildrenComplete(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()

	container := New(Config{OID: "C", UID: "uid:C", Broadcaster: bc})
	d1 := newMemDO("D1", "uid:D1", bc, 0, types.ModeDO)
	d2 := newMemDO("D2", "uid:D2", bc, 0, types.ModeDO)
	require.NoError(t, container.AddChild(d1))
	require.NoError(t, container.AddChild(d2))

	_, err := container.Write([]byte("x"))
	require.ErrorIs(t, err, types.ErrInvalidState)

	_, _ = d1.Write([]byte("aa"))
	require.NoError(t, d1.SetCompleted())
	require.Equal(t, types.StatusInitialized, container.Status())

	_, _ = d2.Write([]byte("bbb"))
	require.NoError(t, d2.SetCompleted())
	require.Equal(t, types.StatusCompleted, container.Status())
	require.EqualValues(t, 5, container.Size())
	require.Nil(t, container.Checksum())
}

func TestCancelPropagates(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()

	a := newMemDO("A", "uid:A", bc, 0, types.ModeDO)
	b := New(Config{OID: "B", UID: "uid:B", Backend: ioback.NewMemory(0), Broadcaster: bc, Stage: crcReaderStage{}})
	require.NoError(t, a.AddConsumer(b))

	require.NoError(t, a.Cancel())
	require.Equal(t, types.StatusCancelled, a.Status())
	require.Equal(t, types.StatusCancelled, b.Status())
}

// TestChainedCRCConsumerIsItselfAValidProducer proves the A -> A's checksum
// -> A's checksum's checksum chain (SPEC_FULL.md §13): a CRC-reading
// deferred consumer DO is a fully ordinary DO once COMPLETED, so it can in
// turn be the producer for another deferred consumer, with no special
// casing anywhere in Consume/SetCompleted for "is this DO itself a
// consumer".
func TestChainedCRCConsumerIsItselfAValidProducer(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()

	a := newMemDO("A", "uid:A", bc, 0, types.ModeDO)
	b := New(Config{OID: "B", UID: "uid:B", Backend: ioback.NewMemory(0), Broadcaster: bc, Stage: crcReaderStage{}})
	c := New(Config{OID: "C", UID: "uid:C", Backend: ioback.NewMemory(0), Broadcaster: bc, Stage: crcReaderStage{}})

	require.NoError(t, a.AddConsumer(b))
	require.NoError(t, b.AddConsumer(c))

	_, err := a.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, a.SetCompleted())

	require.Equal(t, types.StatusCompleted, b.Status())
	require.Equal(t, types.StatusCompleted, c.Status())

	aChecksum := a.Checksum()
	require.NotNil(t, aChecksum)

	bContent, err := b.ReadAll()
	require.NoError(t, err)
	require.Equal(t, *aChecksum, decodeCRC(bContent))

	bChecksum := b.Checksum()
	require.NotNil(t, bChecksum)

	cContent, err := c.ReadAll()
	require.NoError(t, err)
	require.Equal(t, *bChecksum, decodeCRC(cContent))
}

func decodeCRC(p []byte) uint32 {
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

func TestSetSizeOutOfBand(t *testing.T) {
	bc := events.NewSync()
	defer bc.Close()
	mem := ioback.NewMemory(0)
	a := New(Config{OID: "A", UID: "uid:A", Backend: mem, Broadcaster: bc})

	require.NoError(t, a.SetSize(42))
	require.ErrorIs(t, a.SetSize(43), types.ErrInvalidState)
	require.Nil(t, a.Checksum(), "out-of-band size has no checksum")
	require.EqualValues(t, 42, a.Size())
}
