package consumer

import (
	"sync"

	"github.com/cuemby/dfms/pkg/do"
	"github.com/cuemby/dfms/pkg/types"
)

// LastChar is an immediate application consumer that tracks the final
// byte of the most recent write it has observed (spec §8 S7). The
// producer's bytes are not copied through self on every write — only
// Last() is updated synchronously — because the scenario only asks for
// "B's last-char" after each write, not B's accumulated content; the
// running value is written through to self's own backend once, when the
// producer completes, so B still advances WRITING -> COMPLETED the same
// way any other consumer does.
type LastChar struct {
	mu   sync.Mutex
	last byte
	seen bool
}

func (l *LastChar) AppInitialize(self *do.DataObject, opts []types.Option) error { return nil }

func (l *LastChar) Consume(self *do.DataObject, producer *do.DataObject, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	l.mu.Lock()
	l.last = data[len(data)-1]
	l.seen = true
	l.mu.Unlock()
	return nil
}

// Last returns the most recent byte observed, or (0, false) if none yet.
func (l *LastChar) Last() (byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.seen
}

func (l *LastChar) ConsumptionCompleted(self *do.DataObject, producer *do.DataObject) error {
	l.mu.Lock()
	b, seen := l.last, l.seen
	l.mu.Unlock()
	if seen {
		if _, err := self.Write([]byte{b}); err != nil {
			return err
		}
	}
	return self.SetCompleted()
}
