package render

import "sync"

// call is one in-flight render attempt shared by its leader and any
// followers that asked for the same key while it ran.
type call struct {
	mu       sync.Mutex
	progress []Progress
	changed  chan struct{}
	done     chan struct{}

	seq       *Sequence
	err       error
	abandoned bool
}

func newCall() *call {
	return &call{
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *call) publish(p Progress) {
	c.mu.Lock()
	c.progress = append(c.progress, p)
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// since returns progress after the first n entries and the channel that
// will close on the next publish.
func (c *call) since(n int) ([]Progress, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress[n:], c.changed
}

// finish records the outcome. abandoned marks an attempt that stopped
// because its leader went away, not because the document failed.
func (c *call) finish(seq *Sequence, err error, abandoned bool) {
	c.mu.Lock()
	c.seq, c.err, c.abandoned = seq, err, abandoned
	c.mu.Unlock()
	close(c.done)
}

func (c *call) result() (*Sequence, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, c.err, c.abandoned
}
