package render

import "context"

// Stream is a finite single-consumer view of one render. Progress is closed
// when the render ends; Err and Sequence are valid after that.
type Stream struct {
	Progress <-chan Progress

	done chan struct{}
	seq  *Sequence
	err  error
}

// Stream starts rendering key in the background. The consumer must drain
// Progress or cancel ctx.
func (s *Service) Stream(ctx context.Context, key string) *Stream {
	ch := make(chan Progress)
	st := &Stream{Progress: ch, done: make(chan struct{})}
	go func() {
		defer close(st.done)
		defer close(ch)
		st.seq, st.err = s.Render(ctx, key, func(p Progress) {
			select {
			case ch <- p:
			case <-ctx.Done():
			}
		})
	}()
	return st
}

// Err returns the render error once Progress is closed.
func (st *Stream) Err() error {
	<-st.done
	return st.err
}

func (st *Stream) Sequence() *Sequence {
	<-st.done
	return st.seq
}
