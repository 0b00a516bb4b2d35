package navigation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/render"
)

type Renderer interface {
	Render(ctx context.Context, key string, onPage func(render.Progress)) (*render.Sequence, error)
}

type Prefetcher interface {
	ScheduleNeighbors(next, prev []string) int
}

// Controller is the state of one viewer: the active view and the document
// open in it. Opening a document cancels the render of the one before it.
type Controller struct {
	renderer Renderer
	prefetch Prefetcher
	ahead    int
	behind   int
	logger   *slog.Logger

	mu      sync.Mutex
	view    *View
	current string
	cancel  context.CancelFunc
	gen     uint64
}

// NewController creates a controller over view. prefetch may be nil.
func NewController(view *View, r Renderer, prefetch Prefetcher, ahead, behind int) *Controller {
	if view == nil {
		view = BuildView(nil, Filter{}, Sort{}, nil)
	}
	return &Controller{
		renderer: r,
		prefetch: prefetch,
		ahead:    ahead,
		behind:   behind,
		view:     view,
		logger:   slog.Default().With("component", "navigation"),
	}
}

// SetView replaces the view. The open document stays open even if the new
// view no longer contains it.
func (c *Controller) SetView(v *View) {
	c.mu.Lock()
	c.view = v
	c.mu.Unlock()
}

func (c *Controller) View() *View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Current returns the open document key.
func (c *Controller) Current() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != ""
}

// Position returns where the open document sits in the view.
func (c *Controller) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return Position{Index: -1, Total: c.view.Len()}
	}
	return c.view.Position(c.current)
}

// Open makes key the open document and renders it. Once it has loaded, and
// provided nothing else was opened meanwhile, neighbors in the view are
// scheduled for prefetch.
func (c *Controller) Open(ctx context.Context, key string, onPage func(render.Progress)) (*render.Sequence, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	rctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.current = key
	c.gen++
	gen := c.gen
	view := c.view
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		if c.gen == gen {
			c.cancel = nil
		}
		c.mu.Unlock()
	}()

	seq, err := c.renderer.Render(rctx, key, onPage)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	stillOpen := c.gen == gen
	c.mu.Unlock()
	if stillOpen && c.prefetch != nil {
		n := c.prefetch.ScheduleNeighbors(view.Upcoming(key, c.ahead), view.Preceding(key, c.behind))
		if n > 0 {
			c.logger.Debug("scheduled neighbor prefetch", "key", key, "count", n)
		}
	}
	return seq, nil
}

// Apply performs a navigation action. Prev and Next at the ends of the view
// are no-ops and return a nil sequence.
func (c *Controller) Apply(ctx context.Context, a Action, onPage func(render.Progress)) (*render.Sequence, error) {
	switch a {
	case ActionPrev, ActionNext:
		pos := c.Position()
		target := pos.Next
		if a == ActionPrev {
			target = pos.Prev
		}
		if pos.Index < 0 || target == "" {
			return nil, nil
		}
		return c.Open(ctx, target, onPage)
	case ActionClose:
		c.Close()
	}
	return nil, nil
}

// Close cancels any running render and clears the open document.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.current = ""
	c.gen++
}
