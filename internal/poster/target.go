package poster

import (
	"sync"
	"sync/atomic"
)

// State is what a Target currently displays.
type State int

const (
	// StateEmpty means nothing has been rendered for the bound movie.
	StateEmpty State = iota
	// StateThumbnail means the low resolution poster is rendered.
	StateThumbnail
	// StateFull means the high resolution poster is rendered. It is final until the target is rebound.
	StateFull
)

func (s State) String() string {
	switch s {
	case StateThumbnail:
		return "thumbnail"
	case StateFull:
		return "full"
	default:
		return "empty"
	}
}

// RenderFunc receives every image applied to a target. It runs while the target is locked,
// so it must not call back into the target, except for ID and MovieID.
type RenderFunc func(t *Target, img *Image, res Resolution)

// Target is a render destination, such as a view that may be recycled for another movie.
// Results are stamped with the generation of the movie binding that requested them, so results
// for a previous movie are discarded, and a full resolution result is never replaced by a thumbnail.
type Target struct {
	id     string
	render RenderFunc

	mu         sync.Mutex
	generation uint64
	state      State

	movieID atomic.Int64
}

// NewTarget creates an empty target identified by id.
func NewTarget(id string, render RenderFunc) *Target {
	return &Target{
		id:     id,
		render: render,
	}
}

// ID returns the target identifier.
func (t *Target) ID() string {
	return t.id
}

// State returns what the target displays.
func (t *Target) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// MovieID returns the movie the target is bound to, zero if none.
func (t *Target) MovieID() int {
	return int(t.movieID.Load())
}

// bind assigns the target to a movie and returns the generation stamp for its results.
// Binding again to the same movie keeps the generation, so results already in flight for it
// still render, and keeps what is rendered.
func (t *Target) bind(movieID int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.generation == 0 || t.MovieID() != movieID {
		t.generation++
		t.movieID.Store(int64(movieID))
		t.state = StateEmpty
	}

	return t.generation
}

// apply renders img if it still belongs to the current binding and doesn't downgrade the target.
// It reports whether img was rendered.
func (t *Target) apply(generation uint64, img *Image, res Resolution) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if generation != t.generation {
		return false
	}
	next := StateThumbnail
	if res == Full {
		next = StateFull
	}
	if next < t.state {
		return false
	}
	t.state = next

	if t.render != nil {
		t.render(t, img, res)
	}

	return true
}
