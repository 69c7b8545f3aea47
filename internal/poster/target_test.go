package poster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetApply(t *testing.T) {
	var rendered []Resolution
	target := NewTarget("cell-1", func(_ *Target, _ *Image, res Resolution) {
		rendered = append(rendered, res)
	})
	img := &Image{}

	assert.Equal(t, StateEmpty, target.State())

	generation := target.bind(42)
	assert.Equal(t, 42, target.MovieID())

	assert.True(t, target.apply(generation, img, Thumbnail))
	assert.Equal(t, StateThumbnail, target.State())

	assert.True(t, target.apply(generation, img, Full))
	assert.Equal(t, StateFull, target.State())

	// A late thumbnail never replaces the full image.
	assert.False(t, target.apply(generation, img, Thumbnail))
	assert.Equal(t, StateFull, target.State())

	assert.Equal(t, []Resolution{Thumbnail, Full}, rendered)
}

func TestTargetBind(t *testing.T) {
	target := NewTarget("cell-1", nil)
	img := &Image{}

	first := target.bind(1)
	assert.True(t, target.apply(first, img, Full))

	// Rebinding to the same movie keeps the image and the results still in flight for it.
	second := target.bind(1)
	assert.Equal(t, first, second)
	assert.Equal(t, StateFull, target.State())
	assert.True(t, target.apply(first, img, Full))
	assert.False(t, target.apply(first, img, Thumbnail))

	// Rebinding to another movie empties the target.
	third := target.bind(2)
	assert.Equal(t, StateEmpty, target.State())
	assert.Equal(t, 2, target.MovieID())
	assert.False(t, target.apply(second, img, Full))
	assert.True(t, target.apply(third, img, Thumbnail))
	assert.Equal(t, StateThumbnail, target.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "empty", StateEmpty.String())
	assert.Equal(t, "thumbnail", StateThumbnail.String())
	assert.Equal(t, "full", StateFull.String())
}

func TestTargetBindBackToPreviousMovie(t *testing.T) {
	target := NewTarget("cell-1", nil)
	img := &Image{}

	first := target.bind(1)
	target.bind(2)
	third := target.bind(1)

	assert.NotEqual(t, first, third)
	assert.False(t, target.apply(first, img, Thumbnail), "results from an earlier binding are stale")
	assert.True(t, target.apply(third, img, Thumbnail))
}
