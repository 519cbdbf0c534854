package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCarousel_RotateMovesHeadToTail(t *testing.T) {
	c := NewCarousel([]string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"}, time.Minute)

	assert.Equal(t, []string{"b.jpg", "c.jpg", "d.jpg", "a.jpg"}, c.Rotate())
	assert.Equal(t, []string{"c.jpg", "d.jpg", "a.jpg", "b.jpg"}, c.Rotate())
	assert.Equal(t, []string{"d.jpg", "a.jpg", "b.jpg", "c.jpg"}, c.Rotate())
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"}, c.Rotate())
}

func TestCarousel_ShortListsAreStable(t *testing.T) {
	assert.Equal(t, []string{"only.jpg"}, NewCarousel([]string{"only.jpg"}, time.Minute).Rotate())
	assert.Empty(t, NewCarousel(nil, time.Minute).Rotate())
}

func TestCarousel_StartAndStop(t *testing.T) {
	c := NewCarousel([]string{"a.jpg", "b.jpg"}, 5*time.Millisecond)

	var mu sync.Mutex
	var ticks int
	c.Start(func(order []string) {
		mu.Lock()
		ticks++
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 2
	}, time.Second, time.Millisecond)

	c.Stop()
	mu.Lock()
	stopped := ticks
	mu.Unlock()

	// No further ticks after teardown.
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.LessOrEqual(t, ticks, stopped+1)
	mu.Unlock()

	c.Stop() // idempotent
}

func TestCarousel_SetImagesReplacesOrder(t *testing.T) {
	c := NewCarousel([]string{"a.jpg"}, time.Minute)
	c.SetImages([]string{"x.jpg", "y.jpg"})
	assert.Equal(t, []string{"y.jpg", "x.jpg"}, c.Rotate())
}
