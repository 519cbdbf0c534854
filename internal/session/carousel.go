package session

import (
	"sync"
	"time"
)

// DefaultRotationInterval matches the gallery's fixed rotation period.
const DefaultRotationInterval = 3 * time.Second

// Carousel auto-rotates a display list on a fixed interval, moving the head
// image to the tail each tick. The timer must be stopped when the owning view
// goes away so it cannot keep mutating torn-down state.
type Carousel struct {
	mu       sync.Mutex
	images   []string
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

func NewCarousel(images []string, interval time.Duration) *Carousel {
	if interval <= 0 {
		interval = DefaultRotationInterval
	}
	return &Carousel{
		images:   append([]string(nil), images...),
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Rotate performs one deterministic tick: images[1..N-1] + images[0]. Lists
// with fewer than two entries are left alone.
func (c *Carousel) Rotate() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.images) > 1 {
		head := c.images[0]
		c.images = append(c.images[1:], head)
	}
	return append([]string(nil), c.images...)
}

// Images returns the current display order.
func (c *Carousel) Images() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.images...)
}

// SetImages replaces the display list, e.g. after a fresh /get-images fetch.
func (c *Carousel) SetImages(images []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = append([]string(nil), images...)
}

// Start begins rotating on the interval, invoking onRotate with each new
// order. It returns immediately; Stop ends the timer.
func (c *Carousel) Start(onRotate func([]string)) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				order := c.Rotate()
				if onRotate != nil {
					onRotate(order)
				}
			}
		}
	}()
}

// Stop cancels the rotation timer. Safe to call more than once.
func (c *Carousel) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
