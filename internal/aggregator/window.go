package aggregator

import (
	"sync"

	"workout-engine/internal/models"
)

// DefaultWindowSize samples kept in memory per session
const DefaultWindowSize = 1000

// SampleWindow fixed-capacity FIFO of samples; the oldest is dropped when full
type SampleWindow struct {
	mu    sync.Mutex
	items []models.Sample
	head  int // index of the oldest item
	size  int
}

// NewSampleWindow creates a window holding at most capacity samples
func NewSampleWindow(capacity int) *SampleWindow {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &SampleWindow{items: make([]models.Sample, capacity)}
}

// Append adds samples in order, evicting the oldest as needed
func (w *SampleWindow) Append(samples ...models.Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	capacity := len(w.items)
	for _, s := range samples {
		if w.size < capacity {
			w.items[(w.head+w.size)%capacity] = s
			w.size++
			continue
		}
		w.items[w.head] = s
		w.head = (w.head + 1) % capacity
	}
}

// Items returns a copy, oldest first
func (w *SampleWindow) Items() []models.Sample {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]models.Sample, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.items[(w.head+i)%len(w.items)]
	}
	return out
}

// Len number of samples held
func (w *SampleWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Cap maximum number of samples held
func (w *SampleWindow) Cap() int {
	return len(w.items)
}

// Reset drops every sample
func (w *SampleWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.head = 0
	w.size = 0
}
