package metrics

import "sync"

// DefaultBufferCapacity is the default maximum number of data points.
const DefaultBufferCapacity = 512

// CircularBuffer is a fixed-size ring buffer for DataPoints.
// It is thread-safe and evicts the oldest entry when full.
type CircularBuffer struct {
	data     []DataPoint
	capacity int
	head     int // Next write position
	size     int // Current element count
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new CircularBuffer with the specified capacity.
func NewCircularBuffer(capacity int) *CircularBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &CircularBuffer{
		data:     make([]DataPoint, capacity),
		capacity: capacity,
	}
}

// Push adds a new data point, evicting the oldest if at capacity.
// Invalid points are dropped.
func (b *CircularBuffer) Push(dp DataPoint) {
	if !dp.IsValid() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[b.head] = dp
	b.head = (b.head + 1) % b.capacity

	if b.size < b.capacity {
		b.size++
	}
}

// GetRecent returns the n most recent data points in chronological order.
func (b *CircularBuffer) GetRecent(n int) []DataPoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || b.size == 0 {
		return nil
	}
	if n > b.size {
		n = b.size
	}

	result := make([]DataPoint, n)
	start := (b.head - n + b.capacity) % b.capacity
	for i := 0; i < n; i++ {
		result[i] = b.data[(start+i)%b.capacity]
	}
	return result
}

// Latest returns the most recent data point.
// Returns zero DataPoint and false if buffer is empty.
func (b *CircularBuffer) Latest() (DataPoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return DataPoint{}, false
	}
	return b.data[(b.head-1+b.capacity)%b.capacity], true
}

// Len returns the current number of elements in the buffer.
func (b *CircularBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the capacity of the buffer.
func (b *CircularBuffer) Cap() int {
	return b.capacity
}
