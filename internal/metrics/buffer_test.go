package metrics

import (
	"math"
	"sync"
	"testing"
	"time"
)

func values(points []DataPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

func TestCircularBuffer_Eviction(t *testing.T) {
	buf := NewCircularBuffer(3)

	for i := 1; i <= 4; i++ {
		buf.Push(NewDataPointAt(time.Now(), float64(i)))
	}

	if buf.Len() != 3 {
		t.Errorf("expected len 3 after eviction, got %d", buf.Len())
	}

	got := values(buf.GetRecent(3))
	expected := []float64{2.0, 3.0, 4.0}
	for i, v := range got {
		if v != expected[i] {
			t.Errorf("expected value[%d]=%f, got %f", i, expected[i], v)
		}
	}
}

func TestCircularBuffer_GetRecent(t *testing.T) {
	buf := NewCircularBuffer(5)

	for i := 1; i <= 5; i++ {
		buf.Push(NewDataPointAt(time.Now(), float64(i)))
	}

	recent := buf.GetRecent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(recent))
	}
	expected := []float64{3.0, 4.0, 5.0}
	for i, dp := range recent {
		if dp.Value != expected[i] {
			t.Errorf("expected value[%d]=%f, got %f", i, expected[i], dp.Value)
		}
	}

	if all := buf.GetRecent(10); len(all) != 5 {
		t.Errorf("expected 5 elements, got %d", len(all))
	}
	if none := buf.GetRecent(0); none != nil {
		t.Error("expected nil for zero request")
	}
}

func TestCircularBuffer_Latest(t *testing.T) {
	buf := NewCircularBuffer(2)

	if _, ok := buf.Latest(); ok {
		t.Error("expected no latest point in empty buffer")
	}

	buf.Push(NewDataPointAt(time.Now(), 1))
	buf.Push(NewDataPointAt(time.Now(), 2))
	buf.Push(NewDataPointAt(time.Now(), 3))

	latest, ok := buf.Latest()
	if !ok || latest.Value != 3 {
		t.Errorf("Latest() = %v, %v; want 3, true", latest.Value, ok)
	}
}

func TestCircularBuffer_InvalidDataPoints(t *testing.T) {
	buf := NewCircularBuffer(5)

	buf.Push(DataPoint{Value: 1})
	buf.Push(NewDataPointAt(time.Now(), math.NaN()))
	buf.Push(NewDataPointAt(time.Now(), math.Inf(1)))

	if buf.Len() != 0 {
		t.Errorf("expected invalid points to be dropped, len=%d", buf.Len())
	}
}

func TestCircularBuffer_Concurrent(t *testing.T) {
	buf := NewCircularBuffer(100)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				buf.Push(NewDataPointAt(time.Now(), float64(i)))
				_ = buf.GetRecent(10)
			}
		}()
	}
	wg.Wait()

	if buf.Len() != buf.Cap() {
		t.Errorf("expected full buffer, len=%d cap=%d", buf.Len(), buf.Cap())
	}
}
