// Package swma keeps a sliding-window moving average.
package swma

type SlidingWindow struct {
	sum    float64
	window []float64
	next   int
	filled int
}

func NewSlidingWindow(windowSize int) *SlidingWindow {
	if windowSize < 1 {
		windowSize = 1
	}
	return &SlidingWindow{
		window: make([]float64, windowSize),
	}
}

// Add pushes value, evicting the oldest once the window is full, and returns
// the average of the values held.
func (s *SlidingWindow) Add(value float64) float64 {
	s.sum += value - s.window[s.next]
	s.window[s.next] = value
	s.next = (s.next + 1) % len(s.window)
	if s.filled < len(s.window) {
		s.filled++
	}
	return s.Average()
}

func (s *SlidingWindow) Average() float64 {
	if s.filled == 0 {
		return 0
	}
	return s.sum / float64(s.filled)
}

func (s *SlidingWindow) Reset() {
	s.sum = 0
	s.next = 0
	s.filled = 0
	clear(s.window)
}

func (s *SlidingWindow) Sum() float64 {
	return s.sum
}

func (s *SlidingWindow) Len() int {
	return s.filled
}

func (s *SlidingWindow) WindowSize() int {
	return len(s.window)
}
