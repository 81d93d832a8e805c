package local

import "sync"

// outputWindow keeps a bounded tail of raw session output. Old data is
// trimmed at line boundaries where possible so the window never starts
// mid-escape-sequence rendering garbage for readers.
type outputWindow struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newOutputWindow(max int) *outputWindow {
	if max <= 0 {
		max = 64 * 1024
	}
	return &outputWindow{max: max}
}

func (w *outputWindow) Append(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, data...)
	if len(w.buf) <= w.max {
		return
	}

	// Trim to the max, then advance to the next newline so the window
	// starts on a whole line when one is close by. The scan is capped so
	// a single enormous line cannot hollow out the window.
	start := len(w.buf) - w.max
	scanEnd := start + 4096
	if scanEnd > len(w.buf) {
		scanEnd = len(w.buf)
	}
	for i := start; i < scanEnd; i++ {
		if w.buf[i] == '\n' {
			start = i + 1
			break
		}
	}
	remaining := len(w.buf) - start
	copy(w.buf, w.buf[start:])
	w.buf = w.buf[:remaining]
}

func (w *outputWindow) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}

func (w *outputWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}
