// Package sensor turns motion sensor readings into controller callbacks.
package sensor

import (
	"strings"
	"sync"
)

// Handler receives one call per physical motion transition.
type Handler interface {
	MotionDetected()
	MotionCleared()
}

// Edges forwards only changes of the motion state to a Handler. The first
// reading always passes. Safe for concurrent use.
type Edges struct {
	h Handler

	mu    sync.Mutex
	known bool
	last  bool
}

// NewEdges wraps h.
func NewEdges(h Handler) *Edges {
	return &Edges{h: h}
}

// Set reports the current motion state and returns whether it was forwarded.
func (e *Edges) Set(present bool) bool {
	e.mu.Lock()
	if e.known && e.last == present {
		e.mu.Unlock()
		return false
	}
	e.known, e.last = true, present
	e.mu.Unlock()

	if present {
		e.h.MotionDetected()
	} else {
		e.h.MotionCleared()
	}
	return true
}

// ParseLine reads one line written by the sensor bridge. It accepts 1/0,
// motion/clear, on/off and true/false, case insensitive.
func ParseLine(line string) (present, ok bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "1", "motion", "on", "true":
		return true, true
	case "0", "clear", "off", "false":
		return false, true
	}
	return false, false
}
