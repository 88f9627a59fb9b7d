package feature

import (
	"errors"
	"time"

	"bioguard/internal/model"
)

// ErrOutOfOrder marks an event whose timestamp precedes the last accepted
// one for its session. The event is rejected; the window stays intact.
var ErrOutOfOrder = errors.New("event timestamp out of order")

// Window is one closed analysis window ready for extraction.
type Window struct {
	Start  time.Time
	End    time.Time
	Events []model.BehaviorEvent
}

// Windower assembles a session's ordered event stream into sliding windows
// of length `window` advancing by `step`. Windows close when an event past
// the boundary arrives, so emission is driven purely by event timestamps.
type Windower struct {
	window   time.Duration
	step     time.Duration
	events   []model.BehaviorEvent
	head     int
	lastTS   time.Time
	nextEmit time.Time
}

func NewWindower(window, step time.Duration) *Windower {
	if window <= 0 {
		window = 10 * time.Second
	}
	if step <= 0 || step > window {
		step = window / 5
	}
	return &Windower{
		window: window,
		step:   step,
		events: make([]model.BehaviorEvent, 0, 128),
	}
}

// Add accepts one event and returns any windows it closed.
func (w *Windower) Add(ev model.BehaviorEvent) ([]Window, error) {
	if !w.lastTS.IsZero() && ev.Timestamp.Before(w.lastTS) {
		return nil, ErrOutOfOrder
	}
	if w.nextEmit.IsZero() {
		w.nextEmit = ev.Timestamp.Add(w.window)
	}
	w.lastTS = ev.Timestamp

	var closed []Window
	for !ev.Timestamp.Before(w.nextEmit) {
		closed = append(closed, w.emit())
	}
	w.events = append(w.events, ev)
	return closed, nil
}

// Flush closes the current partial window, if it holds any events. Used on
// session teardown so trailing activity is still scored.
func (w *Windower) Flush() (Window, bool) {
	if len(w.events)-w.head == 0 || w.nextEmit.IsZero() {
		return Window{}, false
	}
	end := w.nextEmit
	start := end.Add(-w.window)
	win := Window{Start: start, End: end, Events: w.slice(start, end)}
	return win, true
}

func (w *Windower) emit() Window {
	end := w.nextEmit
	start := end.Add(-w.window)
	win := Window{Start: start, End: end, Events: w.slice(start, end)}
	w.nextEmit = w.nextEmit.Add(w.step)
	w.evict(w.nextEmit.Add(-w.window))
	return win
}

func (w *Windower) slice(start, end time.Time) []model.BehaviorEvent {
	out := make([]model.BehaviorEvent, 0, len(w.events)-w.head)
	for i := w.head; i < len(w.events); i++ {
		ts := w.events[i].Timestamp
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		out = append(out, w.events[i])
	}
	return out
}

func (w *Windower) evict(cutoff time.Time) {
	for w.head < len(w.events) && w.events[w.head].Timestamp.Before(cutoff) {
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.events) {
		w.events = append([]model.BehaviorEvent{}, w.events[w.head:]...)
		w.head = 0
	}
}
