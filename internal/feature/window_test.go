package feature

import (
	"testing"
	"time"

	"bioguard/internal/model"
)

func keyDown(ts time.Time, code int) model.BehaviorEvent {
	return model.BehaviorEvent{SessionID: "s1", Timestamp: ts, Kind: model.KindKeyDown, KeyCode: code}
}

func TestWindowerSlidesByStep(t *testing.T) {
	w := NewWindower(10*time.Second, 2*time.Second)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var closed []Window
	for i := 0; i < 15; i++ {
		wins, err := w.Add(keyDown(base.Add(time.Duration(i)*time.Second), i))
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		closed = append(closed, wins...)
	}
	if len(closed) == 0 {
		t.Fatalf("expected closed windows after 15s of events")
	}
	first := closed[0]
	if !first.End.Equal(base.Add(10 * time.Second)) {
		t.Fatalf("first window end: %v", first.End)
	}
	if got := first.End.Sub(first.Start); got != 10*time.Second {
		t.Fatalf("window length: %v", got)
	}
	for i := 1; i < len(closed); i++ {
		if got := closed[i].End.Sub(closed[i-1].End); got != 2*time.Second {
			t.Fatalf("window %d advanced by %v, want 2s", i, got)
		}
	}
}

func TestWindowerRejectsOutOfOrder(t *testing.T) {
	w := NewWindower(10*time.Second, 2*time.Second)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := w.Add(keyDown(base, 1)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := w.Add(keyDown(base.Add(2*time.Second), 2)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := w.Add(keyDown(base.Add(time.Second), 3)); err != ErrOutOfOrder {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	// The stream continues past the rejected event.
	if _, err := w.Add(keyDown(base.Add(3*time.Second), 4)); err != nil {
		t.Fatalf("add after rejection: %v", err)
	}
}

func TestWindowerFlushPartial(t *testing.T) {
	w := NewWindower(10*time.Second, 2*time.Second)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if _, err := w.Add(keyDown(base.Add(time.Duration(i)*time.Second), i)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	win, ok := w.Flush()
	if !ok {
		t.Fatalf("expected a partial window")
	}
	if len(win.Events) != 4 {
		t.Fatalf("flushed events: %d", len(win.Events))
	}
}

func TestWindowerEmptyFlush(t *testing.T) {
	w := NewWindower(10*time.Second, 2*time.Second)
	if _, ok := w.Flush(); ok {
		t.Fatalf("flush on empty windower should report nothing")
	}
}
