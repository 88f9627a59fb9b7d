package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"bioguard/internal/model"
)

// InputError marks a payload the collector sent in a shape the engine
// cannot use. These are rejected per event; one bad event never takes the
// stream down.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid event field %q: %s", e.Field, e.Reason)
}

// timestamp layouts accepted from collectors, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

var eventKinds = map[string]model.EventKind{
	"key_down":      model.KindKeyDown,
	"keydown":       model.KindKeyDown,
	"key_up":        model.KindKeyUp,
	"keyup":         model.KindKeyUp,
	"pointer_move":  model.KindPointerMove,
	"mouse_move":    model.KindPointerMove,
	"pointer_click": model.KindPointerClick,
	"mouse_click":   model.KindPointerClick,
}

// Event builds a BehaviorEvent from loosely typed collector fields. A
// missing session_id or an unparseable timestamp or kind is an InputError.
func Event(fields map[string]any) (model.BehaviorEvent, error) {
	var ev model.BehaviorEvent

	sid, _ := stringField(fields, "session_id", "sessionId", "session")
	if sid == "" {
		return ev, &InputError{Field: "session_id", Reason: "missing"}
	}
	ev.SessionID = sid

	rawKind, ok := stringField(fields, "type", "kind", "event_type")
	if !ok {
		return ev, &InputError{Field: "type", Reason: "missing"}
	}
	kind, ok := eventKinds[strings.ToLower(strings.TrimSpace(rawKind))]
	if !ok {
		return ev, &InputError{Field: "type", Reason: "unknown kind " + rawKind}
	}
	ev.Kind = kind

	ts, err := timeField(fields, "timestamp", "ts", "time")
	if err != nil {
		return ev, err
	}
	ev.Timestamp = ts

	switch kind {
	case model.KindKeyDown, model.KindKeyUp:
		if code, ok := intField(fields, "key_code", "keyCode", "code"); ok {
			ev.KeyCode = code
		}
	case model.KindPointerMove, model.KindPointerClick:
		ev.X, _ = floatField(fields, "x")
		ev.Y, _ = floatField(fields, "y")
	}

	if src, ok := stringField(fields, "source"); ok {
		ev.Source = src
	} else {
		ev.Source = "unknown"
	}
	if extras, ok := fields["extras"].(map[string]any); ok {
		ev.Extras = make(map[string]string, len(extras))
		for k, v := range extras {
			ev.Extras[k] = fmt.Sprint(v)
		}
	}
	return ev, nil
}

func stringField(fields map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			switch s := v.(type) {
			case string:
				return s, true
			case fmt.Stringer:
				return s.String(), true
			}
		}
	}
	return "", false
}

func intField(fields map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		case int64:
			return int(v), true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func floatField(fields map[string]any, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// timeField accepts RFC3339 style strings and unix epoch numbers. Epoch
// values large enough to be milliseconds are scaled down.
func timeField(fields map[string]any, keys ...string) (time.Time, error) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			for _, layout := range timeLayouts {
				if ts, err := time.Parse(layout, t); err == nil {
					return ts.UTC(), nil
				}
			}
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return epochTime(f), nil
			}
			return time.Time{}, &InputError{Field: k, Reason: "unparseable timestamp " + t}
		case float64:
			return epochTime(t), nil
		case int64:
			return epochTime(float64(t)), nil
		}
	}
	return time.Time{}, &InputError{Field: "timestamp", Reason: "missing"}
}

func epochTime(v float64) time.Time {
	const msThreshold = 1e12
	if v >= msThreshold {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
