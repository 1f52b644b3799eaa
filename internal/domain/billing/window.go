package billing

import "time"

// Window is an aligned time bucket [Start, Start+Size). Buckets are anchored
// at the top of the hour containing the timestamp and stepped by the window
// size, so two timestamps inside the same aligned interval always map to the
// same window regardless of arrival order. When the window size does not
// divide the hour evenly, the last bucket of an hour extends past the hour
// boundary.
type Window struct {
	Start time.Time
	Size  time.Duration
}

// WindowFor returns the window containing t for the given window size.
func WindowFor(t time.Time, size time.Duration) Window {
	t = t.UTC()
	hour := t.Truncate(time.Hour)
	steps := t.Sub(hour) / size
	return Window{
		Start: hour.Add(steps * size),
		Size:  size,
	}
}

// ID returns the canonical identifier of the window: its start instant in
// RFC 3339 UTC form, which sorts chronologically.
func (w Window) ID() string {
	return w.Start.UTC().Format(time.RFC3339)
}

// End returns the exclusive end of the window
func (w Window) End() time.Time {
	return w.Start.Add(w.Size)
}

// Contains returns true if t falls within [Start, End)
func (w Window) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(w.Start) && t.Before(w.End())
}
