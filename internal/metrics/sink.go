package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Sink receives scalar events. Events are append-only and never read back.
type Sink interface {
	Scalar(tag string, step int, value float64) error
	Close() error
}

// Event is one line of the event stream.
type Event struct {
	Tag      string  `json:"tag"`
	Step     int     `json:"step"`
	Value    float64 `json:"value"`
	WallTime float64 `json:"wall_time"`
}

// EventFile is the file name used by NewFileSink inside its directory.
const EventFile = "events.jsonl"

// FileSink writes events as JSON lines.
type FileSink struct {
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
	now func() time.Time
}

// NewFileSink creates dir and appends events to dir/events.jsonl.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create event dir %s", dir)
	}
	f, err := os.OpenFile(filepath.Join(dir, EventFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open event file")
	}
	w := bufio.NewWriter(f)
	return &FileSink{f: f, w: w, enc: json.NewEncoder(w), now: time.Now}, nil
}

// Scalar appends one event and flushes it so readers see it immediately.
func (s *FileSink) Scalar(tag string, step int, value float64) error {
	ev := Event{
		Tag:      tag,
		Step:     step,
		Value:    value,
		WallTime: float64(s.now().UnixNano()) / 1e9,
	}
	if err := s.enc.Encode(ev); err != nil {
		return errors.Wrapf(err, "write event %s", tag)
	}
	return errors.Wrap(s.w.Flush(), "flush events")
}

func (s *FileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return errors.Wrap(err, "flush events")
	}
	return errors.Wrap(s.f.Close(), "close event file")
}

// Discard drops every event.
type Discard struct{}

func (Discard) Scalar(string, int, float64) error { return nil }
func (Discard) Close() error                      { return nil }
