// Package recorder writes terminal sessions as asciinema v2 recordings.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventResize = "r"
)

// Header is the first line of an asciinema v2 recording.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one recorded line: [offset, type, data].
type Event struct {
	Offset float64
	Type   string
	Data   string
}

// MarshalJSON encodes the event as a three-element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Offset, e.Type, e.Data})
}

// UnmarshalJSON decodes a three-element array.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event: expected 3 elements, got %d", len(arr))
	}
	if err := json.Unmarshal(arr[0], &e.Offset); err != nil {
		return fmt.Errorf("invalid event offset: %w", err)
	}
	if err := json.Unmarshal(arr[1], &e.Type); err != nil {
		return fmt.Errorf("invalid event type: %w", err)
	}
	if err := json.Unmarshal(arr[2], &e.Data); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	return nil
}

// Recorder appends events for one session. Writes after Close are dropped.
type Recorder struct {
	w     io.Writer
	file  *os.File // only set if we own the file
	path  string
	start time.Time
	now   func() time.Time

	mu     sync.Mutex
	closed bool
}

// PathFor returns the recording path for session id under dir.
func PathFor(dir, id string) string {
	return filepath.Join(dir, id+".cast")
}

// Create opens <dir>/<id>.cast and writes the header.
func Create(dir, id string, cols, rows int, env map[string]string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording dir: %w", err)
	}
	path := PathFor(dir, id)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	r := newRecorder(file, time.Now)
	r.file = file
	r.path = path
	if err := r.writeHeader(cols, rows, env); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// New records to w. The caller owns w.
func New(w io.Writer, cols, rows int, env map[string]string) (*Recorder, error) {
	r := newRecorder(w, time.Now)
	if err := r.writeHeader(cols, rows, env); err != nil {
		return nil, err
	}
	return r, nil
}

func newRecorder(w io.Writer, now func() time.Time) *Recorder {
	return &Recorder{w: w, start: now(), now: now}
}

func (r *Recorder) writeHeader(cols, rows int, env map[string]string) error {
	data, err := json.Marshal(Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.start.Unix(),
		Env:       env,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// Output records shell output.
func (r *Recorder) Output(data []byte) error {
	return r.write(EventOutput, string(data))
}

// Input records client input.
func (r *Recorder) Input(data []byte) error {
	return r.write(EventInput, string(data))
}

// Resize records a geometry change as "COLSxROWS".
func (r *Recorder) Resize(cols, rows int) error {
	return r.write(EventResize, fmt.Sprintf("%dx%d", cols, rows))
}

func (r *Recorder) write(typ, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	line, err := json.Marshal(Event{
		Offset: r.now().Sub(r.start).Seconds(),
		Type:   typ,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Path returns the file path, or "" when recording to a writer.
func (r *Recorder) Path() string {
	return r.path
}

// Close closes the file if the recorder owns it.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
