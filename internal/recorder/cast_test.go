package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCast(t *testing.T, data []byte) (Header, []Event) {
	t.Helper()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024), 1<<20)

	require.True(t, scanner.Scan())
	var header Header
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &header))

	var events []Event
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return header, events
}

func TestRecorderWritesEvents(t *testing.T) {
	var buf bytes.Buffer
	clock := time.Unix(1700000000, 0)
	r := newRecorder(&buf, func() time.Time { return clock })
	require.NoError(t, r.writeHeader(120, 36, map[string]string{"TERM": "xterm-256color"}))

	clock = clock.Add(500 * time.Millisecond)
	require.NoError(t, r.Output([]byte("$ ")))
	clock = clock.Add(time.Second)
	require.NoError(t, r.Input([]byte("ls\r")))
	require.NoError(t, r.Resize(100, 30))
	require.NoError(t, r.Close())
	require.NoError(t, r.Output([]byte("dropped")))

	header, events := readCast(t, buf.Bytes())
	assert.Equal(t, Header{Version: 2, Width: 120, Height: 36, Timestamp: 1700000000,
		Env: map[string]string{"TERM": "xterm-256color"}}, header)
	assert.Equal(t, []Event{
		{Offset: 0.5, Type: EventOutput, Data: "$ "},
		{Offset: 1.5, Type: EventInput, Data: "ls\r"},
		{Offset: 1.5, Type: EventResize, Data: "100x30"},
	}, events)
}

func TestCreateWritesFile(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir+"/casts", "abc", 80, 24, nil)
	require.NoError(t, err)
	assert.Equal(t, PathFor(dir+"/casts", "abc"), r.Path())
	require.NoError(t, r.Output([]byte("hi")))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	header, events := readCast(t, data)
	assert.Equal(t, 80, header.Width)
	require.Len(t, events, 1)
	assert.Equal(t, "hi", events[0].Data)
}

func TestEventRejectsMalformed(t *testing.T) {
	var e Event
	assert.Error(t, json.Unmarshal([]byte(`[1, "o"]`), &e))
	assert.Error(t, json.Unmarshal([]byte(`["x", "o", "d"]`), &e))
	assert.Error(t, json.Unmarshal([]byte(`{}`), &e))
}

func TestRecordingIsLineDelimitedProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("each event occupies exactly one line", prop.ForAll(
		func(chunks []string) bool {
			var buf bytes.Buffer
			r, err := New(&buf, 80, 24, nil)
			if err != nil {
				return false
			}
			for _, c := range chunks {
				if r.Output([]byte(c)) != nil {
					return false
				}
			}
			lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
			return len(lines) == len(chunks)+1
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}
