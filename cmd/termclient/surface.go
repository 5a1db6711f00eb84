package main

import (
	"io"
	"strings"

	"golang.org/x/term"
)

const (
	fallbackCols = 80
	fallbackRows = 24
)

// stdoutSurface renders to the local terminal.
type stdoutSurface struct {
	fd  int
	out io.Writer
}

func (s *stdoutSurface) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

// Size reports the terminal size, or 80x24 when stdout is not a terminal.
func (s *stdoutSurface) Size() (int, int, error) {
	cols, rows, err := term.GetSize(s.fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return fallbackCols, fallbackRows, nil
	}
	return cols, rows, nil
}

// setTitle shows the cwd label in the window title (OSC 2).
func (s *stdoutSurface) setTitle(label string) {
	io.WriteString(s.out, titleSequence(label))
}

func titleSequence(label string) string {
	// BEL and ESC would end the sequence early.
	label = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, label)
	return "\x1b]2;" + label + "\a"
}
