package client

import (
	"fmt"
	"sync"
)

// Key is a button of the shortcut bar.
type Key int

const (
	KeyEscape Key = iota
	KeyTab
	KeyCtrl
	KeySlash
)

func (k Key) String() string {
	switch k {
	case KeyEscape:
		return "Esc"
	case KeyTab:
		return "Tab"
	case KeyCtrl:
		return "Ctrl"
	case KeySlash:
		return "/"
	}
	return fmt.Sprintf("Key(%d)", int(k))
}

// bytes returns what the key types, or "" for the Ctrl modifier.
func (k Key) bytes() string {
	switch k {
	case KeyEscape:
		return "\x1b"
	case KeyTab:
		return "\t"
	case KeySlash:
		return "/"
	}
	return ""
}

// EncodeCtrl applies the control-character encoding: a-z and A-Z map to
// 1-26, anything else is returned unchanged.
func EncodeCtrl(b byte) byte {
	switch {
	case b >= 'a' && b <= 'z':
		return b - 'a' + 1
	case b >= 'A' && b <= 'Z':
		return b - 'A' + 1
	}
	return b
}

// ShortcutBar holds the one-shot Ctrl modifier. Pressing Ctrl arms it; the
// next typed data or pressed key has its first byte control-encoded and
// disarms it. Pressing Ctrl again while armed disarms without typing.
type ShortcutBar struct {
	mu    sync.Mutex
	armed bool
}

// Armed reports whether the next input will be control-encoded.
func (b *ShortcutBar) Armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.armed
}

// Press handles a button. It returns the data to send and whether there is
// any.
func (b *ShortcutBar) Press(k Key) (string, bool) {
	if k == KeyCtrl {
		b.mu.Lock()
		b.armed = !b.armed
		b.mu.Unlock()
		return "", false
	}
	data := k.bytes()
	if data == "" {
		return "", false
	}
	return b.Transform(data), true
}

// Transform applies and clears the armed modifier. Empty data leaves it
// armed.
func (b *ShortcutBar) Transform(data string) string {
	if data == "" {
		return data
	}
	b.mu.Lock()
	armed := b.armed
	b.armed = false
	b.mu.Unlock()
	if !armed {
		return data
	}
	out := []byte(data)
	out[0] = EncodeCtrl(out[0])
	return string(out)
}
