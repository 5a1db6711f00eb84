package main

import (
	"github.com/workspace-dashboard/backend/internal/client"
)

// prefixKey starts a local command, like the escape key of ssh or telnet.
const prefixKey = 0x1d // Ctrl-]

// event is one unit of local input: data to type, a shortcut to press, or
// a request to quit.
type event struct {
	data  string
	key   client.Key
	press bool
	quit  bool
}

// keyFilter splits raw stdin into events. After the prefix key:
//
//	e  Esc      t  Tab      c  Ctrl (one-shot)      /  literal slash
//	q  quit     Ctrl-]  a literal Ctrl-]
//
// Any other byte after the prefix is dropped. A prefix at the end of a read
// carries over to the next one.
type keyFilter struct {
	pending bool
}

func (f *keyFilter) Filter(p []byte) []event {
	var events []event
	start := 0
	flush := func(end int) {
		if end > start {
			events = append(events, event{data: string(p[start:end])})
		}
	}

	for i := 0; i < len(p); i++ {
		b := p[i]
		if !f.pending {
			if b == prefixKey {
				flush(i)
				f.pending = true
				start = i + 1
			}
			continue
		}

		f.pending = false
		start = i + 1
		switch b {
		case 'e':
			events = append(events, event{key: client.KeyEscape, press: true})
		case 't':
			events = append(events, event{key: client.KeyTab, press: true})
		case 'c':
			events = append(events, event{key: client.KeyCtrl, press: true})
		case '/':
			events = append(events, event{key: client.KeySlash, press: true})
		case 'q':
			events = append(events, event{quit: true})
		case prefixKey:
			events = append(events, event{data: string([]byte{prefixKey})})
		}
	}
	if !f.pending {
		flush(len(p))
	}
	return events
}
