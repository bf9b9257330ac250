package relay

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Event is one Server-Sent Events frame
type Event struct {
	Name string
	ID   string
	Data string
}

// streamParser turns an event stream into Events. Lines end in LF, CR or
// CRLF; a blank line dispatches the pending event.
type streamParser struct {
	onEvent func(Event)
	onRetry func(time.Duration)
	onID    func(string)
}

func (p *streamParser) parse(r io.Reader) error {
	reader := &lineReader{r: bufio.NewReader(r)}

	var (
		name    string
		data    []string
		hasData bool
	)
	for {
		line, err := reader.next()
		if err != nil {
			// A partial line without terminator is discarded along with any pending event
			return err
		}

		if line == "" {
			if hasData {
				p.onEvent(Event{Name: name, Data: strings.Join(data, "\n")})
			}
			name, data, hasData = "", nil, false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) && p.onID != nil {
				p.onID(value)
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 && p.onRetry != nil {
				p.onRetry(time.Duration(ms) * time.Millisecond)
			}
		}
	}
}

// lineReader splits on LF, CR and CRLF. The LF of a CRLF pair is skipped
// when it arrives, so a bare CR never waits for more input.
type lineReader struct {
	r      *bufio.Reader
	buf    []byte
	skipLF bool
}

func (l *lineReader) next() (string, error) {
	l.buf = l.buf[:0]
	for {
		b, err := l.r.ReadByte()
		if err != nil {
			return "", err
		}
		if l.skipLF {
			l.skipLF = false
			if b == '\n' {
				continue
			}
		}
		switch b {
		case '\n':
			return string(l.buf), nil
		case '\r':
			l.skipLF = true
			return string(l.buf), nil
		}
		l.buf = append(l.buf, b)
	}
}
