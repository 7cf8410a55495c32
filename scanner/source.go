package scanner

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
)

// Source is the scanning capability the controller owns while in the
// Scanning state. Start begins delivering decoded text to emit on the
// source's own schedule; Stop releases the underlying device. A real optical
// source delivers many decodes per second for one physical code while it
// stays in frame, so consumers must expect duplicates.
type Source interface {
	Start(emit func(raw string)) error
	Stop() error
}

// LineSource adapts a line-oriented reader (typically stdin on the staff
// terminal) into a Source: every non-empty line is one decode event.
//
// A single reader goroutine owns the underlying bufio.Scanner for the life
// of the source; Start and Stop only swap the delivery callback in and out.
// A read may be blocked in Scan across a Stop/Start cycle, so spawning a
// goroutine per Start would end up with two readers sharing one scanner.
// Lines that complete while no callback is installed are consumed and
// dropped, like camera frames while the camera is off.
type LineSource struct {
	lines *bufio.Scanner

	mu      sync.Mutex
	emit    func(string)
	reading bool
}

func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{lines: bufio.NewScanner(r)}
}

func (s *LineSource) Start(emit func(raw string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emit != nil {
		return errors.New("scanner: source already started")
	}
	s.emit = emit
	if !s.reading {
		s.reading = true
		go s.read()
	}
	return nil
}

func (s *LineSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = nil
	return nil
}

func (s *LineSource) read() {
	for s.lines.Scan() {
		line := strings.TrimSpace(s.lines.Text())
		if line == "" {
			continue
		}
		// The callback is re-read after every Scan: a line whose read was
		// pending when Stop was called must not be delivered.
		s.mu.Lock()
		emit := s.emit
		s.mu.Unlock()
		if emit != nil {
			emit(line)
		}
	}
}
