package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

type streamStats struct {
	connected   int
	connectErrs int
	streamErrs  int
	events      map[string]int
}

type stats struct {
	mu      sync.Mutex
	streams map[string]*streamStats
}

func newStats() *stats {
	return &stats{streams: make(map[string]*streamStats)}
}

func (s *stats) get(name string) *streamStats {
	st, ok := s.streams[name]
	if !ok {
		st = &streamStats{events: make(map[string]int)}
		s.streams[name] = st
	}
	return st
}

func (s *stats) connected(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(name).connected++
}

func (s *stats) connectErr(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(name).connectErrs++
}

func (s *stats) streamErr(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(name).streamErrs++
}

func (s *stats) event(name, event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(name).events[event]++
}

func (s *stats) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		st := s.streams[name]
		parts = append(parts, fmt.Sprintf("%s{connected=%d connect_errs=%d stream_errs=%d events=%v}",
			name, st.connected, st.connectErrs, st.streamErrs, st.events))
	}
	return strings.Join(parts, " ")
}

// readEvents calls onEvent with the name of every complete SSE event read from r.
// Heartbeat comments are skipped. Events without a name are reported as "message".
func readEvents(r io.Reader, onEvent func(event string)) error {
	reader := bufio.NewReader(r)

	var (
		name    string
		hasData bool
	)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if hasData {
				if name == "" {
					name = "message"
				}
				onEvent(name)
			}
			name, hasData = "", false
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			hasData = true
		}
	}
}
