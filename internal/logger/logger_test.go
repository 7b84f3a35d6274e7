package logger

import (
	"strings"
	"sync"
	"testing"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) Write(level Level, line string) {
	s.mu.Lock()
	s.lines = append(s.lines, level.String()+" "+line)
	s.mu.Unlock()
}

func TestLevelFiltering(t *testing.T) {
	sink := &recordingSink{}
	log := New(sink, LevelWarn)

	log.Debugf("dropped")
	log.Infof("dropped too")
	log.Warnf("kept %d", 1)
	log.Errorf("kept %d", 2)

	if len(sink.lines) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(sink.lines), sink.lines)
	}
	if sink.lines[0] != "warn kept 1" || sink.lines[1] != "error kept 2" {
		t.Fatalf("unexpected lines: %v", sink.lines)
	}
}

func TestForkAddsNestedPrefixes(t *testing.T) {
	sink := &recordingSink{}
	log := New(sink, LevelDebug).Fork("mux").Fork("channel[%d]", 7)

	log.Infof("ready")

	if len(sink.lines) != 1 {
		t.Fatalf("got %d lines", len(sink.lines))
	}
	if !strings.HasSuffix(sink.lines[0], "mux: channel[7]: ready") {
		t.Fatalf("unexpected line: %q", sink.lines[0])
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	if err != nil || lvl != LevelDebug {
		t.Fatalf("got %v, %v", lvl, err)
	}
	if _, err := ParseLevel("noise"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
