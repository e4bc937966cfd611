package audit

import (
	"testing"
	"time"
)

func TestEventKey(t *testing.T) {
	tests := []struct {
		name  string
		event any
		want  string
	}{
		{name: "search", event: SearchEvent{Type: EventSearch}, want: "search"},
		{name: "rejected search", event: SearchEvent{Type: EventSearchRejected}, want: "search_rejected"},
		{name: "change", event: ChangeEvent{Type: EventComponentChange}, want: "component_change"},
		{name: "export", event: ExportEvent{Type: EventExport}, want: "export"},
		{name: "unknown payload", event: 42, want: "audit"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := eventKey(tc.event); got != tc.want {
				t.Errorf("expected key %q, got %q", tc.want, got)
			}
		})
	}
}

func TestTrackDropsWhenBufferFull(t *testing.T) {
	c := NewCollector(nil, nil, 2, 10, time.Second)

	c.Track(SearchEvent{Type: EventSearch, Query: "a"})
	c.Track(SearchEvent{Type: EventSearch, Query: "b"})
	c.Track(SearchEvent{Type: EventSearch, Query: "c"})

	if got := len(c.eventCh); got != 2 {
		t.Errorf("expected 2 buffered events, got %d", got)
	}
}

func TestNewCollectorDefaults(t *testing.T) {
	c := NewCollector(nil, nil, 0, 0, 0)
	if cap(c.eventCh) != 10000 {
		t.Errorf("expected default buffer 10000, got %d", cap(c.eventCh))
	}
	if c.batchSize != 100 {
		t.Errorf("expected default batch size 100, got %d", c.batchSize)
	}
	if c.flushInterval != 5*time.Second {
		t.Errorf("expected default flush interval 5s, got %s", c.flushInterval)
	}
}
