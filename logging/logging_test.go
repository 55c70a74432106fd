package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", Debug, false},
		{"INFO", Info, false},
		{"", Info, false},
		{"warning", Warn, false},
		{"error", Error, false},
		{"loud", Info, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlogJSONCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Info, "json")

	l.Record(Debug, "strategy", "hidden")
	l.Record(Warn, "bracket", "rollback failed")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "bracket", rec["component"])
	assert.Equal(t, "rollback failed", rec["msg"])
}

func TestScopedAndMemory(t *testing.T) {
	m := &Memory{}
	log := For(m, "feed")

	log.Infof("connected to %s", "wss://example")
	log.Errorf("read: %v", assert.AnError)

	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Level: Info, Component: "feed", Message: "connected to wss://example"}, entries[0])
	assert.True(t, m.Contains(Error, "read:"))
	assert.False(t, m.Contains(Error, "connected"))
}

func TestForNilFallsBackToNop(t *testing.T) {
	assert.NotPanics(t, func() { For(nil, "x").Infof("ok") })
}
