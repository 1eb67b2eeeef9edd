package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/qass/buffercache/internal/buffer"
	"github.com/qass/buffercache/internal/lockfile"
	"github.com/qass/buffercache/internal/schema"
)

func sampleRecords() []*schema.Record {
	return []*schema.Record{
		{Path: "/data/run1/p1c0b01", Process: 1, Channel: 1, CompressionFrq: 8, Codec: "raw", State: schema.StateIndexed},
		{Path: "/data/run1/p2c0b01", Process: 2, Channel: 1, CompressionFrq: 16, Codec: "zstd", State: schema.StateIndexed},
	}
}

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T08:30:00Z", time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
		{"2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-05-01 08:30:00", time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
		{"1714552200000", time.UnixMilli(1714552200000)},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.in, now)
		require.NoError(t, err, tt.in)
		assert.True(t, got.Equal(tt.want), "parseTime(%q) = %v, want %v", tt.in, got, tt.want)
	}

	got, err := parseTime("2 hours ago", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(-2*time.Hour), got, time.Minute)

	_, err = parseTime("whenever", now)
	assert.Error(t, err)
}

func TestWriteRecords_Formats(t *testing.T) {
	records := sampleRecords()

	t.Run("paths", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRecords(&buf, records, "paths"))
		assert.Equal(t, "/data/run1/p1c0b01\n/data/run1/p2c0b01\n", buf.String())
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRecords(&buf, records, "table"))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		assert.Contains(t, lines[0], "PATH")
		assert.Contains(t, lines[2], "zstd")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRecords(&buf, records, "json"))
		var got []schema.Record
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, int64(16), got[1].CompressionFrq)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRecords(&buf, records, "yaml"))
		var got []schema.Record
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "/data/run1/p2c0b01", got[1].Path)
	})

	t.Run("cbor", func(t *testing.T) {
		var a, b bytes.Buffer
		require.NoError(t, writeRecords(&a, records, "cbor"))
		require.NoError(t, writeRecords(&b, records, "cbor"))
		assert.Equal(t, a.Bytes(), b.Bytes(), "encoding is deterministic")

		var got []schema.Record
		require.NoError(t, cbor.Unmarshal(a.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, int64(2), got[1].Process)
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, writeRecords(&bytes.Buffer{}, records, "xml"))
	})
}

func TestWriteFailed(t *testing.T) {
	records := []*schema.Record{{Path: "/data/p9c0b01", State: schema.StateFailed, Error: "truncated header"}}
	var buf bytes.Buffer
	require.NoError(t, writeFailed(&buf, records, "table"))
	assert.Contains(t, buf.String(), "truncated header")
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, "json", formatForPath("out.json"))
	assert.Equal(t, "json", formatForPath("out"))
	assert.Equal(t, "yaml", formatForPath("out.YML"))
	assert.Equal(t, "cbor", formatForPath("/tmp/out.cbor"))
}

func TestBufferPath(t *testing.T) {
	h := &buffer.Header{Process: 123, Channel: 2}
	assert.Equal(t, "/tmp/b/run0002/p123c1b01", bufferPath("/tmp/b", 105, 50, h))
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"sync", "query", "failed", "pending", "status", "remove", "watch", "serve", "export", "gen", "bench", "config"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if assert.NoError(t, err, name) {
			assert.Equal(t, name, cmd.Name())
		}
	}
}

func TestLockIndex_RejectsSecondWriter(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("index lock needs flock")
	}
	path := filepath.Join(t.TempDir(), ".bufcache", "index.lock")

	held, err := lockfile.Acquire(path)
	require.NoError(t, err)

	_, err = lockIndex(path, "sync")
	require.ErrorIs(t, err, lockfile.ErrLocked)
	assert.Contains(t, err.Error(), "cannot sync")
	assert.Contains(t, err.Error(), fmt.Sprintf("pid %d", os.Getpid()))

	require.NoError(t, held.Release())
	lock, err := lockIndex(path, "sync")
	require.NoError(t, err)
	assert.NoError(t, lock.Release())
}
