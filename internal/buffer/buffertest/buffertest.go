// Package buffertest writes small buffer files for tests.
package buffertest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qass/buffercache/internal/buffer"
)

// Header returns a minimal FFT header for process with the given frequency
// compression.
func Header(process, frq int32) *buffer.Header {
	return &buffer.Header{
		DataMode:        buffer.DataModeFFT,
		DataType:        buffer.DataTypeRaw,
		Process:         process,
		Channel:         1,
		ProcessTime:     1700000000,
		EpochTime:       1700000000000 + int64(process),
		CompressionFrq:  frq,
		CompressionTime: 1,
		SampleFrequency: 100000,
		FrqBands:        4,
		BytesPerSample:  2,
		DBSize:          64,
		DBHeaderSize:    128,
	}
}

// Write encodes h with a short ramp payload at path, creating parent
// directories, and returns path.
func Write(t testing.TB, path string, h *buffer.Header) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	values := make([]float64, 4*int(h.FrqBands))
	for i := range values {
		values[i] = float64(i)
	}
	if err := buffer.WriteFile(path, h, buffer.PackSamples(h, values)); err != nil {
		t.Fatalf("failed to write buffer %s: %v", path, err)
	}
	return path
}

// Truncate cuts the file at path to n bytes.
func Truncate(t testing.TB, path string, n int64) {
	t.Helper()
	if err := os.Truncate(path, n); err != nil {
		t.Fatalf("failed to truncate %s: %v", path, err)
	}
}

// Touch sets the modification time of path to ts.
func Touch(t testing.TB, path string, ts time.Time) {
	t.Helper()
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("failed to touch %s: %v", path, err)
	}
}
