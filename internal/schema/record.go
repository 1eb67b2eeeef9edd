package schema

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/qass/buffercache/internal/buffer"
	"github.com/qass/buffercache/internal/fingerprint"
)

// State is the indexing state of a tracked path.
type State string

const (
	// StateIndexed records decoded successfully and are visible to queries.
	StateIndexed State = "indexed"

	// StateFailed records could not be decoded. They are parked: hidden from
	// queries and not decoded again until their fingerprint changes.
	StateFailed State = "failed"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool { return s == StateIndexed || s == StateFailed }

// Record is the persisted metadata of one buffer file.
type Record struct {
	Path        string `json:"path" yaml:"path"`
	Directory   string `json:"directory" yaml:"directory"`
	Filename    string `json:"filename" yaml:"filename"`
	Size        int64  `json:"size" yaml:"size"`
	ModTime     int64  `json:"mod_time" yaml:"mod_time"` // unix nanoseconds
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
	HeaderHash  string `json:"header_hash,omitempty" yaml:"header_hash,omitempty"`
	State       State  `json:"state" yaml:"state"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
	IndexedAt   int64  `json:"indexed_at" yaml:"indexed_at"` // unix nanoseconds

	Version     int64 `json:"version" yaml:"version"`
	DataVersion int64 `json:"data_version" yaml:"data_version"`
	ProjectID   int64 `json:"project_id" yaml:"project_id"`
	Process     int64 `json:"process" yaml:"process"`
	Channel     int64 `json:"channel" yaml:"channel"`
	DataMode    int64 `json:"datamode" yaml:"datamode"`
	DataType    int64 `json:"datatype" yaml:"datatype"`
	DataKind    int64 `json:"datakind" yaml:"datakind"`
	ADCType     int64 `json:"adc_type" yaml:"adc_type"`
	ProcessTime int64 `json:"process_time" yaml:"process_time"` // unix seconds
	Timestamp   int64 `json:"timestamp" yaml:"timestamp"`       // measure start, unix milliseconds

	CompressionFrq  int64 `json:"compression_frq" yaml:"compression_frq"`
	CompressionTime int64 `json:"compression_time" yaml:"compression_time"`
	AvgTime         int64 `json:"avg_time" yaml:"avg_time"`
	AvgFrq          int64 `json:"avg_frq" yaml:"avg_frq"`

	SampleFrequency int64   `json:"sample_frequency" yaml:"sample_frequency"`
	FrqBands        int64   `json:"frq_bands" yaml:"frq_bands"`
	FrqPerBand      float64 `json:"frq_per_band" yaml:"frq_per_band"`
	SpecDuration    float64 `json:"spec_duration" yaml:"spec_duration"`
	SpecCount       int64   `json:"spec_count" yaml:"spec_count"`
	BytesPerSample  int64   `json:"bytes_per_sample" yaml:"bytes_per_sample"`
	BitResolution   int64   `json:"bit_resolution" yaml:"bit_resolution"`
	FFTLogShift     int64   `json:"fft_log_shift" yaml:"fft_log_shift"`
	MaxAmplitude    int64   `json:"max_amplitude" yaml:"max_amplitude"`
	Flags           int64   `json:"flags" yaml:"flags"`

	DBSize        int64  `json:"db_size" yaml:"db_size"`
	DBHeaderSize  int64  `json:"db_header_size" yaml:"db_header_size"`
	DBCount       int64  `json:"db_count" yaml:"db_count"`
	Codec         string `json:"codec" yaml:"codec"`
	HeaderSize    int64  `json:"header_size" yaml:"header_size"`
	PayloadOffset int64  `json:"payload_offset" yaml:"payload_offset"`
	PayloadLength int64  `json:"payload_length" yaml:"payload_length"`
	Checksum      int64  `json:"checksum" yaml:"checksum"`
	Comment       string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// FromHeader builds an indexed record for a successfully decoded file.
func FromHeader(path string, fi fs.FileInfo, fp fingerprint.Fingerprint, h *buffer.Header, now time.Time) *Record {
	r := newRecord(path, fi, fp, now)
	r.State = StateIndexed
	r.HeaderHash = h.Hash
	r.Version = int64(h.Version)
	r.DataVersion = int64(h.DataVersion)
	r.ProjectID = int64(h.ProjectID)
	r.Process = int64(h.Process)
	r.Channel = int64(h.Channel)
	r.DataMode = int64(h.DataMode)
	r.DataType = int64(h.DataType)
	r.DataKind = int64(h.DataKind)
	r.ADCType = int64(h.ADCType)
	r.ProcessTime = int64(h.ProcessTime)
	r.Timestamp = h.Timestamp().UnixMilli()
	r.CompressionFrq = int64(h.CompressionFrq)
	r.CompressionTime = int64(h.CompressionTime)
	r.AvgTime = int64(h.AvgTime)
	r.AvgFrq = int64(h.AvgFrq)
	r.SampleFrequency = int64(h.SampleFrequency)
	r.FrqBands = int64(h.FrqBands)
	r.FrqPerBand = h.FrqPerBand
	r.SpecDuration = h.SpecDuration
	r.SpecCount = h.SpecCount
	r.BytesPerSample = int64(h.BytesPerSample)
	r.BitResolution = int64(h.BitResolution)
	r.FFTLogShift = int64(h.FFTLogShift)
	r.MaxAmplitude = int64(h.MaxAmplitude)
	r.Flags = int64(h.Flags)
	r.DBSize = int64(h.DBSize)
	r.DBHeaderSize = int64(h.DBHeaderSize)
	r.DBCount = h.DBCount
	r.Codec = h.Codec.String()
	r.HeaderSize = int64(h.HeaderSize)
	r.PayloadOffset = h.PayloadOffset
	r.PayloadLength = h.PayloadLength
	r.Checksum = int64(h.Checksum)
	r.Comment = h.Comment
	return r
}

// Failed builds a parked record for a file that could not be decoded. When
// prev is given its header fields are kept, so a file that breaks after
// being indexed does not lose its history.
func Failed(path string, fi fs.FileInfo, fp fingerprint.Fingerprint, cause error, prev *Record, now time.Time) *Record {
	var r *Record
	if prev != nil {
		r = prev.Clone()
		fresh := newRecord(path, fi, fp, now)
		r.Size, r.ModTime, r.Fingerprint, r.IndexedAt = fresh.Size, fresh.ModTime, fresh.Fingerprint, fresh.IndexedAt
	} else {
		r = newRecord(path, fi, fp, now)
	}
	r.State = StateFailed
	r.Error = cause.Error()
	return r
}

func newRecord(path string, fi fs.FileInfo, fp fingerprint.Fingerprint, now time.Time) *Record {
	r := &Record{
		Path:        path,
		Directory:   filepath.Dir(path),
		Filename:    filepath.Base(path),
		Fingerprint: fp.String(),
		IndexedAt:   now.UnixNano(),
	}
	if fi != nil {
		r.Size = fi.Size()
		r.ModTime = fi.ModTime().UnixNano()
	}
	return r
}

// Clone returns a copy of r.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// Validate checks the invariants every stored record must satisfy.
func (r *Record) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("record path is required")
	}
	if !filepath.IsAbs(r.Path) {
		return fmt.Errorf("record path %q must be absolute", r.Path)
	}
	if r.Directory != filepath.Dir(r.Path) || r.Filename != filepath.Base(r.Path) {
		return fmt.Errorf("record %q has inconsistent directory/filename", r.Path)
	}
	if !r.State.Valid() {
		return fmt.Errorf("record %q has invalid state %q", r.Path, r.State)
	}
	if r.Fingerprint == "" {
		return fmt.Errorf("record %q has no fingerprint", r.Path)
	}
	return nil
}

// ModifiedAt returns the file modification time seen when indexed.
func (r *Record) ModifiedAt() time.Time { return time.Unix(0, r.ModTime) }

// MeasuredAt returns the measure start time of the buffer.
func (r *Record) MeasuredAt() time.Time { return time.UnixMilli(r.Timestamp).UTC() }

// DataModeName returns the symbolic data mode.
func (r *Record) DataModeName() string { return buffer.DataMode(r.DataMode).String() }

// DataTypeName returns the symbolic data type.
func (r *Record) DataTypeName() string { return buffer.DataType(r.DataType).String() }
