package buffer

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/zeebo/blake3"
)

// Supported format versions.
const (
	MinVersion     = 1
	CurrentVersion = 4
)

// SupportedVersion reports whether v can be decoded.
func SupportedVersion(v int32) bool { return v >= MinVersion && v <= CurrentVersion }

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the decoded, immutable description of one buffer.
type Header struct {
	Version     int32 `json:"version" yaml:"version"`
	DataVersion int32 `json:"data_version" yaml:"data_version"`
	HeaderSize  int32 `json:"header_size" yaml:"header_size"`

	DataMode DataMode `json:"datamode" yaml:"datamode"`
	DataType DataType `json:"datatype" yaml:"datatype"`
	DataKind DataKind `json:"datakind" yaml:"datakind"`
	ADCType  ADCType  `json:"adc_type" yaml:"adc_type"`

	ProjectID   uint64 `json:"project_id" yaml:"project_id"`
	Process     int32  `json:"process" yaml:"process"`
	Channel     int32  `json:"channel" yaml:"channel"` // 1-based; stored 0-based as dumpchan
	ProcessTime uint32 `json:"process_time" yaml:"process_time"`
	EpochTime   int64  `json:"epoch_time" yaml:"epoch_time"` // measure start, ms since epoch; 0 on old files

	CompressionFrq  int32 `json:"compression_frq" yaml:"compression_frq"`
	CompressionTime int32 `json:"compression_time" yaml:"compression_time"`
	AvgTime         int32 `json:"avg_time" yaml:"avg_time"`
	AvgFrq          int32 `json:"avg_frq" yaml:"avg_frq"`

	SampleFrequency int32   `json:"sample_frequency" yaml:"sample_frequency"`
	FrqBands        int32   `json:"frq_bands" yaml:"frq_bands"`
	FrqPerBand      float64 `json:"frq_per_band" yaml:"frq_per_band"`
	SpecDuration    float64 `json:"spec_duration" yaml:"spec_duration"` // ns
	BytesPerSample  int32   `json:"bytes_per_sample" yaml:"bytes_per_sample"`
	BitResolution   int32   `json:"bit_resolution" yaml:"bit_resolution"`
	FFTLogShift     int32   `json:"fft_log_shift" yaml:"fft_log_shift"`
	MaxAmplitude    int32   `json:"max_amplitude" yaml:"max_amplitude"`
	Flags           int32   `json:"flags" yaml:"flags"`

	DBSize       int32 `json:"db_size" yaml:"db_size"`
	DBHeaderSize int32 `json:"db_header_size" yaml:"db_header_size"`
	DBCount      int64 `json:"db_count" yaml:"db_count"`
	SpecCount    int64 `json:"spec_count" yaml:"spec_count"`

	Codec         Codec `json:"codec" yaml:"codec"`
	PayloadOffset int64 `json:"payload_offset" yaml:"payload_offset"`
	PayloadLength int64 `json:"payload_length" yaml:"payload_length"`
	RawLength     int64 `json:"raw_length" yaml:"raw_length"`

	Checksum    uint32 `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	HasChecksum bool   `json:"has_checksum" yaml:"has_checksum"`

	Comment     string `json:"comment,omitempty" yaml:"comment,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Hash is the hex BLAKE3 digest of the raw header bytes.
	Hash string `json:"hash" yaml:"hash"`

	// Keywords holds every decoded keyword value by name, including those
	// without a dedicated field.
	Keywords map[string]any `json:"-" yaml:"-"`
}

// Timestamp returns the measure start, falling back to the file creation
// time for formats without epoctime.
func (h *Header) Timestamp() time.Time {
	if h.EpochTime != 0 {
		return time.UnixMilli(h.EpochTime).UTC()
	}
	return time.Unix(int64(h.ProcessTime), 0).UTC()
}

// SampleKind returns how samples are stored.
func (h *Header) SampleKind() SampleKind {
	if h.BytesPerSample == 2 {
		return SampleUint16
	}
	if h.Flags&flagFloat != 0 {
		return SampleFloat32
	}
	return SampleUint32
}

// Shape returns the payload dimensions as spectra x frequency bands.
func (h *Header) Shape() (spectra int64, bands int32) {
	return h.SpecCount, h.FrqBands
}

// Decode reads and validates the header of the buffer in r.
func Decode(r io.ReaderAt, size int64) (*Header, error) {
	if size < preambleSize {
		return nil, &TruncatedError{What: "preamble", Want: preambleSize, Got: size}
	}
	pre := make([]byte, preambleSize)
	if err := readFullAt(r, pre, 0, "preamble"); err != nil {
		return nil, err
	}
	if string(pre[:12]) != kwMagic+"----" {
		return nil, &FormatError{Offset: 0, Reason: "missing qassdata marker"}
	}
	if string(pre[16:28]) != kwVersion+"----" {
		return nil, &FormatError{Offset: 16, Reason: "missing filevers keyword"}
	}
	headerSize := int32(binary.LittleEndian.Uint32(pre[12:16]))
	version := int32(binary.LittleEndian.Uint32(pre[28:32]))
	if !SupportedVersion(version) {
		return nil, &FormatError{Offset: 28, Reason: fmt.Sprintf("unsupported format version %d", version)}
	}
	if headerSize < preambleSize || headerSize > maxHeaderSize {
		return nil, &FormatError{Offset: 12, Reason: fmt.Sprintf("implausible header size %d", headerSize)}
	}
	if size < int64(headerSize) {
		return nil, &TruncatedError{What: "header", Want: int64(headerSize), Got: size}
	}

	buf := make([]byte, headerSize)
	if err := readFullAt(r, buf, 0, "header"); err != nil {
		return nil, err
	}

	values := make(map[string]any)
	checksumAt := -1
	kr := &keywordReader{buf: buf, limit: len(buf), table: headerKeywords}
	for {
		e, ok, err := kr.next(kwEnd)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if e.name == kwChecksum {
			checksumAt = e.start
		}
		values[e.name] = e.value
	}

	h, err := newHeader(values, headerSize, size)
	if err != nil {
		return nil, err
	}
	if checksumAt >= 0 {
		sum := crc32.Checksum(buf[:checksumAt], castagnoli)
		if sum != h.Checksum {
			return nil, &FormatError{Offset: int64(checksumAt), Reason: fmt.Sprintf("header checksum mismatch: stored %08x, computed %08x", h.Checksum, sum)}
		}
	}
	digest := blake3.Sum256(buf)
	h.Hash = hex.EncodeToString(digest[:])
	return h, nil
}

func newHeader(v map[string]any, headerSize int32, size int64) (*Header, error) {
	for _, name := range []string{"b_p_samp", "s_p_fram", "db__size", "dbhdsize"} {
		if _, ok := v[name]; !ok {
			return nil, &FormatError{Offset: int64(headerSize), Reason: "missing required keyword " + name}
		}
	}

	h := &Header{
		Version:         i32(v, kwVersion, 0),
		DataVersion:     i32(v, "datavers", 0),
		HeaderSize:      headerSize,
		DataMode:        DataMode(i32(v, "datamode", int32(DataModeUndefined))),
		DataType:        DataType(i32(v, "datatype", int32(DataTypeUndefined))),
		DataKind:        DataKind(i32(v, "datakind", int32(DataKindUndefined))),
		ADCType:         ADCType(i32(v, "adc_type", 0)),
		ProjectID:       u64(v, "proj__id"),
		Process:         i32(v, "proc_cnt", 0),
		Channel:         i32(v, "dumpchan", 0) + 1,
		ProcessTime:     u32(v, "proctime"),
		EpochTime:       i64(v, "epoctime", 0),
		CompressionFrq:  i32(v, "frqratio", 1),
		CompressionTime: i32(v, "comratio", 1),
		AvgTime:         i32(v, "auxpara1", 1),
		AvgFrq:          i32(v, "auxpara2", 1),
		SampleFrequency: i32(v, "samplefr", 0),
		FrqBands:        i32(v, "s_p_fram", 0),
		FrqPerBand:      f64(v, "frqpband"),
		BytesPerSample:  i32(v, "b_p_samp", 0),
		BitResolution:   i32(v, "adbitres", 0),
		FFTLogShift:     i32(v, "fftlogsh", 0),
		MaxAmplitude:    i32(v, "max_ampl", 0),
		Flags:           i32(v, "p__flags", 0),
		DBSize:          i32(v, "db__size", 0),
		DBHeaderSize:    i32(v, "dbhdsize", 0),
		Codec:           Codec(i32(v, kwCodec, 0)),
		PayloadOffset:   int64(headerSize),
		Checksum:        u32(v, kwChecksum),
		Comment:         str(v, "comments"),
		Description:     str(v, "asc_desc"),
		Keywords:        v,
	}
	_, h.HasChecksum = v[kwChecksum]

	bad := func(reason string) error {
		return &FormatError{Offset: int64(headerSize), Reason: reason}
	}
	switch {
	case h.BytesPerSample != 2 && h.BytesPerSample != 4:
		return nil, bad(fmt.Sprintf("unsupported sample width %d", h.BytesPerSample))
	case h.FrqBands <= 0:
		return nil, bad(fmt.Sprintf("invalid frequency band count %d", h.FrqBands))
	case h.DBSize <= 0 || h.DBHeaderSize < 0:
		return nil, bad(fmt.Sprintf("invalid data block geometry %d+%d", h.DBHeaderSize, h.DBSize))
	case h.CompressionFrq < 1:
		return nil, bad(fmt.Sprintf("invalid frequency compression factor %d", h.CompressionFrq))
	case h.CompressionTime < 1:
		return nil, bad(fmt.Sprintf("invalid time compression factor %d", h.CompressionTime))
	case !h.Codec.Valid():
		return nil, bad(fmt.Sprintf("unsupported payload codec %d", uint8(h.Codec)))
	}

	if declared, ok := v[kwPayloadLen].(int64); ok {
		if declared < 0 {
			return nil, bad(fmt.Sprintf("negative payload length %d", declared))
		}
		if end := h.PayloadOffset + declared; end > size {
			return nil, &TruncatedError{What: "payload", Want: end, Got: size}
		}
		h.PayloadLength = declared
	} else {
		h.PayloadLength = size - h.PayloadOffset
	}

	if h.Codec == CodecRaw {
		h.RawLength = h.PayloadLength
	} else {
		raw, ok := v[kwRawLen].(int64)
		if !ok || raw < 0 {
			return nil, bad("compressed payload without rawlen__")
		}
		h.RawLength = raw
	}

	stride := int64(h.DBSize) + int64(h.DBHeaderSize)
	h.DBCount = h.RawLength / stride
	if h.RawLength%stride != 0 {
		h.DBCount++
	}
	if h.Codec != CodecRaw {
		// every stored block carries at least its header and a frame header
		minBlock := int64(h.DBHeaderSize) + frameHeaderSize
		if maxBlocks := (h.PayloadLength + minBlock - 1) / minBlock; h.DBCount > maxBlocks {
			return nil, bad(fmt.Sprintf("rawlen__ %d exceeds what %d payload bytes can hold", h.RawLength, h.PayloadLength))
		}
	}
	if samples := (h.RawLength - h.DBCount*int64(h.DBHeaderSize)) / int64(h.BytesPerSample); samples > 0 {
		h.SpecCount = samples / int64(h.FrqBands)
	}
	h.SpecDuration = specDuration(h, v)
	return h, nil
}

func specDuration(h *Header, v map[string]any) float64 {
	if d, ok := v["framedur"].(float64); ok {
		return d
	}
	if h.SampleFrequency <= 0 {
		return 0
	}
	switch h.DataMode {
	case DataModeFFT:
		overs, ok := v["fftovers"].(int32)
		if !ok || overs < 0 || overs > 30 {
			return 0
		}
		return 1e9 / ((float64(h.SampleFrequency) * float64(int64(1)<<overs)) / 1024) * float64(h.CompressionTime)
	case DataModeSignal:
		return float64(int64(1e9 / float64(h.SampleFrequency) * float64(h.CompressionTime)))
	}
	return 0
}

func readFullAt(r io.ReaderAt, p []byte, off int64, what string) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TruncatedError{What: what, Want: off + int64(len(p)), Got: off + int64(n)}
	}
	return &IOError{Op: "read " + what, Err: err}
}

func i32(v map[string]any, name string, def int32) int32 {
	if x, ok := v[name].(int32); ok {
		return x
	}
	return def
}

func i64(v map[string]any, name string, def int64) int64 {
	if x, ok := v[name].(int64); ok {
		return x
	}
	return def
}

func u32(v map[string]any, name string) uint32 {
	x, _ := v[name].(uint32)
	return x
}

func u64(v map[string]any, name string) uint64 {
	x, _ := v[name].(uint64)
	return x
}

func f64(v map[string]any, name string) float64 {
	x, _ := v[name].(float64)
	return x
}

func str(v map[string]any, name string) string {
	x, _ := v[name].(string)
	return x
}
