package buffer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// testHeader returns a small FFT buffer header: 4 bands, 64-byte blocks.
func testHeader() *Header {
	return &Header{
		DataMode:        DataModeFFT,
		DataType:        DataTypeRaw,
		DataKind:        DataKindNone,
		Process:         123,
		Channel:         1,
		ProcessTime:     1700000000,
		EpochTime:       1700000000123,
		CompressionFrq:  8,
		CompressionTime: 4,
		SampleFrequency: 100000,
		FrqBands:        4,
		BytesPerSample:  2,
		DBSize:          64,
		DBHeaderSize:    128,
		SpecDuration:    81920,
		Comment:         "weld seam 7",
	}
}

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func writeTestBuffer(t *testing.T, enc *Encoder, h *Header, values []float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "p000123c0b01")
	if err := enc.WriteFile(path, h, PackSamples(h, values)); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

func TestOpen_DecodesHeader(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
	}{
		{"raw", CodecRaw},
		{"lz4", CodecLZ4},
		{"zstd", CodecZstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHeader()
			h.Codec = tt.codec
			path := writeTestBuffer(t, &Encoder{Checksum: true}, h, ramp(100))

			buf, err := Open(path)
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			defer buf.Close()

			got := buf.Header
			if got.Version != CurrentVersion {
				t.Errorf("Version = %d, want %d", got.Version, CurrentVersion)
			}
			if got.Process != 123 || got.Channel != 1 {
				t.Errorf("Process/Channel = %d/%d, want 123/1", got.Process, got.Channel)
			}
			if got.CompressionFrq != 8 || got.CompressionTime != 4 {
				t.Errorf("compression = %d/%d, want 8/4", got.CompressionFrq, got.CompressionTime)
			}
			if got.Codec != tt.codec {
				t.Errorf("Codec = %s, want %s", got.Codec, tt.codec)
			}
			if got.DBCount != 4 {
				t.Errorf("DBCount = %d, want 4", got.DBCount)
			}
			if got.SpecCount != 25 {
				t.Errorf("SpecCount = %d, want 25", got.SpecCount)
			}
			if got.PayloadOffset+got.PayloadLength != buf.Size {
				t.Errorf("payload end = %d, want file size %d", got.PayloadOffset+got.PayloadLength, buf.Size)
			}
			if !got.HasChecksum {
				t.Error("HasChecksum = false, want true")
			}
			if got.Comment != "weld seam 7" {
				t.Errorf("Comment = %q", got.Comment)
			}
			if got.Timestamp().UnixMilli() != 1700000000123 {
				t.Errorf("Timestamp = %v", got.Timestamp())
			}
			if got.AvgTime != 1 || got.AvgFrq != 1 {
				t.Errorf("averaging defaults = %d/%d, want 1/1", got.AvgTime, got.AvgFrq)
			}
		})
	}
}

func TestDecode_Deterministic(t *testing.T) {
	path := writeTestBuffer(t, &Encoder{}, testHeader(), ramp(100))

	first, err := ReadHeader(context.Background(), path)
	if err != nil {
		t.Fatalf("first ReadHeader() failed: %v", err)
	}
	second, err := ReadHeader(context.Background(), path)
	if err != nil {
		t.Fatalf("second ReadHeader() failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("headers differ between reads:\n%+v\n%+v", first, second)
	}
	if first.Hash == "" {
		t.Error("Hash is empty")
	}
}

func TestDecode_FormatErrors(t *testing.T) {
	valid := func(t *testing.T) []byte {
		var b bytes.Buffer
		if err := (&Encoder{Checksum: true}).Encode(&b, testHeader(), PackSamples(testHeader(), ramp(40))); err != nil {
			t.Fatalf("Encode() failed: %v", err)
		}
		return b.Bytes()
	}

	tests := []struct {
		name   string
		mutate func(t *testing.T) []byte
	}{
		{
			name: "missing magic",
			mutate: func(t *testing.T) []byte {
				b := valid(t)
				copy(b, "notqass!")
				return b
			},
		},
		{
			name: "unsupported version",
			mutate: func(t *testing.T) []byte {
				b := valid(t)
				binary.LittleEndian.PutUint32(b[28:], 99)
				return b
			},
		},
		{
			name: "checksum mismatch",
			mutate: func(t *testing.T) []byte {
				b := valid(t)
				i := bytes.Index(b, []byte("proc_cnt----"))
				b[i+12]++
				return b
			},
		},
		{
			name: "unknown codec",
			mutate: func(t *testing.T) []byte {
				h := testHeader()
				h.Codec = 7
				return (&Encoder{}).encodeHeader(h, 0, 0)
			},
		},
		{
			name: "invalid compression factor",
			mutate: func(t *testing.T) []byte {
				h := testHeader()
				h.CompressionFrq = -2
				return (&Encoder{}).encodeHeader(h, 0, 0)
			},
		},
		{
			name: "garbage inside header",
			mutate: func(t *testing.T) []byte {
				b := valid(t)
				i := bytes.Index(b, []byte("samplefr----"))
				copy(b[i:], "\xff\xfe\xfd\xfc\xfb\xfa\xf9\xf8")
				return b
			},
		},
		{
			name: "raw length beyond payload",
			mutate: func(t *testing.T) []byte {
				h := testHeader()
				h.Codec = CodecZstd
				var b bytes.Buffer
				if err := (&Encoder{}).Encode(&b, h, PackSamples(h, ramp(40))); err != nil {
					t.Fatalf("Encode() failed: %v", err)
				}
				out := b.Bytes()
				i := bytes.Index(out, []byte("rawlen__--------"))
				binary.LittleEndian.PutUint64(out[i+16:], 1<<62)
				return out
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.mutate(t)
			_, err := Decode(bytes.NewReader(b), int64(len(b)))
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("Decode() error = %v, want ErrFormat", err)
			}
			if IsRetryable(err) {
				t.Error("format errors must not be retryable")
			}
		})
	}
}

func TestDecode_Truncated(t *testing.T) {
	var b bytes.Buffer
	h := testHeader()
	if err := (&Encoder{}).Encode(&b, h, PackSamples(h, ramp(100))); err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	full := b.Bytes()

	tests := []struct {
		name string
		size int
		what string
	}{
		{"empty", 0, "preamble"},
		{"inside preamble", 20, "preamble"},
		{"inside header", 60, "header"},
		{"inside payload", len(full) - 10, "payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(full[:tt.size]), int64(tt.size))
			var te *TruncatedError
			if !errors.As(err, &te) {
				t.Fatalf("Decode() error = %v, want TruncatedError", err)
			}
			if te.What != tt.what {
				t.Errorf("What = %q, want %q", te.What, tt.what)
			}
			if !errors.Is(err, ErrTruncated) {
				t.Error("errors.Is(err, ErrTruncated) = false")
			}
		})
	}
}

func TestDecode_LegacyPayloadLength(t *testing.T) {
	var b bytes.Buffer
	h := testHeader()
	if err := (&Encoder{OmitPayloadLength: true}).Encode(&b, h, PackSamples(h, ramp(100))); err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	short := b.Bytes()[:b.Len()-10]

	got, err := Decode(bytes.NewReader(short), int64(len(short)))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if got.PayloadLength != int64(len(short))-int64(got.HeaderSize) {
		t.Errorf("PayloadLength = %d, want rest of file", got.PayloadLength)
	}
}

func TestDecode_SkipsUnknownKeywords(t *testing.T) {
	h := testHeader()
	hdr := (&Encoder{}).encodeHeader(h, 0, 0)

	extra := append([]byte("zzfuture--------"), make([]byte, 8)...)
	extra = append(extra, []byte("zzsmall_----")...)
	extra = append(extra, 1, 2, 3, 4)
	end := len(hdr) - len(kwEnd)
	patched := append(append(append([]byte{}, hdr[:end]...), extra...), hdr[end:]...)
	binary.LittleEndian.PutUint32(patched[12:], uint32(len(patched)))

	got, err := Decode(bytes.NewReader(patched), int64(len(patched)))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if got.Process != h.Process {
		t.Errorf("Process = %d, want %d", got.Process, h.Process)
	}
}

func TestPayload_Blocks(t *testing.T) {
	for _, codec := range []Codec{CodecRaw, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			h := testHeader()
			h.Codec = codec
			values := ramp(100)
			path := writeTestBuffer(t, &Encoder{}, h, values)

			buf, err := Open(path)
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			defer buf.Close()

			// twice: the sequence restarts from the first block
			for pass := 0; pass < 2; pass++ {
				var data []byte
				count := 0
				for block, err := range buf.Payload.Blocks() {
					if err != nil {
						t.Fatalf("Blocks() failed: %v", err)
					}
					if block.Index != count {
						t.Errorf("Index = %d, want %d", block.Index, count)
					}
					if block.Info.FirstSample != int64(count*32) {
						t.Errorf("block %d FirstSample = %d, want %d", count, block.Info.FirstSample, count*32)
					}
					data = append(data, block.Data...)
					count++
				}
				if count != 4 {
					t.Errorf("pass %d: got %d blocks, want 4", pass, count)
				}
				if !bytes.Equal(data, PackSamples(h, values)) {
					t.Errorf("pass %d: block data does not match written samples", pass)
				}
			}
		})
	}
}

func TestPayload_Spectra(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		bps   int32
		flags int32
	}{
		{"uint16 raw", CodecRaw, 2, 0},
		{"uint32 lz4", CodecLZ4, 4, 0},
		{"float32 zstd", CodecZstd, 4, flagFloat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHeader()
			h.Codec = tt.codec
			h.BytesPerSample = tt.bps
			h.Flags = tt.flags
			path := writeTestBuffer(t, &Encoder{}, h, ramp(100))

			buf, err := Open(path)
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			defer buf.Close()

			rows, err := buf.Payload.Spectra(10, 13)
			if err != nil {
				t.Fatalf("Spectra() failed: %v", err)
			}
			if len(rows) != 3 {
				t.Fatalf("got %d spectra, want 3", len(rows))
			}
			for i, row := range rows {
				for band, v := range row {
					want := float64((10+i)*4 + band)
					if v != want {
						t.Errorf("spectrum %d band %d = %v, want %v", 10+i, band, v, want)
					}
				}
			}

			if _, err := buf.Payload.Spectra(5, 2); err == nil {
				t.Error("Spectra(5, 2) succeeded, want error")
			}
		})
	}
}

func TestPayload_SpectraOverstatedCount(t *testing.T) {
	h := testHeader()
	h.Codec = CodecZstd
	path := writeTestBuffer(t, &Encoder{}, h, ramp(100))

	h, err := ReadHeader(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadHeader() failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	h.SpecCount = 1 << 58
	rows, err := NewPayload(f, h).Spectra(0, h.SpecCount)
	if err != nil {
		t.Fatalf("Spectra() failed: %v", err)
	}
	if len(rows) != 25 {
		t.Errorf("got %d spectra, want the 25 actually stored", len(rows))
	}
}

func TestPayload_TruncatedBlock(t *testing.T) {
	h := testHeader()
	h.Codec = CodecZstd
	path := writeTestBuffer(t, &Encoder{OmitPayloadLength: true}, h, ramp(100))

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-4); err != nil {
		t.Fatal(err)
	}

	buf, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer buf.Close()

	var last error
	for _, err := range buf.Payload.Blocks() {
		last = err
	}
	if !errors.Is(last, ErrTruncated) {
		t.Errorf("last block error = %v, want ErrTruncated", last)
	}
}

func TestOpen_NotFound(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open() error = %v, want ErrNotFound", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("NotFoundError should unwrap to fs.ErrNotExist")
	}
	if IsRetryable(err) {
		t.Error("missing files must not be retryable")
	}
}

func TestOpenContext_Cancelled(t *testing.T) {
	path := writeTestBuffer(t, &Encoder{}, testHeader(), ramp(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := OpenContext(ctx, path)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("OpenContext() error = %v, want ErrIO", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("error should wrap context.Canceled")
	}
	if IsRetryable(err) {
		t.Error("cancelled opens must not be retryable")
	}
}

func TestBuffer_CloseTwice(t *testing.T) {
	path := writeTestBuffer(t, &Encoder{}, testHeader(), ramp(10))
	buf, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := buf.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := buf.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"io", &IOError{Path: "x", Op: "read", Err: errors.New("EIO")}, true},
		{"timeout", &IOError{Path: "x", Op: "decode", Err: context.DeadlineExceeded}, false},
		{"format", &FormatError{Reason: "bad"}, false},
		{"truncated", &TruncatedError{What: "header"}, false},
		{"not found", &NotFoundError{Path: "x", Err: fs.ErrNotExist}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseCodec(t *testing.T) {
	for _, c := range []Codec{CodecRaw, CodecLZ4, CodecZstd} {
		got, err := ParseCodec(c.String())
		if err != nil || got != c {
			t.Errorf("ParseCodec(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseCodec("brotli"); err == nil {
		t.Error("ParseCodec(brotli) succeeded, want error")
	}
}
