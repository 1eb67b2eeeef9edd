package buffer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

// blockHeaderSize is the size of the block header keywords Encoder writes.
const blockHeaderSize = (12 + 4) + (16 + 8) + (16 + 8) + (12 + 4) + 8

// Encoder writes buffer files. The zero value writes raw-compatible files
// with a declared payload length and no header checksum.
type Encoder struct {
	// Checksum adds a hdrcksum keyword covering the header bytes before it.
	Checksum bool

	// OmitPayloadLength leaves out pay_len_, as older writers did. Readers
	// then take the payload to run until the end of the file.
	OmitPayloadLength bool
}

// Encode writes h followed by data, split into data blocks of h.DBSize bytes
// and compressed per h.Codec. Derived fields of h (sizes, counts, hash) are
// ignored and recomputed by Decode.
func (e *Encoder) Encode(w io.Writer, h *Header, data []byte) error {
	if err := validateForWrite(h); err != nil {
		return err
	}

	payload, err := encodePayload(h, data)
	if err != nil {
		return err
	}
	rawLen := int64(len(data))
	if h.DBSize > 0 {
		blocks := (rawLen + int64(h.DBSize) - 1) / int64(h.DBSize)
		rawLen += blocks * int64(h.DBHeaderSize)
	}

	header := e.encodeHeader(h, int64(len(payload)), rawLen)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// WriteFile encodes a buffer into path, creating parent directories.
func (e *Encoder) WriteFile(path string, h *Header, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create buffer file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := e.Encode(w, h, data); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush buffer file: %w", err)
	}
	return f.Close()
}

// WriteFile encodes a buffer into path with the default Encoder.
func WriteFile(path string, h *Header, data []byte) error {
	return (&Encoder{}).WriteFile(path, h, data)
}

func validateForWrite(h *Header) error {
	switch {
	case h.BytesPerSample != 2 && h.BytesPerSample != 4:
		return fmt.Errorf("unsupported sample width %d", h.BytesPerSample)
	case h.FrqBands <= 0:
		return fmt.Errorf("invalid frequency band count %d", h.FrqBands)
	case h.DBSize <= 0:
		return fmt.Errorf("invalid data block size %d", h.DBSize)
	case h.DBHeaderSize < 0:
		return fmt.Errorf("invalid data block header size %d", h.DBHeaderSize)
	case !h.Codec.Valid():
		return fmt.Errorf("unsupported payload codec %d", uint8(h.Codec))
	case h.Version != 0 && !SupportedVersion(h.Version):
		return fmt.Errorf("unsupported format version %d", h.Version)
	}
	return nil
}

func encodePayload(h *Header, data []byte) ([]byte, error) {
	var out []byte
	bps := int64(h.BytesPerSample)
	for i, off := 0, 0; off < len(data); i++ {
		end := min(off+int(h.DBSize), len(data))
		chunk := data[off:end]

		out = append(out, encodeBlockHeader(h, i, int64(off)/bps, int64(end)/bps-1, len(chunk))...)
		if h.Codec == CodecRaw {
			out = append(out, chunk...)
		} else {
			frame, err := encodeFrame(h.Codec, chunk)
			if err != nil {
				return nil, err
			}
			out = append(out, frame...)
		}
		off = end
	}
	return out, nil
}

func encodeBlockHeader(h *Header, index int, first, last int64, filled int) []byte {
	out := make([]byte, 0, h.DBHeaderSize)
	if int(h.DBHeaderSize) >= blockHeaderSize {
		out = appendKeyword(out, "blochead----", kindInt32, int32(index))
		out = appendKeyword(out, "firstsam--------", kindInt64, first)
		out = appendKeyword(out, "lastsamp--------", kindInt64, last)
		out = appendKeyword(out, "dbfilled----", kindInt32, int32(filled))
		out = append(out, "blockend"...)
	}
	return append(out, make([]byte, int(h.DBHeaderSize)-len(out))...)
}

func appendKeyword(b []byte, token string, kind valueKind, v any) []byte {
	b = append(b, token...)
	return putValue(b, kind, v)
}

func appendText(b []byte, token, text string) []byte {
	b = appendKeyword(b, token, kindUint32, uint32(len(text)))
	return append(b, text...)
}

func (e *Encoder) encodeHeader(h *Header, payloadLen, rawLen int64) []byte {
	version := h.Version
	if version == 0 {
		version = CurrentVersion
	}
	frq, tim := h.CompressionFrq, h.CompressionTime
	if frq == 0 {
		frq = 1
	}
	if tim == 0 {
		tim = 1
	}
	avgT, avgF := h.AvgTime, h.AvgFrq
	if avgT == 0 {
		avgT = 1
	}
	if avgF == 0 {
		avgF = 1
	}

	b := appendKeyword(nil, "qassdata----", kindInt32, int32(0))
	b = appendKeyword(b, "filevers----", kindInt32, version)
	b = appendKeyword(b, "datavers----", kindInt32, h.DataVersion)
	b = appendKeyword(b, "datamode----", kindInt32, int32(h.DataMode))
	b = appendKeyword(b, "datatype----", kindInt32, int32(h.DataType))
	b = appendKeyword(b, "datakind----", kindInt32, int32(h.DataKind))
	b = appendKeyword(b, "b_p_samp----", kindInt32, h.BytesPerSample)
	b = appendKeyword(b, "s_p_fram----", kindInt32, h.FrqBands)
	b = appendKeyword(b, "db__size----", kindInt32, h.DBSize)
	b = appendKeyword(b, "dbhdsize----", kindInt32, h.DBHeaderSize)
	b = appendKeyword(b, "max_ampl----", kindInt32, h.MaxAmplitude)
	b = appendKeyword(b, "samplefr----", kindInt32, h.SampleFrequency)
	b = appendKeyword(b, "fftlogsh----", kindInt32, h.FFTLogShift)
	b = appendKeyword(b, "comratio----", kindInt32, tim)
	b = appendKeyword(b, "frqratio----", kindInt32, frq)
	b = appendKeyword(b, "proj__id--------", kindUint64, h.ProjectID)
	b = appendKeyword(b, "proc_cnt----", kindInt32, h.Process)
	b = appendKeyword(b, "dumpchan----", kindInt32, h.Channel-1)
	b = appendKeyword(b, "proctime----", kindUint32, h.ProcessTime)
	if h.EpochTime != 0 {
		b = appendKeyword(b, "epoctime--------", kindInt64, h.EpochTime)
	}
	b = appendKeyword(b, "auxpara1----", kindInt32, avgT)
	b = appendKeyword(b, "auxpara2----", kindInt32, avgF)
	if h.FrqPerBand != 0 {
		b = appendKeyword(b, "frqpband--------", kindFloat64, h.FrqPerBand)
	}
	if h.SpecDuration != 0 {
		b = appendKeyword(b, "framedur--------", kindFloat64, h.SpecDuration)
	}
	b = appendKeyword(b, "p__flags----", kindInt32, h.Flags)
	b = appendKeyword(b, "adc_type----", kindInt32, int32(h.ADCType))
	b = appendKeyword(b, "adbitres----", kindInt32, h.BitResolution)
	if h.Codec != CodecRaw {
		b = appendKeyword(b, "paycodec----", kindInt32, int32(h.Codec))
		b = appendKeyword(b, "rawlen__--------", kindInt64, rawLen)
	}
	if !e.OmitPayloadLength {
		b = appendKeyword(b, "pay_len_--------", kindInt64, payloadLen)
	}
	if h.Description != "" {
		b = appendText(b, "asc_desc----", h.Description)
	}
	if h.Comment != "" {
		b = appendText(b, "comments----", h.Comment)
	}

	size := len(b) + len(kwEnd)
	if e.Checksum {
		size += 12 + 4
	}
	binary.LittleEndian.PutUint32(b[12:], uint32(size))
	if e.Checksum {
		b = appendKeyword(b, "hdrcksum----", kindUint32, crc32.Checksum(b, castagnoli))
	}
	return append(b, kwEnd...)
}
