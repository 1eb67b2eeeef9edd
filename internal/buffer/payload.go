package buffer

import (
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"math"
)

// Payload gives lazy access to the data blocks of a buffer. Nothing is read
// until a block is requested.
type Payload struct {
	r    io.ReaderAt
	h    *Header
	path string
}

// NewPayload returns the payload accessor for a header decoded from r.
func NewPayload(r io.ReaderAt, h *Header) *Payload {
	return &Payload{r: r, h: h}
}

// Block is one data block: its parsed block header and decompressed data.
type Block struct {
	Index  int
	Offset int64 // file offset of the block header
	Info   BlockInfo
	Data   []byte
}

// BlockInfo holds the keywords of a data block header.
type BlockInfo struct {
	FirstSample int64
	LastSample  int64
	Filled      int32
	Keywords    map[string]any
}

// Blocks yields every data block in file order. The sequence is finite and
// can be ranged over again to restart from the first block.
func (p *Payload) Blocks() iter.Seq2[*Block, error] {
	return p.blocksFrom(0, p.h.PayloadOffset)
}

func (p *Payload) blocksFrom(index int, off int64) iter.Seq2[*Block, error] {
	return func(yield func(*Block, error) bool) {
		end := p.h.PayloadOffset + p.h.PayloadLength
		for i := index; off < end; i++ {
			b, next, err := p.readBlock(i, off, end)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(b, nil) {
				return
			}
			off = next
		}
	}
}

func (p *Payload) readBlock(index int, off, end int64) (*Block, int64, error) {
	h := p.h
	dataAt := off + int64(h.DBHeaderSize)
	if dataAt > end {
		return nil, 0, p.truncated(dataAt, end)
	}

	hdr := make([]byte, h.DBHeaderSize)
	if err := p.read(hdr, off); err != nil {
		return nil, 0, err
	}
	b := &Block{Index: index, Offset: off, Info: parseBlockInfo(hdr)}

	if h.Codec == CodecRaw {
		n := min(int64(h.DBSize), end-dataAt)
		b.Data = make([]byte, n)
		if err := p.read(b.Data, dataAt); err != nil {
			return nil, 0, err
		}
		return b, dataAt + n, nil
	}

	if dataAt+frameHeaderSize > end {
		return nil, 0, p.truncated(dataAt+frameHeaderSize, end)
	}
	frame := make([]byte, frameHeaderSize)
	if err := p.read(frame, dataAt); err != nil {
		return nil, 0, err
	}
	raw, stored := frameSizes(frame)
	if raw > int(h.DBSize) {
		return nil, 0, &FormatError{Path: p.path, Offset: dataAt, Reason: fmt.Sprintf("block expands to %d bytes, limit %d", raw, h.DBSize)}
	}
	bodyAt := dataAt + frameHeaderSize
	next := bodyAt + int64(stored)
	if next > end {
		return nil, 0, p.truncated(next, end)
	}
	body := make([]byte, stored)
	if err := p.read(body, bodyAt); err != nil {
		return nil, 0, err
	}
	data, err := decodeFrame(h.Codec, frame, body)
	if err != nil {
		return nil, 0, &FormatError{Path: p.path, Offset: dataAt, Reason: err.Error()}
	}
	b.Data = data
	return b, next, nil
}

func (p *Payload) truncated(want, end int64) error {
	return &TruncatedError{Path: p.path, What: "block", Want: want, Got: end}
}

func (p *Payload) read(buf []byte, off int64) error {
	if len(buf) == 0 {
		return nil
	}
	return withPath(readFullAt(p.r, buf, off, "block"), p.path)
}

func parseBlockInfo(raw []byte) BlockInfo {
	var info BlockInfo
	if len(raw) == 0 || raw[0] == 0 {
		return info
	}
	info.Keywords = make(map[string]any)
	kr := &keywordReader{buf: raw, limit: len(raw), table: blockKeywords}
	for {
		// block headers are zero padded; a parse error marks the end
		e, ok, err := kr.next("blockend")
		if err != nil || !ok {
			break
		}
		info.Keywords[e.name] = e.value
	}
	info.FirstSample = i64(info.Keywords, "firstsam", 0)
	info.LastSample = i64(info.Keywords, "lastsamp", 0)
	info.Filled = i32(info.Keywords, "dbfilled", 0)
	return info
}

// Spectra returns spectra [from, to) as rows of FrqBands amplitudes.
// to is clamped to the number of spectra in the buffer.
func (p *Payload) Spectra(from, to int64) ([][]float64, error) {
	h := p.h
	if to > h.SpecCount {
		to = h.SpecCount
	}
	if from < 0 || from > to {
		return nil, fmt.Errorf("invalid spectrum range [%d, %d)", from, to)
	}
	bands := int64(h.FrqBands)
	bps := int64(h.BytesPerSample)
	first, last := from*bands, to*bands
	out := make([]float64, 0, min(last-first, h.RawLength/bps))

	seq := p.Blocks()
	sample := int64(0)
	if perBlock := int64(h.DBSize) / bps; h.Codec == CodecRaw && perBlock > 0 {
		// raw blocks sit at a fixed stride, so jump to the first one needed
		start := first / perBlock
		sample = start * perBlock
		seq = p.blocksFrom(int(start), h.PayloadOffset+start*(int64(h.DBSize)+int64(h.DBHeaderSize)))
	}

	for b, err := range seq {
		if err != nil {
			return nil, err
		}
		n := int64(len(b.Data)) / bps
		lo, hi := max(first, sample), min(last, sample+n)
		if lo < hi {
			out = appendSamples(out, b.Data[(lo-sample)*bps:(hi-sample)*bps], h.SampleKind())
		}
		sample += n
		if sample >= last {
			break
		}
	}

	rows := make([][]float64, 0, int64(len(out))/bands)
	for i := int64(0); i+bands <= int64(len(out)); i += bands {
		rows = append(rows, out[i:i+bands])
	}
	return rows, nil
}

func appendSamples(dst []float64, data []byte, kind SampleKind) []float64 {
	switch kind {
	case SampleUint16:
		for i := 0; i+2 <= len(data); i += 2 {
			dst = append(dst, float64(binary.LittleEndian.Uint16(data[i:])))
		}
	case SampleUint32:
		for i := 0; i+4 <= len(data); i += 4 {
			dst = append(dst, float64(binary.LittleEndian.Uint32(data[i:])))
		}
	case SampleFloat32:
		for i := 0; i+4 <= len(data); i += 4 {
			dst = append(dst, float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i:]))))
		}
	}
	return dst
}

// PackSamples encodes values in the sample representation of h.
func PackSamples(h *Header, values []float64) []byte {
	kind := h.SampleKind()
	width := 4
	if kind == SampleUint16 {
		width = 2
	}
	out := make([]byte, len(values)*width)
	for i, v := range values {
		switch kind {
		case SampleUint16:
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		case SampleUint32:
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		case SampleFloat32:
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		}
	}
	return out
}
