package buffer

import (
	"encoding/binary"
	"math"
	"strings"
)

type valueKind uint8

const (
	kindNone valueKind = iota
	kindInt32
	kindUint32
	kindInt64
	kindUint64
	kindFloat64
)

func (k valueKind) width() int {
	switch k {
	case kindInt32, kindUint32:
		return 4
	case kindInt64, kindUint64, kindFloat64:
		return 8
	}
	return 0
}

// keyword is one entry of the header grammar. token is the keyword as it
// appears on disk, dash padding included.
type keyword struct {
	token string
	kind  valueKind
}

func (k keyword) name() string { return k.token[:8] }

const (
	kwMagic      = "qassdata"
	kwVersion    = "filevers"
	kwEnd        = "headsend"
	kwChecksum   = "hdrcksum"
	kwCodec      = "paycodec"
	kwPayloadLen = "pay_len_"
	kwRawLen     = "rawlen__"

	keywordNameSize = 8
	preambleSize    = 2 * (12 + 4)
	maxHeaderSize   = 1 << 20
)

// variableKeywords carry a uint32 length followed by that many bytes of text.
var variableKeywords = map[string]bool{
	"asc_desc": true,
	"comments": true,
	"sparemem": true,
}

var headerKeywords = indexKeywords([]keyword{
	{"qassdata----", kindInt32}, {"filevers----", kindInt32},
	{"datavers----", kindInt32}, {"savefrom----", kindInt32},
	{"datamode----", kindInt32}, {"datatype----", kindInt32},
	{"datakind----", kindInt32}, {"framsize----", kindInt32},
	{"smplsize----", kindInt32}, {"frqbands----", kindInt32},
	{"db_words----", kindInt32}, {"avgtimba----", kindInt32},
	{"avgfrqba----", kindInt32}, {"m_u_mask--------", kindUint64},
	{"b_p_samp----", kindInt32}, {"s_p_fram----", kindInt32},
	{"db__size----", kindInt32}, {"max_ampl----", kindInt32},
	{"nul_ampl----", kindInt32}, {"samplert----", kindInt32},
	{"datarate--------", kindFloat64}, {"samplefr----", kindInt32},
	{"frqshift----", kindInt32}, {"fftovers----", kindInt32},
	{"fftlogsh----", kindInt32}, {"fftwinfu----", kindInt32},
	{"dbhdsize----", kindInt32}, {"comratio----", kindInt32},
	{"tc__real--------", kindFloat64}, {"frqratio----", kindInt32},
	{"fc__real--------", kindFloat64}, {"proj__id--------", kindUint64},
	{"file__id--------", kindUint64}, {"parentid--------", kindInt64},
	{"proc_cnt----", kindInt32}, {"proc_rng----", kindInt32},
	{"proc_sub----", kindInt32}, {"poly_cnt----", kindInt32},
	{"polycyid----", kindInt32}, {"dumpchan----", kindInt32},
	{"del_lock----", kindInt32}, {"proctime----", kindUint32},
	{"lmodtime----", kindUint32}, {"epoctime--------", kindInt64},
	{"mux_port----", kindInt32}, {"pampgain----", kindInt32},
	{"dispgain----", kindInt32}, {"linfgain----", kindInt32},
	{"auxpara0----", kindInt32}, {"auxpara1----", kindInt32},
	{"auxpara2----", kindInt32}, {"auxpara3----", kindInt32},
	{"auxpara4----", kindInt32}, {"auxpara5--------", kindInt64},
	{"skipsamp--------", kindInt64}, {"skiptime--------", kindInt64},
	{"trunsamp--------", kindInt64}, {"truntime--------", kindInt64},
	{"skiplfrq----", kindInt32}, {"trunhfrq----", kindInt32},
	{"startfrq----", kindInt32}, {"end__frq----", kindInt32},
	{"frqpband--------", kindFloat64}, {"framedur--------", kindFloat64},
	{"frameoff----", kindInt32}, {"p__flags----", kindInt32},
	{"realfrqc----", kindInt32}, {"sub_data----", kindInt32},
	{"sd_dimen----", kindInt32}, {"sd_rsize----", kindInt32},
	{"sd_rsizf--------", kindFloat64}, {"sd_dsize----", kindInt32},
	{"frqmasks----", kindUint32}, {"frqinmas----", kindUint32},
	{"eheaderf----", kindUint32}, {"adc_type----", kindInt32},
	{"adbitres----", kindInt32}, {"baserate--------", kindInt64},
	{"interpol----", kindInt32}, {"dcoffset----", kindInt32},
	{"dispralo----", kindInt32}, {"disprahi----", kindInt32},
	{"rngtibeg--------", kindInt64}, {"rngtiend--------", kindInt64},
	{"realsoff--------", kindInt64}, {"extendid--------", kindUint64},
	{"sim_mode----", kindInt32}, {"partnoid----", kindUint32},
	{"asc_part----", kindUint32}, {"asc_desc----", kindUint32},
	{"comments----", kindUint32}, {"sparemem----", kindUint32},
	{"paycodec----", kindInt32}, {"pay_len_--------", kindInt64},
	{"rawlen__--------", kindInt64}, {"hdrcksum----", kindUint32},
	{"headsend", kindNone},
})

var blockKeywords = indexKeywords([]keyword{
	{"blochead----", kindInt32}, {"firstsam--------", kindInt64},
	{"lastsamp--------", kindInt64}, {"dbfilled----", kindInt32},
	{"mux_port----", kindInt32}, {"pampgain----", kindInt32},
	{"dispgain----", kindInt32}, {"io_ports----", kindInt32},
	{"dversion----", kindInt32}, {"sine_frq----", kindInt32},
	{"sine_amp----", kindInt32}, {"sd_dimen----", kindInt32},
	{"sd_rsize----", kindInt32}, {"sd_dsize----", kindInt32},
	{"blockend", kindNone},
})

func indexKeywords(kws []keyword) map[string]keyword {
	m := make(map[string]keyword, len(kws))
	for _, kw := range kws {
		m[kw.name()] = kw
	}
	return m
}

func isKeywordByte(c byte) bool {
	return (c >= '_' && c <= 'z') || (c >= '0' && c <= '9')
}

func isPossibleKeyword(b []byte) bool {
	if len(b) < keywordNameSize {
		return false
	}
	for _, c := range b[:keywordNameSize] {
		if !isKeywordByte(c) {
			return false
		}
	}
	return true
}

// dashRun returns the value width announced by the padding at b, or -1.
func dashRun(b []byte) int {
	if len(b) >= 8 && strings.Count(string(b[:8]), "-") == 8 {
		return 8
	}
	if len(b) >= 4 && strings.Count(string(b[:4]), "-") == 4 {
		return 4
	}
	return -1
}

func readValue(b []byte, kind valueKind) any {
	switch kind {
	case kindInt32:
		return int32(binary.LittleEndian.Uint32(b))
	case kindUint32:
		return binary.LittleEndian.Uint32(b)
	case kindInt64:
		return int64(binary.LittleEndian.Uint64(b))
	case kindUint64:
		return binary.LittleEndian.Uint64(b)
	case kindFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return nil
}

func putValue(b []byte, kind valueKind, v any) []byte {
	var tmp [8]byte
	switch kind {
	case kindInt32:
		binary.LittleEndian.PutUint32(tmp[:], uint32(v.(int32)))
	case kindUint32:
		binary.LittleEndian.PutUint32(tmp[:], v.(uint32))
	case kindInt64:
		binary.LittleEndian.PutUint64(tmp[:], uint64(v.(int64)))
	case kindUint64:
		binary.LittleEndian.PutUint64(tmp[:], v.(uint64))
	case kindFloat64:
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v.(float64)))
	}
	return append(b, tmp[:kind.width()]...)
}

// keywordReader walks a keyword stream.
type keywordReader struct {
	buf   []byte
	limit int
	table map[string]keyword
	pos   int
}

// entry is one decoded keyword. start is the offset of the keyword name.
type entry struct {
	name  string
	value any
	start int
}

// next decodes the keyword at the current position. ok is false at the
// terminator or at the end of the stream. Unknown keywords are skipped using
// their dash padding to find the value width.
func (r *keywordReader) next(terminator string) (e entry, ok bool, err error) {
	for {
		if r.pos >= r.limit {
			return entry{}, false, nil
		}
		if r.pos+keywordNameSize > len(r.buf) {
			return entry{}, false, &TruncatedError{What: "header", Want: int64(r.pos + keywordNameSize), Got: int64(len(r.buf))}
		}
		start := r.pos
		raw := r.buf[start : start+keywordNameSize]
		if !isPossibleKeyword(raw) {
			return entry{}, false, &FormatError{Offset: int64(start), Reason: "expected keyword"}
		}
		name := string(raw)
		if name == terminator {
			r.pos += keywordNameSize
			return entry{name: name, start: start}, false, nil
		}

		kw, known := r.table[name]
		if known && !strings.HasPrefix(string(r.buf[start:min(len(r.buf), start+len(kw.token))]), kw.token) {
			known = false
		}
		if !known {
			width := dashRun(r.buf[start+keywordNameSize:])
			if width < 0 {
				return entry{}, false, &FormatError{Offset: int64(start), Reason: "unknown keyword " + name + " without value padding"}
			}
			r.pos = start + keywordNameSize + 2*width
			if r.pos > len(r.buf) {
				return entry{}, false, &TruncatedError{What: "header", Want: int64(r.pos), Got: int64(len(r.buf))}
			}
			continue
		}

		valueAt := start + len(kw.token)
		end := valueAt + kw.kind.width()
		if end > len(r.buf) {
			return entry{}, false, &TruncatedError{What: "header", Want: int64(end), Got: int64(len(r.buf))}
		}
		e = entry{name: name, value: readValue(r.buf[valueAt:end], kw.kind), start: start}
		r.pos = end

		if variableKeywords[name] {
			n := int(e.value.(uint32))
			if r.pos+n > len(r.buf) {
				return entry{}, false, &TruncatedError{What: "header", Want: int64(r.pos + n), Got: int64(len(r.buf))}
			}
			e.value = strings.TrimRight(string(r.buf[r.pos:r.pos+n]), "\x00")
			r.pos += n
		}
		return e, true, nil
	}
}
