package schema

import (
	"fmt"
	"sort"
)

// Kind is the storage type of a field.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	}
	return "unknown"
}

// Field describes one queryable column of Record.
type Field struct {
	Name    string
	Kind    Kind
	Indexed bool

	get func(*Record) any
	ptr func(*Record) any
}

// Value returns the field of r as int64, float64 or string.
func (f Field) Value(r *Record) any { return f.get(r) }

// Ptr returns a pointer into r suitable for sql.Rows.Scan.
func (f Field) Ptr(r *Record) any { return f.ptr(r) }

func intField(name string, indexed bool, p func(*Record) *int64) Field {
	return Field{
		Name: name, Kind: KindInt, Indexed: indexed,
		get: func(r *Record) any { return *p(r) },
		ptr: func(r *Record) any { return p(r) },
	}
}

func floatField(name string, p func(*Record) *float64) Field {
	return Field{
		Name: name, Kind: KindFloat,
		get: func(r *Record) any { return *p(r) },
		ptr: func(r *Record) any { return p(r) },
	}
}

func stringField(name string, indexed bool, p func(*Record) *string) Field {
	return Field{
		Name: name, Kind: KindString, Indexed: indexed,
		get: func(r *Record) any { return *p(r) },
		ptr: func(r *Record) any { return p(r) },
	}
}

// PathField is the primary key column.
const PathField = "path"

var fields = []Field{
	stringField(PathField, false, func(r *Record) *string { return &r.Path }),
	stringField("directory", true, func(r *Record) *string { return &r.Directory }),
	stringField("filename", false, func(r *Record) *string { return &r.Filename }),
	intField("size", false, func(r *Record) *int64 { return &r.Size }),
	intField("mod_time", false, func(r *Record) *int64 { return &r.ModTime }),
	stringField("fingerprint", false, func(r *Record) *string { return &r.Fingerprint }),
	stringField("header_hash", true, func(r *Record) *string { return &r.HeaderHash }),
	stringField("state", true, func(r *Record) *string { return (*string)(&r.State) }),
	stringField("error", false, func(r *Record) *string { return &r.Error }),
	intField("indexed_at", false, func(r *Record) *int64 { return &r.IndexedAt }),
	intField("version", false, func(r *Record) *int64 { return &r.Version }),
	intField("data_version", false, func(r *Record) *int64 { return &r.DataVersion }),
	intField("project_id", false, func(r *Record) *int64 { return &r.ProjectID }),
	intField("process", true, func(r *Record) *int64 { return &r.Process }),
	intField("channel", true, func(r *Record) *int64 { return &r.Channel }),
	intField("datamode", false, func(r *Record) *int64 { return &r.DataMode }),
	intField("datatype", false, func(r *Record) *int64 { return &r.DataType }),
	intField("datakind", false, func(r *Record) *int64 { return &r.DataKind }),
	intField("adc_type", false, func(r *Record) *int64 { return &r.ADCType }),
	intField("process_time", false, func(r *Record) *int64 { return &r.ProcessTime }),
	intField("timestamp", true, func(r *Record) *int64 { return &r.Timestamp }),
	intField("compression_frq", true, func(r *Record) *int64 { return &r.CompressionFrq }),
	intField("compression_time", true, func(r *Record) *int64 { return &r.CompressionTime }),
	intField("avg_time", false, func(r *Record) *int64 { return &r.AvgTime }),
	intField("avg_frq", false, func(r *Record) *int64 { return &r.AvgFrq }),
	intField("sample_frequency", false, func(r *Record) *int64 { return &r.SampleFrequency }),
	intField("frq_bands", false, func(r *Record) *int64 { return &r.FrqBands }),
	floatField("frq_per_band", func(r *Record) *float64 { return &r.FrqPerBand }),
	floatField("spec_duration", func(r *Record) *float64 { return &r.SpecDuration }),
	intField("spec_count", false, func(r *Record) *int64 { return &r.SpecCount }),
	intField("bytes_per_sample", false, func(r *Record) *int64 { return &r.BytesPerSample }),
	intField("bit_resolution", false, func(r *Record) *int64 { return &r.BitResolution }),
	intField("fft_log_shift", false, func(r *Record) *int64 { return &r.FFTLogShift }),
	intField("max_amplitude", false, func(r *Record) *int64 { return &r.MaxAmplitude }),
	intField("flags", false, func(r *Record) *int64 { return &r.Flags }),
	intField("db_size", false, func(r *Record) *int64 { return &r.DBSize }),
	intField("db_header_size", false, func(r *Record) *int64 { return &r.DBHeaderSize }),
	intField("db_count", false, func(r *Record) *int64 { return &r.DBCount }),
	stringField("codec", false, func(r *Record) *string { return &r.Codec }),
	intField("header_size", false, func(r *Record) *int64 { return &r.HeaderSize }),
	intField("payload_offset", false, func(r *Record) *int64 { return &r.PayloadOffset }),
	intField("payload_length", false, func(r *Record) *int64 { return &r.PayloadLength }),
	intField("checksum", false, func(r *Record) *int64 { return &r.Checksum }),
	stringField("comment", false, func(r *Record) *string { return &r.Comment }),
}

var fieldIndex = func() map[string]Field {
	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return m
}()

// Fields returns every field in column order.
func Fields() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// LookupField returns the field called name.
func LookupField(name string) (Field, bool) {
	f, ok := fieldIndex[name]
	return f, ok
}

// FieldNames returns the sorted names of all fields.
func FieldNames() []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// Coerce converts v to the Go type used for fields of kind k: int64,
// float64 or string.
func (k Kind) Coerce(v any) (any, error) {
	switch k {
	case KindInt:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case uint32:
			return int64(x), nil
		case float64:
			if x == float64(int64(x)) {
				return int64(x), nil
			}
		}
	case KindFloat:
		switch x := v.(type) {
		case int:
			return float64(x), nil
		case int32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case float32:
			return float64(x), nil
		case float64:
			return x, nil
		}
	case KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case fmt.Stringer:
			return x.String(), nil
		}
	}
	return nil, fmt.Errorf("cannot use %v (%T) as %s", v, v, k)
}
