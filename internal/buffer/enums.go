package buffer

import "fmt"

// DataMode describes what the acquisition hardware delivered.
type DataMode int64

const (
	DataModeUndefined DataMode = -1
	DataModeCounter   DataMode = 0
	DataModeSignal    DataMode = 1
	DataModeFFT       DataMode = 2
	DataModePlot      DataMode = 3
	DataModeOther     DataMode = 4
	DataModeVideo     DataMode = 5
)

var dataModeNames = map[DataMode]string{
	DataModeUndefined: "undefined",
	DataModeCounter:   "counter",
	DataModeSignal:    "signal",
	DataModeFFT:       "fft",
	DataModePlot:      "plot",
	DataModeOther:     "other",
	DataModeVideo:     "video",
}

func (m DataMode) String() string {
	if s, ok := dataModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("datamode(%d)", int64(m))
}

// DataType is the reduction applied when the buffer was written.
type DataType int64

const (
	DataTypeInvalid     DataType = -2
	DataTypeUndefined   DataType = -1
	DataTypeRaw         DataType = 0
	DataTypeDownsample  DataType = 1
	DataTypeMaximum     DataType = 2
	DataTypeAverage     DataType = 3
	DataTypeStdDev      DataType = 4
	DataTypeMovAverage  DataType = 6
	DataTypeExtern      DataType = 7
	DataTypeOverview    DataType = 8
	DataTypeMovAvgFrq   DataType = 13
	DataTypeEnergy      DataType = 17
	DataTypeSecondFFT   DataType = 20
	DataTypeSignificant DataType = 29
)

var dataTypeNames = map[DataType]string{
	DataTypeInvalid:     "invalid",
	DataTypeUndefined:   "undefined",
	DataTypeRaw:         "raw",
	DataTypeDownsample:  "downsample",
	DataTypeMaximum:     "maximum",
	DataTypeAverage:     "average",
	DataTypeStdDev:      "std_deviation",
	DataTypeMovAverage:  "mov_average",
	DataTypeExtern:      "extern_data",
	DataTypeOverview:    "analyze_overview",
	DataTypeMovAvgFrq:   "mov_average_frq",
	DataTypeEnergy:      "energy",
	DataTypeSecondFFT:   "second_fft",
	DataTypeSignificant: "significance",
}

func (t DataType) String() string {
	if s, ok := dataTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("datatype(%d)", int64(t))
}

// DataKind further qualifies a buffer. Values from 100 on are user counters.
type DataKind int64

const (
	DataKindUndefined  DataKind = -1
	DataKindNone       DataKind = 0
	DataKindSensorTest DataKind = 1
	DataKindUser       DataKind = 100
)

func (k DataKind) String() string {
	switch {
	case k == DataKindUndefined:
		return "undefined"
	case k == DataKindNone:
		return "none"
	case k == DataKindSensorTest:
		return "sensor_test"
	case k >= DataKindUser:
		return fmt.Sprintf("user+%d", int64(k-DataKindUser))
	}
	return fmt.Sprintf("datakind(%d)", int64(k))
}

// ADCType identifies the converter that sampled the signal.
type ADCType int64

const (
	ADCLegacy14Bit ADCType = 0
	ADC16Bit       ADCType = 1
	ADC24Bit       ADCType = 2
)

func (a ADCType) String() string {
	switch a {
	case ADCLegacy14Bit:
		return "14bit"
	case ADC16Bit:
		return "16bit"
	case ADC24Bit:
		return "24bit"
	}
	return fmt.Sprintf("adc(%d)", int64(a))
}

// SampleKind is the in-file representation of one sample.
type SampleKind uint8

const (
	SampleUint16 SampleKind = iota + 1
	SampleUint32
	SampleFloat32
)

func (s SampleKind) String() string {
	switch s {
	case SampleUint16:
		return "uint16"
	case SampleUint32:
		return "uint32"
	case SampleFloat32:
		return "float32"
	}
	return "unknown"
}

// flagFloat marks 4-byte samples as IEEE floats in p__flags.
const flagFloat = 1 << 3
