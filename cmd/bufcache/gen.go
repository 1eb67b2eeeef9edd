package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/qass/buffercache/internal/buffer"
	"github.com/qass/buffercache/internal/ui"
)

var genCmd = &cobra.Command{
	Use:     "gen <dir>",
	GroupID: "advanced",
	Short:   "Write synthetic buffer files",
	Long: `Write synthetic FFT buffers for trying out the cache and for load tests.

Files are named p<process>c<channel>b01 and spread over run directories of
--per-dir files each. Every --frq value is cycled through, so queries on
compression_frq have something to find. --broken adds truncated files that
fail to decode.

Example:
  bufcache gen /tmp/buffers --count 1000 --frq 4,8,16 --codec zstd
  bufcache sync /tmp/buffers`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		count, _ := cmd.Flags().GetInt("count")
		perDir, _ := cmd.Flags().GetInt("per-dir")
		frqs, _ := cmd.Flags().GetInt32Slice("frq")
		spectra, _ := cmd.Flags().GetInt("spectra")
		codecName, _ := cmd.Flags().GetString("codec")
		broken, _ := cmd.Flags().GetInt("broken")

		codec, err := buffer.ParseCodec(codecName)
		if err != nil {
			fatal("%v", err)
		}
		if count < 1 || perDir < 1 || spectra < 1 || len(frqs) == 0 {
			fatal("--count, --per-dir and --spectra must be positive and --frq non-empty")
		}

		start := time.Now()
		base := start.Add(-time.Duration(count) * time.Minute).UnixMilli()
		for i := 0; i < count; i++ {
			h := &buffer.Header{
				DataMode:        buffer.DataModeFFT,
				DataType:        buffer.DataTypeRaw,
				Process:         int32(i + 1),
				Channel:         int32(i%4 + 1),
				ProcessTime:     uint32(base / 1000),
				EpochTime:       base + int64(i)*60_000,
				CompressionFrq:  frqs[i%len(frqs)],
				CompressionTime: 1,
				SampleFrequency: 100_000_000,
				FrqBands:        512,
				BytesPerSample:  2,
				DBSize:          64 * 1024,
				DBHeaderSize:    128,
				Codec:           codec,
			}
			values := make([]float64, spectra*int(h.FrqBands))
			for j := range values {
				values[j] = 1000 + 800*math.Sin(float64(j+i)/17)
			}

			path := bufferPath(args[0], i, perDir, h)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				fatal("%v", err)
			}
			if err := buffer.WriteFile(path, h, buffer.PackSamples(h, values)); err != nil {
				fatal("failed to write %s: %v", path, err)
			}
			if i < broken {
				if err := os.Truncate(path, 40); err != nil {
					fatal("%v", err)
				}
			}
		}

		fmt.Printf("%s Wrote %d file(s) to %s in %v\n", ui.RenderPass("✓"), count, args[0], time.Since(start).Round(time.Millisecond))
		if broken > 0 {
			fmt.Printf("   %d of them truncated\n", min(broken, count))
		}
	},
}

func bufferPath(root string, i, perDir int, h *buffer.Header) string {
	dir := filepath.Join(root, fmt.Sprintf("run%04d", i/perDir))
	return filepath.Join(dir, fmt.Sprintf("p%dc%db01", h.Process, h.Channel-1))
}

func init() {
	genCmd.Flags().IntP("count", "n", 100, "number of files")
	genCmd.Flags().Int("per-dir", 50, "files per run directory")
	genCmd.Flags().Int32Slice("frq", []int32{4, 8, 16}, "frequency compressions to cycle through")
	genCmd.Flags().Int("spectra", 32, "spectra per file")
	genCmd.Flags().String("codec", "raw", "payload codec: raw, lz4 or zstd")
	genCmd.Flags().Int("broken", 0, "truncate the first n files")

	rootCmd.AddCommand(genCmd)
}
