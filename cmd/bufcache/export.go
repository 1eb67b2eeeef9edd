package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qass/buffercache/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "query",
	Short:   "Write matching records to a file",
	Long: `Export indexed records as JSON, YAML or CBOR. The format follows the
output file extension (.json, .yaml, .yml, .cbor) unless --format is given.
Takes the same filter flags as 'bufcache query'.

Examples:
  bufcache export -O records.json
  bufcache export --where compression_frq==8 -O frq8.cbor
  bufcache export --format yaml > records.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		p, opts := predicateFlags(cmd)
		out, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		if !cmd.Flags().Changed("format") && out != "" {
			format = formatForPath(out)
		}
		if format == "table" || format == "paths" {
			fatal("export needs json, yaml or cbor, not %s", format)
		}

		ctx, cancel := signalContext()
		defer cancel()

		c := openCache(ctx)
		defer c.Close()

		records, err := c.Records(ctx, p, opts...)
		if err != nil {
			fatal("%v", err)
		}

		var w io.Writer = os.Stdout
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				fatal("%v", err)
			}
			defer f.Close()
			w = f
		}
		if err := writeRecords(w, records, format); err != nil {
			fatal("failed to export: %v", err)
		}
		if out != "" {
			fmt.Printf("%s Exported %d record(s) to %s\n", ui.RenderPass("✓"), len(records), out)
		}
	},
}

// formatForPath picks the export format from a file extension.
func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".cbor":
		return "cbor"
	}
	return "json"
}

func init() {
	addFilterFlags(exportCmd, "json")
	exportCmd.Flags().StringP("output", "O", "", "output file (default stdout)")

	rootCmd.AddCommand(exportCmd)
}
