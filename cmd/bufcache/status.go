package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/qass/buffercache/internal/config"
	"github.com/qass/buffercache/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "query",
	Short:   "Show index location and record counts",
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, cancel := signalContext()
		defer cancel()

		c := openCache(ctx)
		defer c.Close()

		stats, err := c.Stats(ctx)
		if err != nil {
			fatal("%v", err)
		}
		if asJSON {
			_ = json.NewEncoder(os.Stdout).Encode(stats)
			return
		}

		fmt.Printf("\n%s Buffer Cache Status\n\n", ui.RenderAccent("■"))
		fmt.Printf("   Index: %s (%s)\n", cfg.Store.DSN, cfg.Store.Dialect)
		if file := config.Used(v); file != "" {
			fmt.Printf("   Config: %s\n", file)
		}
		fmt.Printf("   Records: %d\n", stats.Records)
		fmt.Printf("   Indexed: %d\n", stats.Indexed)
		if stats.Failed > 0 {
			fmt.Printf("   Failed: %s\n", ui.RenderWarn(fmt.Sprint(stats.Failed)))
		} else {
			fmt.Printf("   Failed: 0\n")
		}
		fmt.Println()
	},
}

var pendingCmd = &cobra.Command{
	Use:     "pending [root...]",
	GroupID: "index",
	Short:   "List files the next sync would decode",
	Long: `List new and changed buffer files under the roots without decoding
anything. Useful to see how far the index lags behind the disk.`,
	Run: func(cmd *cobra.Command, args []string) {
		scope := cfg.ScopeFor(args)
		if len(scope.Roots) == 0 {
			fatal("no roots given and scope.roots is not configured")
		}

		ctx, cancel := signalContext()
		defer cancel()

		c := openCache(ctx)
		defer c.Close()

		files, err := c.Pending(ctx, scope)
		if err != nil {
			fatal("%v", err)
		}
		if len(files) == 0 {
			fmt.Printf("%s Index is up to date\n", ui.RenderPass("✓"))
			return
		}
		rows := make([][]string, len(files))
		for i, f := range files {
			rows[i] = []string{string(f.Reason), f.Path}
		}
		ui.Table(os.Stdout, []string{"REASON", "PATH"}, rows)
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <path>...",
	GroupID: "index",
	Short:   "Drop records from the index",
	Long: `Remove the records of the given files from the index. The files are not
touched; the next sync over their directory indexes them again.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		c := openCache(ctx)
		defer c.Close()

		paths := make([]string, len(args))
		for i, a := range args {
			abs, err := filepath.Abs(a)
			if err != nil {
				fatal("%v", err)
			}
			paths[i] = abs
		}
		if err := c.Remove(ctx, paths...); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Removed %d record(s)\n", ui.RenderPass("✓"), len(paths))
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print counts as JSON")

	pendingCmd.Flags().BoolP("recursive", "r", true, "include subdirectories")
	pendingCmd.Flags().String("pattern", "", "file name pattern")
	bindFlags(pendingCmd, map[string]string{
		"scope.recursive": "recursive",
		"scope.pattern":   "pattern",
	})

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(removeCmd)
}
