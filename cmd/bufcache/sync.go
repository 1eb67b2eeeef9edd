package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qass/buffercache/internal/sync"
	"github.com/qass/buffercache/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [root...]",
	GroupID: "index",
	Short:   "Synchronize the index with buffer files on disk",
	Long: `Bring the index in line with the buffer files under the given roots
(or scope.roots from the config).

New and changed files are decoded, records of removed files are dropped,
unchanged files are skipped by fingerprint. Files that cannot be decoded are
recorded as failed and retried only once they change again.

The pass is atomic: if it is interrupted or the index cannot be written,
the index keeps its previous state. A sync fails at once while 'watch' or
'serve' holds the index lock.`,
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")
		scope := cfg.ScopeFor(args)
		if len(scope.Roots) == 0 {
			fatal("no roots given and scope.roots is not configured")
		}

		lock, err := lockIndex(cfg.LockPath(), "sync")
		if err != nil {
			fatal("%v", err)
		}
		defer lock.Release()

		ctx, cancel := signalContext()
		defer cancel()

		c := openCache(ctx)
		defer c.Close()

		if !asJSON {
			fmt.Printf("%s Synchronizing %v...\n", ui.RenderAccent("→"), scope.Roots)
		}
		report, err := c.Synchronize(ctx, scope)
		if err != nil {
			fatal("sync failed: %v", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(report)
			return
		}
		printReport(report)
	},
}

func printReport(r *sync.Report) {
	mark := ui.RenderPass("✓")
	if r.Failed > 0 || len(r.Skipped) > 0 {
		mark = ui.RenderWarn("⚠")
	}
	fmt.Printf("%s Sync complete in %v\n", mark, r.Duration.Round(time.Millisecond))
	fmt.Printf("   Added: %d  Updated: %d  Removed: %d  Failed: %d  Unchanged: %d\n",
		r.Added, r.Updated, r.Removed, r.Failed, r.Unchanged)
	for _, f := range r.Failures {
		fmt.Printf("   %s %s: %s\n", ui.RenderFail("✗"), f.Path, f.Error)
	}
	for _, dir := range r.Skipped {
		fmt.Printf("   %s unreadable, records kept: %s\n", ui.RenderWarn("⚠"), dir)
	}
	fmt.Println(ui.RenderMuted("   Run " + r.RunID))
}

func init() {
	syncCmd.Flags().BoolP("recursive", "r", true, "include subdirectories")
	syncCmd.Flags().String("pattern", "", "file name pattern (default "+sync.DefaultPattern+")")
	syncCmd.Flags().Int("workers", 0, "concurrent decodes (default: CPU count)")
	syncCmd.Flags().String("fingerprint", "", "change detection: stat or content")
	syncCmd.Flags().Bool("fail-fast", false, "fail instead of waiting when another pass holds an overlapping scope")
	syncCmd.Flags().Bool("json", false, "print the report as JSON")

	bindFlags(syncCmd, map[string]string{
		"scope.recursive":  "recursive",
		"scope.pattern":    "pattern",
		"sync.workers":     "workers",
		"sync.fingerprint": "fingerprint",
		"sync.fail_fast":   "fail-fast",
	})

	rootCmd.AddCommand(syncCmd)
}
