package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qass/buffercache/internal/loadtest"
	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench [dir...]",
	GroupID: "advanced",
	Short:   "Measure query latency against the index",
	Long: `Run concurrent queries against the configured index and report latency
percentiles.

Without --where a default mix is used: equality on compression_frq for each
--frq value, a process range ordered by timestamp, and a channel set. Each
--where term becomes its own case.

With directories and --verify, the directories are synchronized in a loop
while the clients query, and every result is checked against its predicate.

Examples:
  bufcache gen /tmp/buffers --count 5000
  bufcache sync /tmp/buffers
  bufcache bench --clients 100 --queries 20
  bufcache bench /tmp/buffers --verify 5s`,
	Run: func(cmd *cobra.Command, args []string) {
		clients, _ := cmd.Flags().GetInt("clients")
		queries, _ := cmd.Flags().GetInt("queries")
		terms, _ := cmd.Flags().GetStringArray("where")
		frqs, _ := cmd.Flags().GetInt32Slice("frq")
		verify, _ := cmd.Flags().GetDuration("verify")

		workload := loadtest.DefaultWorkload(frqs...)
		if len(terms) > 0 {
			workload = workload[:0]
			for _, term := range terms {
				p, err := query.ParseTerm(term)
				if err != nil {
					fatal("%v", err)
				}
				workload = append(workload, loadtest.Case{Name: term, Where: p})
			}
		}

		ctx, cancel := signalContext()
		defer cancel()

		c := openCache(ctx)
		defer c.Close()

		if verify > 0 {
			if len(args) == 0 {
				fatal("--verify needs at least one directory to synchronize")
			}
			lock, err := lockIndex(cfg.LockPath(), "bench --verify")
			if err != nil {
				fatal("%v", err)
			}
			defer lock.Release()

			scope := cfg.ScopeFor(args)
			start := time.Now()
			if err := loadtest.VerifyConsistency(ctx, c, scope, workload, clients, verify); err != nil {
				fatal("%v", err)
			}
			fmt.Printf("%s %d client(s) saw consistent results for %v\n", ui.RenderPass("✓"), clients, time.Since(start).Round(time.Millisecond))
			return
		}

		stats, err := loadtest.RunConcurrentQueries(ctx, c, workload, clients, queries)
		if err != nil {
			fatal("%v", err)
		}
		stats.Print(os.Stdout)
		if stats.Errors > 0 {
			fmt.Printf("%s %d queries failed\n", ui.RenderWarn("⚠"), stats.Errors)
		}
	},
}

func init() {
	benchCmd.Flags().IntP("clients", "c", 10, "concurrent clients")
	benchCmd.Flags().IntP("queries", "q", 20, "queries per client")
	benchCmd.Flags().StringArrayP("where", "w", nil, "query term to run instead of the default mix (repeatable)")
	benchCmd.Flags().Int32Slice("frq", []int32{4, 8, 16}, "compression_frq values for the default mix")
	benchCmd.Flags().Duration("verify", 0, "synchronize the given directories while querying for this long and check results")

	rootCmd.AddCommand(benchCmd)
}
