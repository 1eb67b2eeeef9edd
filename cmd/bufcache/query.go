package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qass/buffercache/internal/cache"
	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/ui"
)

var queryCmd = &cobra.Command{
	Use:     "query",
	GroupID: "query",
	Short:   "List indexed buffer files matching metadata terms",
	Long: `Query the index. Terms compare one field with a value:

  --where compression_frq==8        equality (= works too)
  --where process>=100              <, <=, >, >=, !=
  --where 'channel in 1,2'          any of a list
  --where path^=/data/run1/         string prefix

Terms are combined with AND, or with OR when --any is given. Files that
failed to decode never match; see 'bufcache failed'.

Examples:
  bufcache query --where compression_frq==8 --order -timestamp --limit 10
  bufcache query --since "2 hours ago" --format paths
  bufcache query --where process==42 --format json`,
	Run: func(cmd *cobra.Command, args []string) {
		p, opts := predicateFlags(cmd)
		format, _ := cmd.Flags().GetString("format")

		ctx, cancel := signalContext()
		defer cancel()

		c := openCache(ctx)
		defer c.Close()

		records, err := c.Records(ctx, p, opts...)
		if err != nil {
			fatal("%v", err)
		}
		if len(records) == 0 && (format == "" || format == "table") {
			fmt.Printf("%s No matching files\n", ui.RenderWarn("⚠"))
			return
		}
		if err := writeRecords(os.Stdout, records, format); err != nil {
			fatal("%v", err)
		}
	},
}

var failedCmd = &cobra.Command{
	Use:     "failed",
	GroupID: "query",
	Short:   "List files that could not be decoded",
	Long: `List files recorded as failed, with the error of their last decode.

Failed files are not decoded again until they change on disk. Takes the
same filter flags as 'bufcache query'.`,
	Run: func(cmd *cobra.Command, args []string) {
		p, opts := predicateFlags(cmd)
		format, _ := cmd.Flags().GetString("format")

		ctx, cancel := signalContext()
		defer cancel()

		c := openCache(ctx)
		defer c.Close()

		records, err := c.Failed(ctx, p, opts...)
		if err != nil {
			fatal("%v", err)
		}
		if len(records) == 0 && (format == "" || format == "table") {
			fmt.Printf("%s No failed files\n", ui.RenderPass("✓"))
			return
		}
		if err := writeFailed(os.Stdout, records, format); err != nil {
			fatal("%v", err)
		}
	},
}

// predicateFlags builds the predicate and options from the filter flags.
func predicateFlags(cmd *cobra.Command) (query.Predicate, []cache.Option) {
	terms, _ := cmd.Flags().GetStringArray("where")
	anyOf, _ := cmd.Flags().GetBool("any")
	orders, _ := cmd.Flags().GetStringArray("order")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")

	p, err := query.ParseTerms(terms, anyOf)
	if err != nil {
		fatal("%v", err)
	}

	now := time.Now()
	if since != "" {
		t, err := parseTime(since, now)
		if err != nil {
			fatal("--since: %v", err)
		}
		p = query.And(p, query.Ge("timestamp", t.UnixMilli()))
	}
	if until != "" {
		t, err := parseTime(until, now)
		if err != nil {
			fatal("--until: %v", err)
		}
		p = query.And(p, query.Lt("timestamp", t.UnixMilli()))
	}

	var opts []cache.Option
	for _, raw := range orders {
		o, err := query.ParseOrder(raw)
		if err != nil {
			fatal("--order: %v", err)
		}
		opts = append(opts, cache.SortBy(o))
	}
	if limit > 0 {
		opts = append(opts, cache.Limit(limit))
	}
	if offset > 0 {
		opts = append(opts, cache.Offset(offset))
	}
	return p, opts
}

func addFilterFlags(cmd *cobra.Command, format string) {
	cmd.Flags().StringArrayP("where", "w", nil, "filter term, e.g. compression_frq==8 (repeatable)")
	cmd.Flags().Bool("any", false, "match any term instead of all")
	cmd.Flags().StringArrayP("order", "o", nil, "sort field, prefix with - for descending (repeatable)")
	cmd.Flags().IntP("limit", "n", 0, "maximum number of results")
	cmd.Flags().Int("offset", 0, "skip this many results")
	cmd.Flags().String("since", "", `only files measured at or after this time ("2 hours ago", 2024-05-01)`)
	cmd.Flags().String("until", "", "only files measured before this time")
	cmd.Flags().StringP("format", "f", format, "output format: "+formats)
}

func init() {
	addFilterFlags(queryCmd, "table")
	addFilterFlags(failedCmd, "table")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(failedCmd)
}
