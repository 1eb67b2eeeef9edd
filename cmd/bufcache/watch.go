package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qass/buffercache/internal/daemon"
	"github.com/qass/buffercache/internal/dashboard"
	"github.com/qass/buffercache/internal/sync"
	"github.com/qass/buffercache/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch [root...]",
	GroupID: "index",
	Short:   "Keep the index synchronized while files are written",
	Long: `Run a full sync, then watch the roots and synchronize every directory
that changes once it has been quiet for daemon.debounce. The whole scope is
synchronized again every daemon.resync.

Only one watcher may run per index; a second one exits with an error.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(cmd, args, "")
	},
}

var serveCmd = &cobra.Command{
	Use:     "serve [root...]",
	GroupID: "advanced",
	Short:   "Watch the roots and serve the live dashboard",
	Long: `Run the watcher of 'bufcache watch' together with the dashboard server.

WebSocket clients on /ws receive:
- sync_report: the report of every pass
- sync_error: a pass that failed and changed nothing
- stats: record counts, on connect and after every pass that changed records

HTTP endpoints:
  /health                 server status
  /api/records?where=...  indexed records, same terms as 'bufcache query'
  /api/failed             failed files
  /api/stats              record counts`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(cmd, args, cfg.Dashboard.Addr)
	},
}

func runDaemon(cmd *cobra.Command, args []string, addr string) {
	scope := cfg.ScopeFor(args)
	if len(scope.Roots) == 0 {
		fatal("no roots given and scope.roots is not configured")
	}

	lock, err := lockIndex(cfg.LockPath(), cmd.Name())
	if err != nil {
		fatal("%v", err)
	}
	defer lock.Release()

	ctx, cancel := signalContext()
	defer cancel()

	c := openCache(ctx)
	defer c.Close()

	d, err := daemon.NewWithConfig(c, scope, cfg.DaemonConfig(logger))
	if err != nil {
		fatal("%v", err)
	}
	d.Subscribe(reportPrinter{})

	if addr != "" {
		server := dashboard.NewServer(&dashboard.Config{Addr: addr, Cache: c, Logger: logger})
		if err := server.Start(); err != nil {
			fatal("failed to start dashboard: %v", err)
		}
		defer server.Stop()
		d.Subscribe(dashboard.NewHandler(server, c, logger))

		fmt.Printf("Dashboard: http://%s/\n", server.GetAddr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.GetAddr())
	}

	fmt.Printf("%s Watching %v (Ctrl+C to stop)\n", ui.RenderAccent("→"), d.Scope().Roots)
	if err := d.Start(ctx); err != nil {
		fatal("%v", err)
	}
	fmt.Println("\nWatcher stopped")
}

// reportPrinter prints a line for every pass that changed something.
type reportPrinter struct{}

func (reportPrinter) OnSyncReport(r *sync.Report) {
	if r.Changed() == 0 && len(r.Skipped) == 0 {
		return
	}
	printReport(r)
}

func (reportPrinter) OnSyncError(scope sync.Scope, err error) {
	fmt.Fprintf(os.Stderr, "%s sync of %v failed: %v\n", ui.RenderFail("✗"), scope.Roots, err)
}

func init() {
	for _, c := range []*cobra.Command{watchCmd, serveCmd} {
		c.Flags().BoolP("recursive", "r", true, "include subdirectories")
		c.Flags().String("pattern", "", "file name pattern")
		c.Flags().Duration("debounce", 0, "quiet time before a changed directory is synchronized")
		c.Flags().Duration("resync", 0, "interval of full resyncs, 0 disables them")
		bindFlags(c, map[string]string{
			"scope.recursive": "recursive",
			"scope.pattern":   "pattern",
			"daemon.debounce": "debounce",
			"daemon.resync":   "resync",
		})
	}
	serveCmd.Flags().String("addr", "", "dashboard listen address (default :8080)")
	bindFlags(serveCmd, map[string]string{"dashboard.addr": "addr"})

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}
