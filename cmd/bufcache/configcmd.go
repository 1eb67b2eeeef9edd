package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qass/buffercache/internal/config"
	"github.com/qass/buffercache/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the bufcache config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Long: `Write the default configuration to path (default ./bufcache.toml).
A path ending in .yaml or .yml gets YAML instead of TOML.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		roots, _ := cmd.Flags().GetStringSlice("root")

		path := config.FileName + ".toml"
		if len(args) == 1 {
			path = args[0]
		}

		c := config.Defaults()
		if len(roots) > 0 {
			c.Scope.Roots = roots
		}
		if err := config.Write(path, c, force); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging the config file, BUFCACHE_*
environment variables and flags.`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		data, err := config.Encode(*cfg, "."+format)
		if err != nil {
			fatal("%v", err)
		}
		if file := config.Used(v); file != "" {
			fmt.Println(ui.RenderMuted("# " + file))
		}
		_, _ = os.Stdout.Write(data)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configInitCmd.Flags().StringSlice("root", nil, "directories to put in scope.roots")
	configShowCmd.Flags().String("format", "toml", "toml or yaml")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
