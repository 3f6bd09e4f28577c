package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/htab/cmd/perf"
	"github.com/ValentinKolb/htab/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "htab",
		Short: "fixed-capacity concurrent hash table",
		Long: fmt.Sprintf(`htab (v%s)

A fixed-capacity concurrent hash table library written in Go,
with LRU eviction, per-CPU values and preallocated or dynamic storage.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of htab",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("htab v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warning", util.WrapString("Log level (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
