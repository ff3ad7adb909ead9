package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dDoc/cmd/doc"
	"github.com/ValentinKolb/dDoc/cmd/ensemble"
	"github.com/ValentinKolb/dDoc/cmd/lock"
	"github.com/ValentinKolb/dDoc/cmd/serve"
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ddoc",
		Short: "partitioned multi-cluster document store",
		Long: fmt.Sprintf(`dDoc (v%s)

A partitioned document store written in Go. Every cluster spreads its documents
over its nodes with consistent hashing, clusters are joined into an ensemble and
keep track of each other's membership.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dDoc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dDoc v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(doc.DocCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(ensemble.EnsembleCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	RootCmd.PersistentFlags().StringVar(&util.ConfigFile, "config", "", util.WrapString("Optional config file (yaml, json, toml, ...) with flag values"))
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("Level at which logs will be output (debug, info, warn, error). Defaults to info for serve and warn for clients"))
	key = "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
