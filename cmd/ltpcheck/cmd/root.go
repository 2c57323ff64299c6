package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is the main entry point. It's exported so ltpcheck could be
// easily extended without touching core functionality.
var RootCmd = &cobra.Command{
	Use:   "ltpcheck",
	Short: "Swiss Army Knife for inspecting a running ltpd",
}

var rootVerboseFlag bool
var rootDaemonFlag string

var rootDaemonFlagDesc = "Address of ltpd's monitoring endpoint, e.g. http://127.0.0.1:8080"

func init() {
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose output")
}

// ConfigureVerbosity configures log verbosity based on parsed flags. Needs
// to be called by any subcommand.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

// Execute is the main entry point for the CLI interface.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
