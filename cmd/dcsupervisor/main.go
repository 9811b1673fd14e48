// Command dcsupervisor is the C1 process supervisor: it spawns a program,
// waits for it, sleeps, and restarts it forever, ignoring termination
// signals itself (spec.md §4.1).
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonical/dcxfer/internal/dcconfig"
	"github.com/canonical/dcxfer/internal/dclog"
	"github.com/canonical/dcxfer/internal/dcversion"
	"github.com/canonical/dcxfer/internal/procsup"
)

func main() {
	root := &cobra.Command{
		Use:          "dcsupervisor <logfile> <xml_config_string>",
		Short:        "Supervise and restart a child program forever",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.Version = dcversion.Version
	root.SetVersionTemplate("{{.Version}}\n")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dcsupervisor:", err)
		os.Exit(-1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logPath, configStr := args[0], args[1]

	debug, _ := cmd.Flags().GetBool("debug")
	log, err := dclog.Open(logPath, debug)
	if err != nil {
		return fmt.Errorf("open logfile: %w", err)
	}

	tags, err := dcconfig.Parse(configStr)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if err := tags.Validate("program"); err != nil {
		return err
	}
	program := tags.GetDefault("program", "")
	interval, err := strconv.Atoi(tags.GetDefault("timetvl", "5"))
	if err != nil {
		return fmt.Errorf("bad timetvl: %w", err)
	}

	var argv []string
	if a := tags.All("arg"); len(a) > 0 {
		argv = a
	}

	procsup.IgnoreTerminating()

	sup := procsup.New(procsup.Config{
		IntervalSec: time.Duration(interval) * time.Second,
		Program:     program,
		Argv:        argv,
	}, log)

	log.WithFields(dclog.Ctx{"program": program}).Info("dcsupervisor: starting")
	return sup.Run(nil)
}
