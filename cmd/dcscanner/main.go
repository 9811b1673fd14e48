// Command dcscanner is the C2 heartbeat scanner: an external process,
// distinct from every daemon it watches, that periodically sweeps the
// shared heartbeat table for stale or dead slots and terminates them
// (spec.md §4.2 scan()).
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonical/dcxfer/internal/dcconfig"
	"github.com/canonical/dcxfer/internal/dclog"
	"github.com/canonical/dcxfer/internal/dcsignal"
	"github.com/canonical/dcxfer/internal/dcversion"
	"github.com/canonical/dcxfer/internal/heartbeat"
)

func main() {
	root := &cobra.Command{
		Use:          "dcscanner <logfile> <xml_config_string>",
		Short:        "Scan the heartbeat table and reap stale daemons",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.Version = dcversion.Version
	root.SetVersionTemplate("{{.Version}}\n")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dcscanner:", err)
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

	hbPath := tags.GetDefault("hbpath", "/var/run/dcxfer/heartbeat.tbl")
	intervalSec, _ := strconv.Atoi(tags.GetDefault("timetvl", "5"))
	graceSec, _ := strconv.Atoi(tags.GetDefault("gracesec", "5"))

	tbl, err := heartbeat.Open(hbPath)
	if err != nil {
		return fmt.Errorf("open heartbeat table: %w", err)
	}
	defer tbl.Close()

	sc := heartbeat.NewScanner(tbl)
	sc.GraceInterval = time.Duration(graceSec) * time.Second

	stopper := dcsignal.Install(func(sig os.Signal) {
		log.WithFields(dclog.Ctx{"signal": sig}).Info("dcscanner: received stop signal")
	})

	log.WithFields(dclog.Ctx{"hbpath": hbPath, "interval": intervalSec}).Info("dcscanner: starting")

	for {
		reaped := sc.Scan()
		for _, pid := range reaped {
			log.WithFields(dclog.Ctx{"pid": pid}).Warn("dcscanner: reaped stale slot")
		}

		select {
		case <-stopper.Done():
			log.Info("dcscanner: stopping")
			return nil
		case <-time.After(time.Duration(intervalSec) * time.Second):
		}
	}
}
