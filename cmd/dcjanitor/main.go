// Command dcjanitor runs the C3 file-aging sweep once: delete or compress
// files under a root older than a day threshold (spec.md §4.3).
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
	"github.com/canonical/dcxfer/internal/heartbeat"
	"github.com/canonical/dcxfer/internal/janitor"
)

func main() {
	root := &cobra.Command{
		Use:          "dcjanitor <logfile> <xml_config_string>",
		Short:        "Sweep aged files under a root directory",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.Version = dcversion.Version
	root.SetVersionTemplate("{{.Version}}\n")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dcjanitor:", err)
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

	if err := tags.Validate("rootpath"); err != nil {
		return err
	}
	root := tags.GetDefault("rootpath", "")
	globCSV := tags.GetDefault("matchname", "*")
	ageDays, err := strconv.Atoi(tags.GetDefault("agedays", "30"))
	if err != nil {
		return fmt.Errorf("bad agedays: %w", err)
	}
	mode := janitor.ModeDelete
	if tags.GetDefault("mode", "delete") == "compress" {
		mode = janitor.ModeCompress
	}

	pname := tags.GetDefault("pname", "dcjanitor")
	timeoutSec, _ := strconv.Atoi(tags.GetDefault("timeout", "300"))

	hbPath := tags.GetDefault("hbpath", "/var/run/dcxfer/heartbeat.tbl")
	tbl, err := heartbeat.Open(hbPath)
	if err != nil {
		return fmt.Errorf("open heartbeat table: %w", err)
	}
	defer tbl.Close()
	hb, err := heartbeat.Register(tbl, pname, time.Duration(timeoutSec)*time.Second)
	if err != nil {
		return fmt.Errorf("register heartbeat: %w", err)
	}
	defer hb.Deregister()

	cfg := janitor.Config{Root: root, GlobCSV: globCSV, AgeDays: ageDays, Mode: mode}

	if err := janitor.Sweep(cfg, time.Now(), hb.Beat); err != nil {
		log.WithFields(dclog.Ctx{"err": err}).Warn("dcjanitor: sweep failed")
		return err
	}

	log.WithFields(dclog.Ctx{"root": root}).Info("dcjanitor: sweep complete")
	return nil
}
