// Command dcreftable runs the C8 reference-table syncer once: whole-replace
// or batched key-driven reconciliation between a local and remote
// connection (spec.md §4.8).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/canonical/dcxfer/internal/dbport"
	"github.com/canonical/dcxfer/internal/dcconfig"
	"github.com/canonical/dcxfer/internal/dclog"
	"github.com/canonical/dcxfer/internal/dcversion"
	"github.com/canonical/dcxfer/internal/reftable"
)

func main() {
	root := &cobra.Command{
		Use:          "dcreftable <logfile> <xml_config_string>",
		Short:        "Reconcile a local reference table against a remote one",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.Version = dcversion.Version
	root.SetVersionTemplate("{{.Version}}\n")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dcreftable:", err)
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

	if err := tags.Validate("connstr", "localtname", "linktname", "localcols", "remotecols"); err != nil {
		return err
	}

	driver := tags.GetDefault("dbdriver", "sqlite3")
	localConnstr := tags.GetDefault("connstr", "")
	charset := tags.GetDefault("charset", "")

	localDB, err := dbport.Open(driver, localConnstr, charset)
	if err != nil {
		return fmt.Errorf("open local database: %w", err)
	}
	defer localDB.Close()

	remoteDB := localDB
	if remoteConnstr := tags.GetDefault("remoteconnstr", ""); remoteConnstr != "" {
		remoteDriver := tags.GetDefault("remotedbdriver", driver)
		opened, err := dbport.Open(remoteDriver, remoteConnstr, tags.GetDefault("remotecharset", ""))
		if err != nil {
			return fmt.Errorf("open remote database: %w", err)
		}
		defer opened.Close()
		remoteDB = opened
	}

	localTable := tags.GetDefault("localtname", "")
	linkTable := tags.GetDefault("linktname", "")
	localCols := tags.GetDefault("localcols", "")
	remoteCols := tags.GetDefault("remotecols", "")

	syncType, err := strconv.Atoi(tags.GetDefault("synctype", "1"))
	if err != nil {
		return fmt.Errorf("bad synctype: %w", err)
	}
	maxCount, _ := strconv.Atoi(tags.GetDefault("maxcount", "1000"))

	s := reftable.New(reftable.Config{
		SyncType:   reftable.SyncType(syncType),
		LocalTable: localTable,
		LinkTable:  linkTable,
		LocalCols:  localCols,
		RemoteCols: remoteCols,
		LWhere:     tags.GetDefault("lwhere", ""),
		RWhere:     tags.GetDefault("rwhere", ""),
		RemoteKey:  tags.GetDefault("remotekeycol", ""),
		LocalKey:   tags.GetDefault("localkeycol", ""),
		MaxCount:   maxCount,
	}, localDB.Conn(), remoteDB.Conn())

	if err := s.Run(context.Background()); err != nil {
		log.WithFields(dclog.Ctx{"err": err}).Warn("dcreftable: sync failed")
		return err
	}

	log.WithFields(dclog.Ctx{"localtname": localTable}).Info("dcreftable: sync complete")
	return nil
}
