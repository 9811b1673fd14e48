// Command dcftpsync runs the C5 FTP replicator in a loop, downloading or
// uploading matched files against a remote FTP server (spec.md §4.5).
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
	"github.com/canonical/dcxfer/internal/ftpclient"
	"github.com/canonical/dcxfer/internal/ftpsync"
	"github.com/canonical/dcxfer/internal/heartbeat"
)

func main() {
	root := &cobra.Command{
		Use:          "dcftpsync <logfile> <xml_config_string>",
		Short:        "Replicate files against a remote FTP directory",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.Version = dcversion.Version
	root.SetVersionTemplate("{{.Version}}\n")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dcftpsync:", err)
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

	if err := tags.Validate("ftphost", "localpath"); err != nil {
		return err
	}
	host := tags.GetDefault("ftphost", "")
	user := tags.GetDefault("ftpuser", "anonymous")
	pass := tags.GetDefault("ftppass", "")
	remoteRoot := tags.GetDefault("ftproot", "")
	localRoot := tags.GetDefault("localpath", "")
	direction := tags.GetDefault("direction", "download")
	globCSV := tags.GetDefault("matchname", "*")
	bookmarkPath := tags.GetDefault("bookmark", "")
	checkMTime := tags.GetDefault("checkmtime", "0") == "1"
	backupSuffix := tags.GetDefault("backupsuffix", ".bak")

	ptype, err := strconv.Atoi(tags.GetDefault("ptype", "1"))
	if err != nil {
		return fmt.Errorf("bad ptype: %w", err)
	}

	intervalSec, _ := strconv.Atoi(tags.GetDefault("timetvl", "60"))
	dialTimeoutSec, _ := strconv.Atoi(tags.GetDefault("ftptimeout", "30"))
	timeoutSec, _ := strconv.Atoi(tags.GetDefault("timeout", "300"))
	pname := tags.GetDefault("pname", "dcftpsync")

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

	stopper := dcsignal.Install(func(sig os.Signal) {
		log.WithFields(dclog.Ctx{"signal": sig}).Info("dcftpsync: received stop signal")
	})

	rep := ftpsync.New(ftpsync.Config{
		BookmarkPath: bookmarkPath,
		GlobCSV:      globCSV,
		Ptype:        ftpsync.PType(ptype),
		CheckMTime:   checkMTime,
		BackupSuffix: backupSuffix,
	}, log)

	addr := host
	dialTimeout := time.Duration(dialTimeoutSec) * time.Second

	for {
		if stopper.Stopped() {
			log.Info("dcftpsync: stopping")
			return nil
		}

		client, err := ftpclient.Dial(addr, user, pass, remoteRoot, dialTimeout)
		if err != nil {
			log.WithFields(dclog.Ctx{"err": err}).Warn("dcftpsync: dial failed")
			time.Sleep(time.Duration(intervalSec) * time.Second)
			continue
		}

		var runErr error
		if direction == "upload" {
			runErr = rep.Upload(client, localRoot)
		} else {
			runErr = rep.Download(client, localRoot)
		}
		client.Close()

		hb.Beat()

		if runErr != nil {
			log.WithFields(dclog.Ctx{"err": runErr}).Warn("dcftpsync: replication cycle failed")
		}

		select {
		case <-stopper.Done():
			log.Info("dcftpsync: stopping")
			return nil
		case <-time.After(time.Duration(intervalSec) * time.Second):
		}
	}
}
