// Command dcingest runs the C7 XML-to-table ingester loop: scan an inbox,
// dispatch each file through the rule table, insert or upsert its records,
// and move the file to a backup or error directory (spec.md §4.7).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonical/dcxfer/internal/dbport"
	"github.com/canonical/dcxfer/internal/dcconfig"
	"github.com/canonical/dcxfer/internal/dclog"
	"github.com/canonical/dcxfer/internal/dcsignal"
	"github.com/canonical/dcxfer/internal/dcversion"
	"github.com/canonical/dcxfer/internal/heartbeat"
	"github.com/canonical/dcxfer/internal/ingest"
	"github.com/canonical/dcxfer/internal/rules"
)

// rulesReloadEvery bounds how many scan cycles pass between re-reads of the
// rule file, so an operator's edit takes effect without a restart.
const rulesReloadEvery = 30

func main() {
	root := &cobra.Command{
		Use:          "dcingest <logfile> <xml_config_string>",
		Short:        "Ingest inbox XML files into database tables by rule",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.Version = dcversion.Version
	root.SetVersionTemplate("{{.Version}}\n")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dcingest:", err)
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

	if err := tags.Validate("connstr", "inboxpath", "bakpath", "errpath", "rulespath"); err != nil {
		return err
	}

	driver := tags.GetDefault("dbdriver", "sqlite3")
	connstr := tags.GetDefault("connstr", "")
	charset := tags.GetDefault("charset", "")

	inboxPath := tags.GetDefault("inboxpath", "")
	bakPath := tags.GetDefault("bakpath", "")
	errPath := tags.GetDefault("errpath", "")
	rulesPath := tags.GetDefault("rulespath", "")

	timetvl, _ := strconv.Atoi(tags.GetDefault("timetvl", "10"))
	timeoutSec, _ := strconv.Atoi(tags.GetDefault("timeout", "300"))
	pname := tags.GetDefault("pname", "dcingest")

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

	db, err := dbport.Open(driver, connstr, charset)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	stopper := dcsignal.Install(func(sig os.Signal) {
		log.WithFields(dclog.Ctx{"signal": sig}).Info("dcingest: received stop signal")
	})

	g := ingest.New(ingest.Config{InboxPath: inboxPath, BakPath: bakPath, ErrPath: errPath}, db, log)

	rl, err := rules.Load(rulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	ctx := context.Background()
	cycles := 0

	for {
		if stopper.Stopped() {
			log.Info("dcingest: stopping")
			return nil
		}

		if cycles > 0 && cycles%rulesReloadEvery == 0 {
			fresh, err := rules.Load(rulesPath)
			if err != nil {
				log.WithFields(dclog.Ctx{"err": err}).Warn("dcingest: rule reload failed, keeping previous rules")
			} else {
				rl = fresh
			}
		}
		cycles++

		names, err := g.ScanInbox()
		if err != nil {
			log.WithFields(dclog.Ctx{"err": err}).Warn("dcingest: inbox scan failed")
			time.Sleep(time.Duration(timetvl) * time.Second)
			continue
		}

		if len(names) == 0 {
			select {
			case <-stopper.Done():
				log.Info("dcingest: stopping")
				return nil
			case <-time.After(time.Duration(timetvl) * time.Second):
			}
			continue
		}

		for _, name := range names {
			res := g.ProcessFile(ctx, rl, name)
			hb.Beat()

			fields := dclog.Ctx{"filename": name, "outcome": res.Outcome.String(), "total": res.Total, "inserted": res.Inserted, "updated": res.Updated}
			if res.Err != nil {
				fields["err"] = res.Err
			}
			log.WithFields(fields).Info("dcingest: file processed")

			if res.Fatal() {
				return fmt.Errorf("dcingest: fatal outcome %s on %s: %w", res.Outcome, name, res.Err)
			}
		}
	}
}
