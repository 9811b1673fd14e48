// Command dcminer runs the C6 DB miner once: a bookmarked incremental
// SELECT emitted as chunked XML files (spec.md §4.6).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonical/dcxfer/internal/bookmark"
	"github.com/canonical/dcxfer/internal/dbport"
	"github.com/canonical/dcxfer/internal/dcconfig"
	"github.com/canonical/dcxfer/internal/dclog"
	"github.com/canonical/dcxfer/internal/dcversion"
	"github.com/canonical/dcxfer/internal/heartbeat"
	"github.com/canonical/dcxfer/internal/miner"
)

func main() {
	root := &cobra.Command{
		Use:          "dcminer <logfile> <xml_config_string>",
		Short:        "Mine a table into bookmarked XML output files",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.Version = dcversion.Version
	root.SetVersionTemplate("{{.Version}}\n")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dcminer:", err)
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

	if err := tags.Validate("connstr", "selectsql", "fieldstr", "outpath"); err != nil {
		return err
	}

	driver := tags.GetDefault("dbdriver", "sqlite3")
	connstr := tags.GetDefault("connstr", "")
	charset := tags.GetDefault("charset", "")

	selectSQL := tags.GetDefault("selectsql", "")
	columns := strings.Split(tags.GetDefault("fieldstr", ""), ",")
	for i := range columns {
		columns[i] = strings.TrimSpace(columns[i])
	}

	outPath := tags.GetDefault("outpath", "")
	prefix := tags.GetDefault("prefix", "MINE")
	suffix := tags.GetDefault("suffix", "OUT")
	maxCount, _ := strconv.Atoi(tags.GetDefault("maxcount", "0"))
	incField := tags.GetDefault("incfield", "")
	pname := tags.GetDefault("pname", "dcminer")

	var startHours []int
	if sh := tags.GetDefault("starttime", ""); sh != "" {
		for _, tok := range strings.Split(sh, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			h, err := strconv.Atoi(tok)
			if err != nil {
				return fmt.Errorf("bad starttime %q: %w", tok, err)
			}
			startHours = append(startHours, h)
		}
	}

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

	db, err := dbport.Open(driver, connstr, charset)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var store bookmark.IncMaxStore
	if incField != "" {
		switch tags.GetDefault("incstore", "table") {
		case "file":
			store = &bookmark.FileIncMaxStore{Path: tags.GetDefault("incmaxpath", outPath+"/"+pname+".incmax")}
		default:
			store = &bookmark.TableIncMaxStore{DB: db.Conn()}
		}
	}

	m := miner.New(miner.Config{
		SelectSQL:  selectSQL,
		Columns:    columns,
		OutPath:    outPath,
		Prefix:     prefix,
		Suffix:     suffix,
		MaxCount:   maxCount,
		IncField:   incField,
		PName:      pname,
		StartHours: startHours,
	}, db.Conn(), store)

	now := time.Now()
	if !m.ShouldRun(now) {
		log.WithFields(dclog.Ctx{"hour": now.Hour()}).Info("dcminer: current hour not in starttime, exiting")
		return nil
	}

	ctx := context.Background()
	files, records, err := m.Run(ctx, now, hb.Beat)
	if err != nil {
		log.WithFields(dclog.Ctx{"err": err}).Warn("dcminer: run failed")
		return err
	}

	log.WithFields(dclog.Ctx{"files": files, "records": records}).Info("dcminer: run complete")
	return nil
}
