// Command dctransfer runs the C4 transfer protocol engine, either as the
// listening side (spec.md §5 "forks a child per accepted connection", here
// a goroutine per connection) or as the connecting side, depending on the
// `mode` config tag. Role within a session (sender vs receiver) is decided
// by `clienttype` per spec.md §4.4 Handshake.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonical/dcxfer/internal/dcconfig"
	"github.com/canonical/dcxfer/internal/dclog"
	"github.com/canonical/dcxfer/internal/dcsignal"
	"github.com/canonical/dcxfer/internal/dcversion"
	"github.com/canonical/dcxfer/internal/heartbeat"
	"github.com/canonical/dcxfer/internal/transfer"
)

func main() {
	root := &cobra.Command{
		Use:          "dctransfer <logfile> <xml_config_string>",
		Short:        "Run the C4 transfer protocol engine",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.Version = dcversion.Version
	root.SetVersionTemplate("{{.Version}}\n")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dctransfer:", err)
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

	login, err := transfer.ParseLoginRequest(configStr)
	if err != nil {
		return fmt.Errorf("parse transfer config: %w", err)
	}

	ip := tags.GetDefault("ip", "0.0.0.0")
	port := tags.GetDefault("port", "8421")
	timeoutSec, _ := strconv.Atoi(tags.GetDefault("timeout", "60"))
	pname := tags.GetDefault("pname", "dctransfer")

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
		log.WithFields(dclog.Ctx{"signal": sig}).Info("dctransfer: received stop signal")
	})

	cfg := sessionConfig{login: login, tags: tags, hb: hb, log: log, stopper: stopper}

	if tags.GetDefault("mode", "server") == "client" {
		return runClient(net.JoinHostPort(ip, port), cfg)
	}
	return runServer(net.JoinHostPort(ip, port), cfg)
}

type sessionConfig struct {
	login   transfer.LoginRequest
	tags    *dcconfig.Tags
	hb      *heartbeat.Handle
	log     *dclog.Logger
	stopper *dcsignal.Stopper
}

func runServer(addr string, cfg sessionConfig) error {
	srv, err := transfer.Listen(addr, cfg.log)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	defer srv.Close()

	cfg.log.WithFields(dclog.Ctx{"addr": addr}).Info("dctransfer: listening")

	go func() {
		<-cfg.stopper.Done()
		srv.Close()
	}()

	return srv.Serve(func(conn *transfer.Conn) {
		login, err := transfer.ServerHandshake(conn)
		if err != nil {
			cfg.log.WithFields(dclog.Ctx{"err": err}).Warn("dctransfer: handshake failed")
			return
		}
		serveSession(conn, login, cfg)
	})
}

func runClient(addr string, cfg sessionConfig) error {
	nc, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer nc.Close()

	conn := transfer.NewConn(nc)
	if err := transfer.ClientHandshake(conn, cfg.login); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	serveSession(conn, cfg.login, cfg)
	return nil
}

// serveSession runs sender or receiver role against conn based on
// clienttype, looping scan cycles until the stopper fires (spec.md §4.4
// roles, §5 "sleep(timetvl) between work cycles").
func serveSession(conn *transfer.Conn, login transfer.LoginRequest, cfg sessionConfig) {
	isSender := (cfg.tags == nil) == false && sideIsSender(login, cfg)

	// Close the connection on stop so a session blocked in network IO
	// returns instead of waiting for the peer.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-cfg.stopper.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()

	scanInterval := time.Duration(login.ScanSeconds) * time.Second
	if scanInterval <= 0 {
		scanInterval = 30 * time.Second
	}

	if isSender {
		sender := transfer.NewSender(transfer.SenderConfig{
			SourceRoot:   login.SourceRoot,
			MatchName:    login.MatchName,
			Recurse:      login.Recurse,
			ScanInterval: scanInterval,
			Disposition:  login.Disposition,
			BackupRoot:   login.BackupRoot,
		}, cfg.log)

		for {
			select {
			case <-cfg.stopper.Done():
				return
			default:
			}
			if err := sender.RunOnce(conn, cfg.hb.Beat); err != nil {
				cfg.log.WithFields(dclog.Ctx{"err": err}).Warn("dctransfer: sender session ended")
				return
			}
		}
	}

	receiver := transfer.NewReceiver(transfer.ReceiverConfig{DestRoot: login.DestRoot}, cfg.log)
	if err := receiver.Serve(conn); err != nil {
		cfg.log.WithFields(dclog.Ctx{"err": err}).Warn("dctransfer: receiver session ended")
	}
}

// sideIsSender resolves which side of this process plays sender, per
// spec.md §4.4: clienttype=1 means server is sender, clienttype=2 means
// client is sender. Whether this process IS that side depends on whether
// it dialed out (client) or accepted (server); both code paths funnel
// through serveSession with the mode recorded on cfg.tags.
func sideIsSender(login transfer.LoginRequest, cfg sessionConfig) bool {
	weAreClient := cfg.tags.GetDefault("mode", "server") == "client"
	if weAreClient {
		return login.ClientType == transfer.ClientPush
	}
	return login.ClientType == transfer.ClientPull
}
