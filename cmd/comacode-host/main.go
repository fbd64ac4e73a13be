// Command comacode-host runs the terminal gateway: it accepts admitted
// connections, spawns PTY sessions for them, and serves the loopback
// pairing dashboard.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/comacode/comacode/internal/admission"
	"github.com/comacode/comacode/internal/audit"
	"github.com/comacode/comacode/internal/config"
	"github.com/comacode/comacode/internal/dashboard"
	"github.com/comacode/comacode/internal/identity"
	"github.com/comacode/comacode/internal/logx"
	"github.com/comacode/comacode/internal/orchestrator"
	"github.com/comacode/comacode/internal/pairing"
	"github.com/comacode/comacode/internal/session"
	"github.com/comacode/comacode/internal/transport"
)

const protocolVersion = 1

func main() {
	root := &cobra.Command{
		Use:   "comacode-host",
		Short: "comacode terminal gateway host",
		RunE:  run,
	}

	root.Flags().String("listen", "", "override listen address (host:port)")
	root.Flags().Int("dashboard-port", 0, "loopback dashboard port (0 = ephemeral)")
	root.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	root.Flags().String("log-file", "", "optional additional log file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")
	if err := logx.Init(logLevel, logFile); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	cfg, err := config.Load(dataDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if override, _ := cmd.Flags().GetString("listen"); override != "" {
		cfg.ListenAddr = override
	}

	id, err := identity.Load(dataDir)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	logx.Log.Info("identity loaded", "fingerprint", id.Fingerprint())

	watcher, err := identity.WatchForDeletion(dataDir)
	if err != nil {
		logx.Log.Warn("identity watcher unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	adm := admission.NewController(protocolVersion, cfg.RateLimitPerMinute, cfg.BanThreshold)
	token, err := admission.GenerateToken()
	if err != nil {
		return fmt.Errorf("generate pairing token: %w", err)
	}
	adm.Tokens.Add(token)

	sessions := session.NewManager()
	defer sessions.Close()

	auditLog, err := audit.Open(filepath.Join(dataDir, "audit.db"))
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	srv, err := transport.Listen(cfg.ListenAddr, id)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer srv.Close()

	host, port, err := splitHostPort(srv.Addr().String())
	if err != nil {
		return fmt.Errorf("parse listen address: %w", err)
	}
	payload := pairing.Payload{
		IP:              host,
		Port:            port,
		Fingerprint:     id.Fingerprint(),
		Token:           token,
		ProtocolVersion: protocolVersion,
	}
	printPairingPayload(payload)

	var admittedTotal, rejectedTotal atomic.Uint64

	dashboardPort, _ := cmd.Flags().GetInt("dashboard-port")
	dash, err := dashboard.New(dashboardPort, payload, func() dashboard.Status {
		return dashboard.Status{
			ActiveSessions:  sessions.Count(),
			AdmittedTotal:   admittedTotal.Load(),
			RejectedTotal:   rejectedTotal.Load(),
			ListenAddr:      cfg.ListenAddr,
			Fingerprint:     id.Fingerprint(),
			ProtocolVersion: protocolVersion,
		}
	}, auditLog.RecentConnections)
	if err != nil {
		return fmt.Errorf("start dashboard: %w", err)
	}
	go func() {
		if err := dash.Serve(); err != nil {
			logx.Log.Warn("dashboard server stopped", "error", err)
		}
	}()
	defer dash.Close()

	logx.Log.Info("comacode host listening", "addr", srv.Addr().String(), "dashboard", dash.Addr().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		<-ctx.Done()
		logx.Log.Info("shutting down")
		srv.Close()
	}()

	for {
		conn, err := srv.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logx.Log.Warn("accept failed", "error", err)
				continue
			}
		}

		go func() {
			oc := orchestrator.New(conn, adm, sessions, dash, auditLog, cfg)
			oc.Run()
			if oc.State() == orchestrator.StateRejected {
				rejectedTotal.Add(1)
				_ = auditLog.RecordConnection(conn.RemoteIP(), "rejected", oc.TraceID())
			} else {
				admittedTotal.Add(1)
				_ = auditLog.RecordConnection(conn.RemoteIP(), "closed", oc.TraceID())
			}
		}()
	}
}

func printPairingPayload(p pairing.Payload) {
	raw, err := p.Marshal()
	if err != nil {
		logx.Log.Warn("failed to render pairing payload", "error", err)
		return
	}
	fmt.Println("Pairing payload (copy into the client):")
	fmt.Println(string(raw))
}

func splitHostPort(addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return host, uint16(port), nil
}
