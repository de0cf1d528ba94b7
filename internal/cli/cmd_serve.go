package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/webquiz/quiztunnel/internal/admin"
	"github.com/webquiz/quiztunnel/internal/config"
	"github.com/webquiz/quiztunnel/internal/debughttp"
	"github.com/webquiz/quiztunnel/internal/keystore"
	ilog "github.com/webquiz/quiztunnel/internal/log"
	"github.com/webquiz/quiztunnel/internal/metrics"
	"github.com/webquiz/quiztunnel/internal/relay"
	"github.com/webquiz/quiztunnel/internal/status"
	"github.com/webquiz/quiztunnel/internal/store/sqlite"
	"github.com/webquiz/quiztunnel/internal/tunnel"
)

const shutdownDisconnectTimeout = 10 * time.Second

func runServe(ctx context.Context, args []string) int {
	o, err := config.ParseServeFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	cfg, path, err := config.LoadWith(o)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel, cfg.LogFormat)
	logStartup(logger, cfg, path)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	var wg sync.WaitGroup

	keys := keystore.New(logger)
	connector, err := tunnel.NewSSHConnector(tunnel.SSHOptions{
		KnownHostsPath:    cfg.Tunnel.KnownHosts,
		ConnectTimeout:    cfg.Tunnel.ConnectTimeout,
		KeepaliveInterval: cfg.Tunnel.KeepaliveInterval,
	}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ssh config error:", err)
		return 2
	}
	hub := status.NewHub(logger, status.Options{})
	session := tunnel.NewSession(cfg.Session(), tunnel.Deps{
		Keys:      keys,
		Resolver:  relay.New(nil, logger),
		Connector: connector,
		Publisher: hub,
		Logger:    logger,
	})

	var events admin.EventLog
	if cfg.Journal.Path != "" {
		store, err := sqlite.Open(cfg.Journal.Path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "journal error:", err)
			return 1
		}
		defer func() { _ = store.Close() }()
		journal := sqlite.NewJournal(store, cfg.Journal.Keep, logger)
		events = store
		wg.Go(func() { hub.Forward(runCtx, "journal", journal.Record) })
	}

	collector := metrics.NewCollector(hub.Count)
	wg.Go(func() { hub.Forward(runCtx, "metrics", collector.Observe) })
	registry, err := metrics.NewRegistry(collector)
	if err != nil {
		fmt.Fprintln(os.Stderr, "metrics error:", err)
		return 1
	}
	if _, err := debughttp.Start(runCtx, cfg.Debug.Listen, metrics.Handler(registry), logger); err != nil {
		fmt.Fprintln(os.Stderr, "debug listener error:", err)
		return 1
	}

	api, err := admin.New(admin.Config{
		Listen:     cfg.Admin.Listen,
		MasterKey:  cfg.Admin.MasterKey,
		TrustedIPs: cfg.Admin.TrustedIPs,
	}, session, keys, events, hub.ServeWS, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "admin config error:", err)
		return 2
	}

	if path != "" {
		wg.Go(func() {
			err := config.Watch(runCtx, path, o, config.DefaultReloadDebounce, func(next config.Config) {
				session.Reconfigure(next.Session())
			}, logger)
			if err != nil {
				logger.Warn("config hot reload disabled", "path", path, "err", err)
			}
		})
	}

	if cfg.Tunnel.AutoConnect {
		if !cfg.TunnelConfigured() {
			logger.Warn("auto_connect is set but the tunnel is not configured")
		}
		session.Connect()
	}

	code := 0
	if err := api.Run(runCtx); err != nil {
		fmt.Fprintln(os.Stderr, "admin server error:", err)
		code = 1
	}

	dctx, cancel := context.WithTimeout(context.Background(), shutdownDisconnectTimeout)
	session.Disconnect(dctx)
	cancel()
	stop()
	wg.Wait()
	return code
}

// logStartup prints the effective tunnel settings. Secrets are reduced to
// whether they are set.
func logStartup(logger *slog.Logger, cfg config.Config, path string) {
	source := path
	if source == "" {
		source = "defaults+env"
	}
	logger.Info("quiztunnel starting",
		"version", Version,
		"config", source,
		"local_port", cfg.Server.Port,
		"admin_listen", cfg.Admin.Listen,
		"master_key_set", cfg.Admin.MasterKey != "",
		"journal", cfg.Journal.Path,
	)
	t := cfg.Tunnel
	if !cfg.TunnelConfigured() {
		logger.Info("tunnel not configured", "hint", "set tunnel.server in the config file")
		return
	}
	logger.Info("tunnel configuration",
		"server", t.Server,
		"ssh_port", t.SSHPort,
		"public_key", t.PublicKey,
		"private_key", t.PrivateKey,
		"known_hosts", t.KnownHosts,
		"socket_name", t.SocketName,
		"override", t.Override != nil,
		"auto_connect", t.AutoConnect,
	)
}
