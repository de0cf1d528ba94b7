package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/webquiz/quiztunnel/internal/config"
	"github.com/webquiz/quiztunnel/internal/keystore"
	ilog "github.com/webquiz/quiztunnel/internal/log"
	"github.com/webquiz/quiztunnel/internal/relay"
)

func runKeys(args []string) int {
	cfg, ok := loadToolConfig("keys", args)
	if !ok {
		return 2
	}
	logger := ilog.New(cfg.LogLevel, cfg.LogFormat)
	kp, err := keystore.New(logger).EnsureKeyPair(cfg.Tunnel.PublicKey, cfg.Tunnel.PrivateKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, "keys error:", err)
		return 1
	}
	fmt.Fprintln(os.Stderr, "fingerprint:", kp.Fingerprint())
	fmt.Print(string(kp.PublicKey))
	return 0
}

func runResolve(ctx context.Context, args []string) int {
	cfg, ok := loadToolConfig("resolve", args)
	if !ok {
		return 2
	}
	logger := ilog.New(cfg.LogLevel, cfg.LogFormat)
	d, err := relay.New(nil, logger).Resolve(ctx, relay.Config{
		RelayHost: cfg.Tunnel.Server,
		Override:  cfg.Tunnel.Override,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve error:", err)
		return 1
	}
	fmt.Println("source:", d.Source)
	fmt.Println("username:", d.Username)
	fmt.Println("socket_directory:", d.SocketDirectory)
	fmt.Println("base_url:", d.BaseURL)
	return 0
}

func loadToolConfig(name string, args []string) (config.Config, bool) {
	o, err := config.ParseToolFlags(name, args, os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, name, "flags error:", err)
		}
		return config.Config{}, false
	}
	cfg, _, err := config.LoadWith(o)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return config.Config{}, false
	}
	return cfg, true
}
