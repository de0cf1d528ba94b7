package config

import (
	"flag"
	"io"
	"strings"
)

// Overrides holds command-line settings that win over file and environment.
// Zero values leave the loaded setting alone.
type Overrides struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	Port        int
	AdminListen string
	DebugListen string
	Server      string
	Connect     bool
}

// ParseServeFlags parses the flags of the serve command.
func ParseServeFlags(args []string, output io.Writer) (Overrides, error) {
	var o Overrides
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	registerCommonFlags(fs, &o)
	fs.IntVar(&o.Port, "port", 0, "Local quiz server port the tunnel forwards to")
	fs.StringVar(&o.AdminListen, "admin-listen", "", "Admin API listen address (empty keeps config)")
	fs.StringVar(&o.DebugListen, "debug-listen", "", "pprof and metrics listen address")
	fs.BoolVar(&o.Connect, "connect", false, "Connect the tunnel on startup")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

// ParseToolFlags parses the flags shared by the keys and resolve commands.
func ParseToolFlags(name string, args []string, output io.Writer) (Overrides, error) {
	var o Overrides
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	registerCommonFlags(fs, &o)
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func registerCommonFlags(fs *flag.FlagSet, o *Overrides) {
	fs.StringVar(&o.ConfigPath, "config", "", "Path to config.yaml")
	fs.StringVar(&o.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	fs.StringVar(&o.LogFormat, "log-format", "", "Log format: text|json")
	fs.StringVar(&o.Server, "server", "", "Relay host (overrides tunnel.server)")
}

// Apply copies the set overrides onto c and validates the result.
func (o Overrides) Apply(c *Config) error {
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(o.LogFormat); v != "" {
		c.LogFormat = strings.ToLower(v)
	}
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if v := strings.TrimSpace(o.AdminListen); v != "" {
		c.Admin.Listen = v
	}
	if v := strings.TrimSpace(o.DebugListen); v != "" {
		c.Debug.Listen = v
	}
	if v := strings.TrimSpace(o.Server); v != "" {
		c.Tunnel.Server = v
	}
	if o.Connect {
		c.Tunnel.AutoConnect = true
	}
	return c.Validate()
}

// LoadWith resolves the config path, loads it and applies o.
func LoadWith(o Overrides) (Config, string, error) {
	path := strings.TrimSpace(o.ConfigPath)
	if path == "" {
		path = DefaultPath()
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, path, err
	}
	if err := o.Apply(&cfg); err != nil {
		return cfg, path, err
	}
	return cfg, path, nil
}
