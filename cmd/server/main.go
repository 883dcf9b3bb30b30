package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ltavares/chatline/pkg/bot"
	"github.com/ltavares/chatline/pkg/datastore"
	"github.com/ltavares/chatline/pkg/logging"
	"github.com/ltavares/chatline/pkg/server"
	"github.com/ltavares/chatline/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP/TLS bind address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.CertFile, "cert", "", "TLS certificate file (auto-generated if empty)")
	flag.StringVar(&cfg.KeyFile, "key", "", "TLS private key file (auto-generated if empty)")
	flag.StringVar(&cfg.DataDir, "data", ".", "Data directory for generated files")
	flag.StringVar(&cfg.RoomsFile, "rooms-file", "", "YAML file defining rooms to create on startup")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "Session token lifetime")
	flag.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Expired-token sweep period")
	flag.BoolVar(&cfg.DisableRegistration, "no-register", false, "Reject logins for unknown usernames")
	flag.BoolVar(&cfg.ExportUsers, "export-users", false, "Export all users as YAML and exit")

	botModel := flag.String("bot-model", "", "Chat completion model for bot rooms (default "+bot.DefaultModel+")")
	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("chatline server", version.Version)
		return
	}

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	st, err := datastore.NewSQL(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	deps := server.Dependencies{Store: st}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		deps.Replies = bot.NewOpenAI(key, *botModel)
	} else {
		slog.Warn("OPENAI_API_KEY not set; bot rooms will answer with an error line")
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		slog.Error("server init", "err", err)
		os.Exit(1)
	}

	// Export action: run and exit.
	if cfg.ExportUsers {
		if err := srv.ExportUsers(os.Stdout); err != nil {
			slog.Error("export users", "err", err)
			os.Exit(1)
		}
		_ = st.Close()
		return
	}

	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
