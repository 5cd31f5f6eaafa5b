// Command archo-notify is a terminal client for the Archo marketplace
// notification feed. It keeps a local SQLite cache in sync with the server
// over REST and a server-sent event stream, and renders the feed as a
// Bubble Tea TUI.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/archohq/notify/internal/api"
	"github.com/archohq/notify/internal/app"
	"github.com/archohq/notify/internal/credential"
	"github.com/archohq/notify/internal/devserver"
	"github.com/archohq/notify/internal/model"
	"github.com/archohq/notify/internal/notify"
	"github.com/archohq/notify/internal/store"
	"github.com/archohq/notify/internal/stream"
)

// demoUser is the opaque bearer token (and user id) the embedded dev server
// accepts when running with -dev.
const demoUser = "demo"

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the configuration file")
	login := flag.String("login", "", "store the given bearer token in the system keyring and exit")
	logout := flag.Bool("logout", false, "remove the stored bearer token and local cache, then exit")
	dev := flag.Bool("dev", false, "run against an embedded in-memory server with demo data")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *login != "" {
		if err := credential.Set(credential.TokenKey, *login); err != nil {
			fmt.Fprintf(os.Stderr, "Error storing token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Token stored in system keyring.")
		return
	}

	if *logout {
		runLogout(cfg)
		return
	}

	log, logClose, err := newLogger(cfg.LogFile, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logClose()

	baseURL := cfg.Server.BaseURL
	cachePath := cfg.CachePath
	token := ""

	if *dev {
		baseURL, err = startDevServer(log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting dev server: %v\n", err)
			os.Exit(1)
		}
		token = demoUser
		cachePath = ":memory:"
	} else {
		token, err = credential.Get(credential.TokenKey)
		if err != nil || token == "" {
			fmt.Fprintln(os.Stderr, "No bearer token found. Run with -login <token> first, or -dev for a demo.")
			os.Exit(1)
		}
	}

	apiClient := api.NewClient(baseURL, token, log)
	listener := stream.New(baseURL, token, log)

	var cache *store.Cache
	if cachePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
			log.Warn().Err(err).Str("path", cachePath).Msg("cannot create cache directory")
		}
	}
	cache, err = store.NewCache(cachePath)
	if err != nil {
		// The cache is an offline nicety; the client runs without it.
		log.Warn().Err(err).Str("path", cachePath).Msg("cache unavailable")
		cache = nil
	} else {
		defer cache.Close()
	}

	client := notify.New(
		apiClient,
		listener,
		cache,
		time.Duration(cfg.Server.PollIntervalSec)*time.Second,
		log,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	client.WarmStart(ctx)
	cancel()

	client.Start()
	defer client.Stop()

	log.Info().Str("server", baseURL).Bool("dev", *dev).Msg("starting UI")

	p := tea.NewProgram(app.New(client, cfg.Server.PageSize), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

// runLogout removes the stored token and drops the local cache file so the
// next user on this machine starts from an empty session.
func runLogout(cfg *model.AppConfig) {
	if err := credential.Delete(credential.TokenKey); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not remove token: %v\n", err)
	}
	if cfg.CachePath != "" {
		if err := os.Remove(cfg.CachePath); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: could not remove cache: %v\n", err)
		}
	}
	fmt.Println("Logged out.")
}

// newLogger opens the log file and returns a zerolog logger writing to it.
// The terminal itself belongs to the TUI, so logs never go to stderr while
// the program is running.
func newLogger(path string, debug bool) (zerolog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("opening log file %s: %w", path, err)
	}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	log := zerolog.New(f).Level(level).With().Timestamp().Logger()
	return log, func() { _ = f.Close() }, nil
}

// startDevServer boots the embedded notification server on a loopback port,
// seeds it with demo data, and keeps publishing a fresh notification every
// so often so the realtime path has something to show.
func startDevServer(log zerolog.Logger) (string, error) {
	srv := devserver.New(log)
	srv.Seed(demoUser, demoSeed())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listening on loopback: %w", err)
	}

	go func() {
		if err := http.Serve(ln, srv.Handler()); err != nil {
			log.Error().Err(err).Msg("dev server stopped")
		}
	}()

	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			srv.Publish(demoUser, devserver.TestNotification())
		}
	}()

	return "http://" + ln.Addr().String(), nil
}

// demoSeed returns a small, varied feed for the -dev demo session.
func demoSeed() []model.Notification {
	now := time.Now()
	return []model.Notification{
		{
			ID:        "seed-1",
			Type:      model.TypeMessage,
			Title:     "New message from Lena Osei",
			Message:   "Hi! I saw your portfolio and would love to discuss a renovation project.",
			Priority:  model.PriorityNormal,
			CreatedAt: now.Add(-2 * time.Minute),
			RelatedUser: &model.RelatedUser{
				ID:          "u-lena",
				DisplayName: "Lena Osei",
			},
		},
		{
			ID:         "seed-2",
			Type:       model.TypeJobApplication,
			Title:      "Application received",
			Message:    "Your application for \"Lakeside Pavilion\" was received.",
			Priority:   model.PriorityNormal,
			ActionURL:  "/jobs/lakeside-pavilion",
			ActionText: "View job",
			CreatedAt:  now.Add(-1 * time.Hour),
		},
		{
			ID:        "seed-3",
			Type:      model.TypePaymentSuccess,
			Title:     "Payment received",
			Message:   "A milestone payment of $4,200 has cleared.",
			Priority:  model.PriorityHigh,
			IsRead:    true,
			CreatedAt: now.Add(-26 * time.Hour),
		},
		{
			ID:        "seed-4",
			Type:      model.TypeSystemAnnouncement,
			Title:     "Scheduled maintenance",
			Message:   "The marketplace will be briefly unavailable on Sunday 02:00 UTC.",
			Priority:  model.PriorityLow,
			IsRead:    true,
			CreatedAt: now.Add(-3 * 24 * time.Hour),
		},
	}
}
