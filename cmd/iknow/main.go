// Package main is the entry point for the iknow server.
//
// iknow is a personal knowledge base: files are uploaded over a RESTful
// HTTP API, images are run through OCR, and the recognized text becomes
// searchable knowledge fragments versioned in a git-backed library.
// Configuration is read from CLI flags, a .env file (for OAuth and
// operational settings), and server_config.json (for secrets, quotas and
// rate limits).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/NeverlandYao/iknow/internal/enrich"
	"github.com/NeverlandYao/iknow/internal/notify"
	"github.com/NeverlandYao/iknow/internal/ocr"
	"github.com/NeverlandYao/iknow/internal/search"
	"github.com/NeverlandYao/iknow/internal/server"
	"github.com/NeverlandYao/iknow/internal/server/bandwidth"
	"github.com/NeverlandYao/iknow/internal/server/handlers"
	"github.com/NeverlandYao/iknow/internal/server/ipgeo"
	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/NeverlandYao/iknow/internal/storage/content"
	"github.com/NeverlandYao/iknow/internal/storage/git"
	"github.com/NeverlandYao/iknow/internal/storage/identity"
	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "iknow: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	httpAddr := flag.String("http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080). Use 0.0.0.0:port to listen on all interfaces.")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	baseURL := flag.String("base-url", "http://localhost", "Base URL for signed download links and OAuth callbacks (e.g., https://example.com)")
	googleClientID := flag.String("google-client-id", "", "Google OAuth client ID")
	googleClientSecret := flag.String("google-client-secret", "", "Google OAuth client secret")
	githubClientID := flag.String("github-client-id", "", "GitHub OAuth client ID")
	githubClientSecret := flag.String("github-client-secret", "", "GitHub OAuth client secret")
	geoDB := flag.String("geo-db", "", "Path to MaxMind MMDB file for IP geolocation (optional)")
	ocrLangs := flag.String("ocr-langs", "", "Default tesseract language for recognition, e.g. eng or eng+deu (defaults to eng)")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Drop time when running under systemd.
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			// Drop localhost IPs (not useful in logs).
			if a.Key == "ip" {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			val := a.Value.Any()
			skip := false
			switch t := val.(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case uint64:
				skip = t == 0
			case int64:
				skip = t == 0
			case float64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Load .env for OAuth credentials and operational settings
	env, err := loadDotEnv(*dataDir)
	if err != nil {
		return err
	}

	// Load server_config.json for secrets, quotas and rate limits (creates with defaults if missing)
	serverCfg, err := storage.LoadServerConfig(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to load server_config.json: %w", err)
	}

	// Override with .env file values if not explicitly set via flags
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	if !set["http"] {
		if v := env["HTTP"]; v != "" {
			*httpAddr = v
		}
	}
	if !set["log-level"] {
		if v := env["LOG_LEVEL"]; v != "" {
			*logLevel = v
		}
	}
	if !set["base-url"] {
		if v := env["BASE_URL"]; v != "" {
			*baseURL = v
		}
	}
	if !set["google-client-id"] {
		if v := env["GOOGLE_CLIENT_ID"]; v != "" {
			*googleClientID = v
		}
	}
	if !set["google-client-secret"] {
		if v := env["GOOGLE_CLIENT_SECRET"]; v != "" {
			*googleClientSecret = v
		}
	}
	if !set["github-client-id"] {
		if v := env["GITHUB_CLIENT_ID"]; v != "" {
			*githubClientID = v
		}
	}
	if !set["github-client-secret"] {
		if v := env["GITHUB_CLIENT_SECRET"]; v != "" {
			*githubClientSecret = v
		}
	}
	if !set["geo-db"] {
		if v := env["GEO_DB"]; v != "" {
			*geoDB = v
		}
	}
	if !set["ocr-langs"] {
		if v := env["OCR_LANGS"]; v != "" {
			*ocrLangs = v
		}
	}

	// Validate OAuth credentials: both ID and secret must be set, or neither
	if (*googleClientID == "") != (*googleClientSecret == "") {
		return errors.New("google-client-id and google-client-secret must both be set or both be empty")
	}
	if (*githubClientID == "") != (*githubClientSecret == "") {
		return errors.New("github-client-id and github-client-secret must both be set or both be empty")
	}

	// Normalize addr: ":8080" becomes "localhost:8080"
	addr := *httpAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	// Append port to base URL if localhost and no port specified
	if u, err := url.Parse(*baseURL); err == nil && u.Port() == "" && u.Hostname() == "localhost" {
		if _, p, err := net.SplitHostPort(addr); err == nil {
			u.Host = net.JoinHostPort(u.Hostname(), p)
			*baseURL = u.String()
		}
	}

	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}

	// Create db directory for jsonldb tables
	dbDir := filepath.Join(*dataDir, "db")
	if err := os.MkdirAll(dbDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	userService, err := identity.NewUserService(filepath.Join(dbDir, "users.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to initialize user service: %w", err)
	}

	sessionService, err := identity.NewSessionService(filepath.Join(dbDir, "sessions.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to initialize session service: %w", err)
	}

	// Cleanup old expired sessions (older than 7 days past expiration)
	if count, err := sessionService.CleanupExpired(7 * 24 * time.Hour); err != nil {
		slog.WarnContext(ctx, "Failed to cleanup expired sessions", "error", err)
	} else if count > 0 {
		slog.InfoContext(ctx, "Cleaned up expired sessions", "count", count)
	}

	subService, err := identity.NewPushSubscriptionService(filepath.Join(dbDir, "push_subscriptions.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to initialize push subscription service: %w", err)
	}

	fileService, err := content.NewFileService(filepath.Join(dbDir, "files.jsonl"),
		filepath.Join(*dataDir, "blobs"),
		serverCfg.Storage.InlineThresholdBytes, serverCfg.Quotas.MaxTotalStorageBytes)
	if err != nil {
		return fmt.Errorf("failed to initialize file service: %w", err)
	}
	if err := fileService.GC(); err != nil {
		slog.WarnContext(ctx, "Failed to collect unreferenced file blobs", "error", err)
	}

	repo, err := git.Open(filepath.Join(*dataDir, "library"), "", "")
	if err != nil {
		return fmt.Errorf("failed to open fragment library: %w", err)
	}
	fragmentStore, err := content.NewFragmentStore(repo)
	if err != nil {
		return fmt.Errorf("failed to initialize fragment store: %w", err)
	}

	searchIndex, fresh, err := search.Open(filepath.Join(*dataDir, "search.db"))
	if err != nil {
		return fmt.Errorf("failed to open search index: %w", err)
	}
	defer func() { _ = searchIndex.Close() }()
	if fresh {
		fragments, err := fragmentStore.List("")
		if err != nil {
			return fmt.Errorf("failed to list fragments for indexing: %w", err)
		}
		if err := searchIndex.Rebuild(ctx, fragments); err != nil {
			return fmt.Errorf("failed to rebuild search index: %w", err)
		}
		slog.InfoContext(ctx, "Rebuilt search index", "fragments", len(fragments))
	}

	notifier := notify.NewService(subService, serverCfg.VAPID)
	if notifier.Enabled() {
		slog.InfoContext(ctx, "Web push enabled")
	}

	pipeline, err := enrich.NewPipeline(enrich.Config{
		TablePath:       filepath.Join(dbDir, "ocr_jobs.jsonl"),
		Engine:          ocr.NewTesseract(),
		Files:           fileService,
		Fragments:       fragmentStore,
		Users:           userService,
		Search:          searchIndex,
		Notifier:        notifier,
		ServerQuotas:    serverCfg.Quotas.ResourceQuotas,
		DefaultLanguage: *ocrLangs,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize recognition pipeline: %w", err)
	}
	if count, err := pipeline.RecoverStuck(); err != nil {
		slog.WarnContext(ctx, "Failed to recover interrupted recognition jobs", "error", err)
	} else if count > 0 {
		slog.InfoContext(ctx, "Recovered interrupted recognition jobs", "count", count)
	}
	if err := pipeline.GC(); err != nil {
		slog.WarnContext(ctx, "Failed to collect unreferenced recognition results", "error", err)
	}
	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- pipeline.Run(ctx) }()

	// Open IP geolocation database if configured
	var geoChecker *ipgeo.Checker
	if *geoDB != "" {
		geoChecker, err = ipgeo.Open(*geoDB)
		if err != nil {
			return fmt.Errorf("failed to open geo database: %w", err)
		}
		defer func() { _ = geoChecker.Close() }()
		slog.InfoContext(ctx, "IP geolocation enabled", "db", *geoDB)
	}

	var egress *bandwidth.Limiter
	if bps := serverCfg.Quotas.MaxEgressBandwidthBps; bps > 0 {
		egress = bandwidth.NewLimiter(bps)
		slog.InfoContext(ctx, "Egress bandwidth limit enabled", "bytes_per_sec", bps)
	}

	// Watch own executable for modifications (for development restarts)
	if err := watchExecutable(ctx, stop); err != nil {
		return fmt.Errorf("failed to watch executable: %w", err)
	}

	svc := &handlers.Services{
		User:             userService,
		Session:          sessionService,
		PushSubscription: subService,
		Files:            fileService,
		Fragments:        fragmentStore,
		Search:           searchIndex,
		Pipeline:         pipeline,
		Notify:           notifier,
		Geo:              geoChecker,
		Bandwidth:        egress,
	}

	buildVersion, buildGoVersion, buildRevision, buildDirty := getBuildInfo()
	cfg := &server.Config{
		ServerConfig: serverCfg,
		DataDir:      *dataDir,
		BaseURL:      *baseURL,
		Version:      buildVersion,
		GoVersion:    buildGoVersion,
		Revision:     buildRevision,
		Dirty:        buildDirty,
		OAuth: server.OAuthConfig{
			GoogleClientID:     *googleClientID,
			GoogleClientSecret: *googleClientSecret,
			GitHubClientID:     *githubClientID,
			GitHubClientSecret: *githubClientSecret,
		},
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(svc, cfg),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "baseURL", *baseURL, "version", buildVersion)
		serverErr <- httpServer.ListenAndServe()
	}()

	// Wait for either context cancellation or server error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		// Graceful shutdown
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		// Let in-flight recognition jobs settle before closing stores.
		<-pipelineDone
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("iknow %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

func loadDotEnv(dataDir string) (map[string]string, error) {
	env := make(map[string]string)
	path := filepath.Join(dataDir, ".env")
	envContent, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir flag, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, err
	}

	for line := range strings.SplitSeq(string(envContent), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])

		if strings.HasPrefix(val, "'") || strings.HasSuffix(val, "'") {
			if strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'") {
				return nil, fmt.Errorf("single quotes are not supported for wrapping in .env: %s", line)
			}
			return nil, fmt.Errorf("unbalanced single quotes in .env: %s", line)
		}

		if strings.HasPrefix(val, "\"") {
			unquoted, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("failed to unquote %s: %w", key, err)
			}
			val = unquoted
		}

		env[key] = val
	}
	return env, nil
}

// watchExecutable watches the current executable for modifications and calls
// stop to trigger graceful shutdown when detected. This enables seamless
// restarts during development.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}
