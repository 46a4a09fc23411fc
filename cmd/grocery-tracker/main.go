package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/grocery-tracker/internal/ledger"
	"github.com/zombor/grocery-tracker/internal/resolve"
	"github.com/zombor/grocery-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("grocery-tracker")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		storeType    = fs.StringLong("store", "bolt", "Storage backend: 'bolt' or 'file'")
		dbPath       = fs.StringLong("db", "grocery-tracker.db", "Database file path (bolt store)")
		dataDir      = fs.StringLong("data-dir", "./data", "Data directory (file store)")
		ocrType      = fs.StringLong("ocr", "gemini", "Receipt text recognition: 'gemini', 'ollama' or 'none'")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name")
		fetchTimeout = fs.DurationLong("fetch-timeout", 20*time.Second, "Timeout for fetching invoice URLs")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel     = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		_            = fs.StringLong("config", "", "Config file with one 'flag value' per line (optional)")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("GROCERY_TRACKER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	setupLogging(*logLevel)

	store, err := openStore(*storeType, *dbPath, *dataDir)
	if err != nil {
		slog.Error("Failed to initialize storage", "store", *storeType, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	recognizer, err := openRecognizer(*ocrType, *geminiKey, *geminiModel, *ollamaURL, *ollamaModel)
	if err != nil {
		slog.Error("Failed to initialize text recognition", "ocr", *ocrType, "error", err)
		os.Exit(1)
	}
	if recognizer != nil {
		defer recognizer.Close()
	}

	resolver := resolve.NewResolver(resolve.NewHTTPFetcher(*fetchTimeout))

	service := ledger.NewService(store, resolver, recognizer)
	service.Load()

	server := ledger.NewServer(service, ledger.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down cleanly", "error", err)
	}
}

// setupLogging installs a text handler at the given level as the default logger.
// Unknown levels fall back to info.
func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func openStore(storeType, dbPath, dataDir string) (ledger.Store, error) {
	switch storeType {
	case "bolt":
		slog.Info("Opening database...", "path", dbPath)
		return ledger.NewBoltStore(dbPath)
	case "file":
		slog.Info("Opening data directory...", "path", dataDir)
		return ledger.NewFileStore(dataDir)
	default:
		return nil, fmt.Errorf("unknown store type %q, want bolt or file", storeType)
	}
}

// openRecognizer returns nil when recognition is disabled
func openRecognizer(ocrType, geminiKey, geminiModel, ollamaURL, ollamaModel string) (scanning.Recognizer, error) {
	switch ocrType {
	case "gemini":
		apiKey := geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY, or use --ocr none")
		}
		slog.Info("Initializing Gemini recognizer...", "model", geminiModel)
		return scanning.NewGemini(apiKey, geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", ollamaURL, "model", ollamaModel)
		return scanning.NewOllama(ollamaURL, ollamaModel)
	case "none":
		slog.Warn("Text recognition disabled, photo import is unavailable")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown recognizer %q, want gemini, ollama or none", ocrType)
	}
}
