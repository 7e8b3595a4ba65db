package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-scan/internal/receipt"
	"github.com/zombor/receipt-scan/internal/scanning"
	"github.com/zombor/receipt-scan/internal/suggest"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	port           int
	dbPath         string
	storagePath    string
	provider       string
	geminiKey      string
	geminiModel    string
	ollamaURL      string
	ollamaModel    string
	openAIKey      string
	openAIURL      string
	openAIModel    string
	extractTimeout time.Duration
	historyDSN     string
	scanQuota      int
	authUser       string
	authPass       string
	logLevel       string
	logFormat      string
	showVersion    bool
}

func parseConfig(args []string) (config, error) {
	fs := ff.NewFlagSet("receipt-scan")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "receipt-scan.db", "Database file path")
		storagePath    = fs.StringLong("storage", "./receipts", "Storage directory path")
		provider       = fs.StringLong("provider", "gemini", "Extraction provider: 'gemini', 'ollama' or 'openai'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		openAIKey      = fs.StringLong("openai-key", "", "OpenAI-compatible API key (or set OPENAI_API_KEY env var)")
		openAIURL      = fs.StringLong("openai-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
		openAIModel    = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI-compatible model name")
		extractTimeout = fs.DurationLong("extract-timeout", 60*time.Second, "Timeout for one provider call")
		historyDSN     = fs.StringLong("history-dsn", "", "Postgres DSN to read suggestion history from (optional)")
		scanQuota      = fs.IntLong("scan-quota", 0, "Scans allowed per scope per day (0 = unlimited)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat      = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		showVersion    = fs.BoolLong("version", "Show version information")
		_              = fs.StringLong("config", "", "Config file (optional)")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("RECEIPT_SCAN"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		return config{}, fmt.Errorf("%s\n%w", ffhelp.Flags(fs), err)
	}

	cfg := config{
		port:           *port,
		dbPath:         *dbPath,
		storagePath:    *storagePath,
		provider:       *provider,
		geminiKey:      *geminiKey,
		geminiModel:    *geminiModel,
		ollamaURL:      *ollamaURL,
		ollamaModel:    *ollamaModel,
		openAIKey:      *openAIKey,
		openAIURL:      *openAIURL,
		openAIModel:    *openAIModel,
		extractTimeout: *extractTimeout,
		historyDSN:     *historyDSN,
		scanQuota:      *scanQuota,
		authUser:       *authUser,
		authPass:       *authPass,
		logLevel:       *logLevel,
		logFormat:      *logFormat,
		showVersion:    *showVersion,
	}
	if cfg.geminiKey == "" {
		cfg.geminiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.openAIKey == "" {
		cfg.openAIKey = os.Getenv("OPENAI_API_KEY")
	}
	return cfg, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

// newProvider builds the configured provider. A missing key still yields a
// provider; its extractions fail with a configuration error.
func newProvider(ctx context.Context, cfg config, log *slog.Logger) (scanning.Provider, error) {
	switch cfg.provider {
	case "gemini":
		if cfg.geminiKey == "" {
			log.Warn("Gemini API key is not set; scans will fail until GEMINI_API_KEY or --gemini-key is provided")
		}
		log.Info("Initializing Gemini provider...", "model", cfg.geminiModel)
		return scanning.NewGemini(ctx, cfg.geminiKey, cfg.geminiModel)
	case "ollama":
		log.Info("Initializing Ollama provider...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel, nil, log), nil
	case "openai":
		if cfg.openAIKey == "" {
			log.Warn("OpenAI API key is not set; scans will fail until OPENAI_API_KEY or --openai-key is provided")
		}
		log.Info("Initializing OpenAI provider...", "url", cfg.openAIURL, "model", cfg.openAIModel)
		return scanning.NewOpenAI(scanning.OpenAIConfig{
			APIKey:  cfg.openAIKey,
			BaseURL: cfg.openAIURL,
			Model:   cfg.openAIModel,
		}, nil, log), nil
	}
	return nil, fmt.Errorf("invalid provider %q: valid providers are gemini, ollama or openai", cfg.provider)
}

func run(ctx context.Context, cfg config, log *slog.Logger) error {
	log.Info("Initializing database...", "path", cfg.dbPath)
	db, err := receipt.NewBoltDB(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	log.Info("Initializing storage...", "path", cfg.storagePath)
	store, err := receipt.NewLocalStorage(cfg.storagePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	provider, err := newProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer provider.Close()

	adapter := scanning.NewAdapter(provider,
		scanning.WithLogger(log),
		scanning.WithTimeout(cfg.extractTimeout),
		scanning.WithUsageGate(receipt.NewDailyQuota(cfg.scanQuota, nil)),
	)

	var history suggest.HistoryReader = db
	if cfg.historyDSN != "" {
		log.Info("Connecting to Postgres history...")
		pg, err := receipt.NewPostgresHistory(ctx, cfg.historyDSN)
		if err != nil {
			return fmt.Errorf("initializing history: %w", err)
		}
		defer pg.Close()
		history = pg
	}
	suggester := suggest.NewSuggester(history, db, suggest.WithLogger(log))

	service := receipt.NewService(db, adapter, suggester, store).WithLogger(log)
	server := receipt.NewServer(service, receipt.BasicAuth{
		Username: cfg.authUser,
		Password: cfg.authPass,
	})

	if cfg.authUser != "" || cfg.authPass != "" {
		log.Info("Basic auth enabled", "user", cfg.authUser)
	}

	err = server.Start(ctx, fmt.Sprintf(":%d", cfg.port))
	log.Info("Shutting down...")
	return err
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, ff.ErrHelp) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cfg.showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	log, err := newLogger(os.Stderr, cfg.logLevel, cfg.logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Server error", "error", err)
		os.Exit(1)
	}
}
