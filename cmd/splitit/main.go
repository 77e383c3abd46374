package main

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/splitit/internal/auth"
	"github.com/zombor/splitit/internal/logging"
	"github.com/zombor/splitit/internal/scanning"
	"github.com/zombor/splitit/internal/server"
	"github.com/zombor/splitit/internal/session"
	"github.com/zombor/splitit/internal/share"
	"github.com/zombor/splitit/internal/storage"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type options struct {
	port         int
	storeType    string
	dbPath       string
	databaseURL  string
	storagePath  string
	scannerType  string
	geminiKey    string
	geminiModel  string
	ollamaURL    string
	ollamaModel  string
	functionURL  string
	functionKey  string
	jwtSecret    string
	tokenTTL     time.Duration
	publicOrigin string
	logLevel     string
	analyzePath  string
	mode         string
	people       int
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("splitit")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		storeType    = fs.StringLong("store", "bolt", "Share store: 'bolt' or 'postgres'")
		dbPath       = fs.StringLong("db", "splitit.db", "BoltDB file path")
		databaseURL  = fs.StringLong("database-url", "", "Postgres connection string (or set DATABASE_URL env var)")
		storagePath  = fs.StringLong("storage", "./uploads", "Upload storage directory path")
		scannerType  = fs.StringLong("scanner", "gemini", "Analyzer: 'gemini', 'ollama' or 'function'")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", scanning.DefaultOllamaURL, "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", scanning.DefaultOllamaModel, "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		functionURL  = fs.StringLong("function-url", "", "Remote bill analysis function URL")
		functionKey  = fs.StringLong("function-key", "", "API key sent to the remote analysis function")
		jwtSecret    = fs.StringLong("jwt-secret", "", "Secret for signing session tokens (random per process if empty)")
		tokenTTL     = fs.StringLong("token-ttl", "24h", "Session token lifetime")
		publicOrigin = fs.StringLong("public-origin", "http://localhost:8080", "Base URL used in share links")
		logLevel     = fs.StringLong("log-level", "", "Log level: debug, info, warn, error (or set LOG_LEVEL env var)")
		analyzePath  = fs.StringLong("analyze", "", "Analyze one image file, print the split and exit")
		mode         = fs.StringLong("mode", "simple", "Analysis mode for --analyze: 'simple' or 'itemized'")
		people       = fs.IntLong("people", 2, "Number of people for --analyze")
		_            = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SPLITIT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ttl, err := time.ParseDuration(*tokenTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid --token-ttl: %v\n", err)
		os.Exit(1)
	}

	opts := options{
		port:         *port,
		storeType:    *storeType,
		dbPath:       *dbPath,
		databaseURL:  *databaseURL,
		storagePath:  *storagePath,
		scannerType:  *scannerType,
		geminiKey:    *geminiKey,
		geminiModel:  *geminiModel,
		ollamaURL:    *ollamaURL,
		ollamaModel:  *ollamaModel,
		functionURL:  *functionURL,
		functionKey:  *functionKey,
		jwtSecret:    *jwtSecret,
		tokenTTL:     ttl,
		publicOrigin: *publicOrigin,
		logLevel:     *logLevel,
		analyzePath:  *analyzePath,
		mode:         *mode,
		people:       *people,
	}

	if opts.logLevel == "" {
		opts.logLevel = os.Getenv("LOG_LEVEL")
	}
	if err := logging.Setup(opts.logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.analyzePath != "" {
		err = analyzeOnce(ctx, opts)
	} else {
		err = serve(ctx, opts)
	}
	if err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, opts options) error {
	slog.Info("Initializing storage...", "path", opts.storagePath)
	uploads, err := storage.NewLocalStorage(opts.storagePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	store, err := newStore(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	analyzer, err := newAnalyzer(ctx, opts, uploads)
	if err != nil {
		return err
	}
	defer analyzer.Close()

	tokens, err := newTokens(opts)
	if err != nil {
		return err
	}

	srv := server.NewServer(tokens, analyzer, share.NewService(store), uploads, server.NewMetrics(), server.Config{
		PublicOrigin:  opts.publicOrigin,
		InlineUploads: opts.scannerType == "function",
	})

	addr := fmt.Sprintf(":%d", opts.port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	return srv.Start(ctx, addr)
}

func newStore(ctx context.Context, opts options) (share.Store, error) {
	switch opts.storeType {
	case "bolt":
		slog.Info("Initializing database...", "path", opts.dbPath)
		store, err := share.NewBoltStore(opts.dbPath)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		return store, nil
	case "postgres":
		dsn := opts.databaseURL
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, errors.New("postgres store requires --database-url or DATABASE_URL")
		}
		slog.Info("Initializing postgres...")
		store, err := share.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("initializing postgres: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("invalid store type %q: want bolt or postgres", opts.storeType)
	}
}

func newAnalyzer(ctx context.Context, opts options, uploads storage.Storage) (scanning.Analyzer, error) {
	images := scanning.NewImageResolver(uploads)
	switch opts.scannerType {
	case "gemini":
		apiKey := opts.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini analyzer...", "model", opts.geminiModel)
		analyzer, err := scanning.NewGemini(ctx, apiKey, opts.geminiModel, images)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return analyzer, nil
	case "ollama":
		slog.Info("Initializing Ollama analyzer...", "url", opts.ollamaURL, "model", opts.ollamaModel)
		analyzer, err := scanning.NewOllama(opts.ollamaURL, opts.ollamaModel, images)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return analyzer, nil
	case "function":
		slog.Info("Initializing remote analysis function...", "url", opts.functionURL)
		analyzer, err := scanning.NewFunctionClient(opts.functionURL, opts.functionKey)
		if err != nil {
			return nil, fmt.Errorf("initializing analysis function: %w", err)
		}
		return analyzer, nil
	default:
		return nil, fmt.Errorf("invalid scanner type %q: want gemini, ollama or function", opts.scannerType)
	}
}

func newTokens(opts options) (*auth.JWTManager, error) {
	secret := opts.jwtSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		slog.Warn("No --jwt-secret set; sessions will not survive a restart")
	}
	tokens, err := auth.NewJWTManager(secret, opts.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("initializing tokens: %w", err)
	}
	return tokens, nil
}

// analyzeOnce runs a single analysis from the command line and prints the
// result.
func analyzeOnce(ctx context.Context, opts options) error {
	mode, err := scanning.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(opts.analyzePath)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	imageURI := "data:" + scanning.ContentTypeFromName(opts.analyzePath) + ";base64," + base64.StdEncoding.EncodeToString(data)

	analyzer, err := newAnalyzer(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer analyzer.Close()

	tokens, err := newTokens(opts)
	if err != nil {
		return err
	}

	ctrl := session.NewController(tokens, analyzer)
	if _, err := ctrl.Analyze(ctx, session.Request{ImageURI: imageURI, Mode: mode, NumPeople: opts.people}); err != nil {
		return err
	}

	printSnapshot(os.Stdout, ctrl.Snapshot())
	return nil
}
