package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/croprisk/internal/analysis"
	"github.com/lox/croprisk/internal/cache"
	"github.com/lox/croprisk/internal/catalog"
	"github.com/lox/croprisk/internal/ingest"
	"github.com/lox/croprisk/internal/narrative"
	"github.com/lox/croprisk/internal/store"
)

type Globals struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`

	DB          string        `default:"data/croprisk.db" env:"CROPRISK_DB" help:"SQLite database path."`
	APIKey      string        `name:"api-key" env:"CROPRISK_API_KEY" help:"Upstream station API key."`
	APIBaseURL  string        `name:"api-base-url" default:"https://meteostat.p.rapidapi.com" env:"CROPRISK_API_BASE_URL" help:"Upstream station API base URL."`
	GridBaseURL string        `name:"grid-base-url" default:"https://archive-api.open-meteo.com/v1" env:"CROPRISK_GRID_BASE_URL" help:"Gridded fallback API base URL."`
	FTPHost     string        `name:"catalog-ftp-host" env:"CROPRISK_CATALOG_FTP_HOST" help:"FTP host serving the remote station catalog (host:port)."`
	FTPPath     string        `name:"catalog-ftp-path" default:"/catalog/stations.csv" env:"CROPRISK_CATALOG_FTP_PATH" help:"Path of the remote station catalog CSV."`
	CacheTTL    int           `name:"cache-ttl" default:"24" env:"CROPRISK_CACHE_TTL_HOURS" help:"Observation cache TTL in hours."`
	MinInterval time.Duration `name:"min-interval" default:"900ms" env:"CROPRISK_MIN_INTERVAL" help:"Minimum interval between upstream requests."`
	MaxRetries  int           `name:"max-retries" default:"3" env:"CROPRISK_MAX_RETRIES" help:"Upstream attempts per request."`
	RetryBase   time.Duration `name:"retry-base" default:"500ms" env:"CROPRISK_RETRY_BASE" help:"Exponential backoff base delay."`
	StationN    int           `name:"stations" default:"3" env:"CROPRISK_STATIONS" help:"Stations fused per analysis."`
	OpenAIKey   string        `name:"openai-key" env:"OPENAI_API_KEY" help:"Enables AI narratives."`
	LogLevel    string        `name:"log-level" default:"info" enum:"debug,info,warn,error" env:"CROPRISK_LOG_LEVEL" help:"Log level."`
	LogFormat   string        `name:"log-format" default:"text" enum:"text,json" env:"CROPRISK_LOG_FORMAT" help:"Log format."`
}

type CLI struct {
	Globals

	Serve          ServeCmd          `cmd:"" help:"Run the HTTP API."`
	Analyze        AnalyzeCmd        `cmd:"" help:"Run one analysis and print the result."`
	Stations       StationsCmd       `cmd:"" help:"List the stations nearest to a coordinate."`
	Backfill       BackfillCmd       `cmd:"" help:"Fetch and persist station history around a coordinate."`
	RefreshCatalog RefreshCatalogCmd `cmd:"" name:"refresh-catalog" help:"Force a remote station catalog refresh."`
	CachePurge     CachePurgeCmd     `cmd:"" name:"cache-purge" help:"Delete expired cache entries."`
	Status         StatusCmd         `cmd:"" help:"Show cache statistics and recent fetch failures."`
}

// app holds the long-lived components shared by every command.
type app struct {
	ctx      context.Context
	clock    clockwork.Clock
	logger   *slog.Logger
	store    *store.Store
	catalog  *catalog.Catalog
	pipeline *ingest.Pipeline
	analyzer *analysis.Analyzer
	narrator narrative.Writer
	stations int
	cacheTTL time.Duration
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("croprisk"),
		kong.Description("Agro-climate risk analysis from weather station history."),
		kong.UsageOnError(),
	)

	logger := newLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	if err := run(kctx, &cli.Globals, logger); err != nil {
		logger.Error("command failed", "command", kctx.Command(), "error", err)
		os.Exit(1)
	}
}

func run(kctx *kong.Context, g *Globals, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, g, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.store.Close()

	return kctx.Run(a)
}

func newApp(ctx context.Context, g *Globals, logger *slog.Logger) (*app, error) {
	if dir := filepath.Dir(g.DB); dir != "." && g.DB != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(g.DB, logger)
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	ttl := time.Duration(g.CacheTTL) * time.Hour
	obsCache := cache.New(st, ttl, cache.WithClock(clock), cache.WithLogger(logger))

	policy := ingest.RetryPolicy{MinInterval: g.MinInterval, MaxAttempts: g.MaxRetries, BaseDelay: g.RetryBase}
	opts := []ingest.Option{ingest.WithAuditor(st), ingest.WithLogger(logger)}
	stationClient := ingest.NewStationClient(g.APIBaseURL, g.APIKey, policy, opts...)
	gridClient := ingest.NewGridClient(g.GridBaseURL, policy, opts...)
	pipeline := ingest.NewPipeline(obsCache, st, stationClient, gridClient, logger)

	var remote catalog.Source
	if g.FTPHost != "" {
		remote = catalog.NewFTPSource(g.FTPHost, g.FTPPath)
	}
	cat := catalog.New(st, remote, logger)

	var narrator narrative.Writer
	if gen, err := narrative.NewGenerator(g.OpenAIKey); err != nil {
		logger.Info("AI narrative disabled, using template", "reason", err)
	} else {
		narrator = gen
	}

	if g.APIKey == "" {
		logger.Warn("no station API key configured; analyses will rely on local history and the gridded fallback")
	}

	return &app{
		ctx:      ctx,
		clock:    clock,
		logger:   logger,
		store:    st,
		catalog:  cat,
		pipeline: pipeline,
		analyzer: analysis.New(cat, pipeline, analysis.Config{Stations: g.StationN, Clock: clock}, logger),
		narrator: narrator,
		stations: g.StationN,
		cacheTTL: ttl,
	}, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
