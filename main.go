package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GrainArc/SouceTerrain/TerrainEdit"
	"github.com/GrainArc/SouceTerrain/config"
	"github.com/GrainArc/SouceTerrain/logger"
	"github.com/GrainArc/SouceTerrain/models"
	"github.com/GrainArc/SouceTerrain/observability"
	"github.com/GrainArc/SouceTerrain/routers"
	"github.com/GrainArc/SouceTerrain/services"
	"github.com/GrainArc/SouceTerrain/tile_proxy"
	"github.com/GrainArc/SouceTerrain/views"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "config.xml", "path to config.xml")
	flag.Parse()

	config.LoadEnvFiles(".env")

	path := *configPath
	if _, err := os.Stat(path); err != nil && errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Log.Fatal("terrain service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("terrain")

	db, err := config.OpenDatabase(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		if err := models.Migrate(db); err != nil {
			return err
		}
	}

	upstreamOpts, err := upstreamOptions(cfg, db)
	if err != nil {
		return err
	}
	scheme, err := tile_proxy.NewTilingScheme(upstreamOpts.projection)
	if err != nil {
		return err
	}
	upstreamOpts.http.Scheme = scheme
	upstreamOpts.http.Logger = logger.Named("upstream")

	upstream, err := tile_proxy.NewHTTPTerrainProvider(upstreamOpts.http)
	if err != nil {
		return err
	}

	edits, err := loadEdits(cfg, db)
	if err != nil {
		return err
	}
	log.Info("edit regions loaded", zap.Int("count", len(edits)), zap.String("projection", scheme.Projection()))

	metrics, err := observability.NewTerrainCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	metrics.SetEditRegions(len(edits))

	timeout := time.Duration(cfg.Timeout) * time.Second
	provider := tile_proxy.NewModifiableTerrainProvider(upstream, edits,
		tile_proxy.WithProcessor(tile_proxy.NewSafeTileProcessor(cfg.MaxConcurrent, timeout, logger.Named("patch"))),
		tile_proxy.WithMetrics(metrics),
		tile_proxy.WithLogger(logger.Named("provider")),
	)

	if strings.ToLower(cfg.LogLevel) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := routers.NewEngine(logger.Named("http"))
	routers.TerrainRouters(r,
		tile_proxy.NewTerrainProxyService(provider, logger.Named("proxy")),
		tile_proxy.NewTerrainExporter(provider, cfg.ExportDir, logger.Named("export")),
	)
	routers.EditRouters(r, views.NewTerrainController(services.NewTerrainService(edits, scheme)))
	routers.MetricsRouter(r, metrics)

	srv := &http.Server{
		Addr:              cfg.MainRouter,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.MainRouter))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type upstreamConfig struct {
	projection string
	http       tile_proxy.HTTPProviderOptions
}

// upstreamOptions source 优先于 upstream
func upstreamOptions(cfg *config.Config, db *gorm.DB) (upstreamConfig, error) {
	if cfg.Source == "" {
		return upstreamConfig{
			projection: cfg.Projection,
			http: tile_proxy.HTTPProviderOptions{
				URLTemplate: cfg.Upstream,
				LayerURL:    cfg.LayerJSON,
				Extensions:  cfg.ExtensionList(),
				Timeout:     time.Duration(cfg.Timeout) * time.Second,
			},
		}, nil
	}

	source, err := services.ResolveSource(db, cfg.Source)
	if err != nil {
		return upstreamConfig{}, err
	}
	extensions := cfg.ExtensionList()
	if source.Extensions != "" {
		extensions = (&config.Config{Extensions: source.Extensions}).ExtensionList()
	}
	return upstreamConfig{
		projection: source.Projection,
		http: tile_proxy.HTTPProviderOptions{
			URLTemplate: source.TileUrlTemplate,
			LayerURL:    source.LayerUrl,
			Extensions:  extensions,
			MinLevel:    source.MinLevel,
			MaxLevel:    source.MaxLevel,
			Timeout:     time.Duration(cfg.Timeout) * time.Second,
		},
	}, nil
}

// loadEdits 文件中的编辑区域排在数据库之前
func loadEdits(cfg *config.Config, db *gorm.DB) ([]*TerrainEdit.EditRegion, error) {
	var edits []*TerrainEdit.EditRegion
	if cfg.Edits != "" {
		fileEdits, err := services.LoadEditsFile(cfg.Edits)
		if err != nil {
			return nil, err
		}
		edits = append(edits, fileEdits...)
	}
	if db != nil {
		dbEdits, err := services.LoadEditsFromDB(db)
		if err != nil {
			return nil, err
		}
		edits = append(edits, dbEdits...)
	}
	return edits, nil
}
