package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/enhbat/bundlezip/internal/adapter/ffmpeg"
	"github.com/enhbat/bundlezip/internal/adapter/fsadapter"
	"github.com/enhbat/bundlezip/internal/adapter/ytadapter"
	"github.com/enhbat/bundlezip/internal/config"
	httphandler "github.com/enhbat/bundlezip/internal/handler/http"
	repobundle "github.com/enhbat/bundlezip/internal/repository/bundle"
	"github.com/enhbat/bundlezip/internal/service/catalog"
	"github.com/enhbat/bundlezip/internal/service/export"
	sindex "github.com/enhbat/bundlezip/internal/service/index"
	"github.com/enhbat/bundlezip/internal/service/progress"
	"github.com/enhbat/bundlezip/internal/storage/index"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

const (
	indexTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

type App struct {
	cfgPath string
	cfg     *config.Config
	srv     *http.Server
	indexer *sindex.IndexerService
	log     *slog.Logger
}

func New(cfgPath string) *App {
	return &App{
		cfgPath: cfgPath,
	}
}

func (a *App) Start() {
	a.cfg = config.MustLoad(a.cfgPath)

	opt, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		panic(err)
	}

	rdb := redis.NewClient(opt)
	ctx := context.Background()
	_, err = rdb.Ping(ctx).Result()
	if err != nil {
		panic(err)
	}

	lo := &slog.HandlerOptions{}
	switch a.cfg.LogLevel {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, lo))
	a.log = log

	repo, err := repobundle.NewBundleRepository(rdb, log)
	if err != nil {
		panic(err)
	}

	fsa, err := fsadapter.NewFSAdapter(a.cfg.URL, &a.cfg.IndexerConfig, log)
	if err != nil {
		panic(err)
	}

	fs := afero.NewOsFs()
	store := index.NewIndexStorage(fs, fsa, &a.cfg.IndexerConfig, log)
	a.indexer = sindex.NewIndexService(store, repo, log)

	catalogSrv := catalog.NewCatalogService(repo, log)
	tracker := progress.NewTracker(log)
	fetcher := ytadapter.New(log)
	muxer := ffmpeg.NewMuxer(a.cfg.ExportConfig.FFmpegPath, log)
	exporter := export.NewExportService(fetcher, muxer, tracker, fs, a.cfg.ExportConfig.TempDir, log)

	http.Handle("GET /bundles/{$}", httphandler.NewBundleListHandler(catalogSrv, log))
	http.Handle("GET /bundle/{id}/{$}", httphandler.NewBundlePageHandler(catalogSrv, log))
	http.Handle("GET /stat/{id}/{$}", httphandler.NewStatHandler(catalogSrv, log))

	http.Handle("GET /download-bundle/{bundleId}", httphandler.NewLegacyDownloadHandler(catalogSrv, fetcher, log))
	http.Handle("GET /download-bundle-mp3/{bundleId}", httphandler.NewExportHandler(export.KindMP3, catalogSrv, exporter, log))
	http.Handle("GET /download-bundle-mp4/{bundleId}", httphandler.NewExportHandler(export.KindMP4, catalogSrv, exporter, log))
	http.Handle("GET /api/bundle-progress/{bundleId}", httphandler.NewProgressHandler(tracker, log))

	http.Handle("GET /index/{$}", httphandler.NewIndexHandler(a.indexer, log))

	a.srv = &http.Server{
		Addr: a.cfg.Listen,
	}

	go func() {
		log.Info("Start listen", slog.String("addr", a.cfg.Listen))

		if err := a.srv.ListenAndServe(); err != nil {
			log.Error("Could not serve", slog.String("listen_addr", a.cfg.Listen), slog.Any("error", err))
			os.Exit(2)
		}
	}()
}

func (a *App) Index() {
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()

	fmt.Println("Building...")

	if err := a.indexer.Index(ctx); err != nil {
		fmt.Printf("Cannot build index: %s\n", err)

		return
	}

	fmt.Println("Done.")
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.srv.Shutdown(ctx)
}
