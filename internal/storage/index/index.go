package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/enhbat/bundlezip/internal/common"
	"github.com/enhbat/bundlezip/internal/config"
	"github.com/enhbat/bundlezip/internal/entity"
	"github.com/spf13/afero"
)

const (
	maxDirs = 100
)

type FSAdapter interface {
	ToBundle(folderPath string) (*entity.Bundle, error)
}

type indexStorage struct {
	running atomic.Bool
	fs      afero.Fs
	adapter FSAdapter
	cfg     *config.IndexerConfig
	log     *slog.Logger
}

func NewIndexStorage(fs afero.Fs, adapter FSAdapter, cfg *config.IndexerConfig, log *slog.Logger) *indexStorage {
	return &indexStorage{
		fs:      fs,
		adapter: adapter,
		cfg:     cfg,
		log:     log.With(slog.String("item", "IndexStorage")),
	}
}

func (i *indexStorage) Scan(ctx context.Context) ([]*entity.Bundle, error) {
	if !i.running.CompareAndSwap(false, true) {
		return nil, common.ErrIndexingProcessHasAlreadyStarted
	}
	defer i.running.Store(false)

	entries, err := afero.ReadDir(i.fs, i.cfg.ContentDir)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(i.cfg.ContentDir, entry.Name()))
		}

		if len(dirs) >= maxDirs {
			break
		}
	}

	if len(dirs) == 0 {
		return []*entity.Bundle{}, nil
	}

	in := make(chan string, len(dirs))
	out := make(chan *entity.Bundle, len(dirs))

	for _, dir := range dirs {
		in <- dir
	}
	close(in)

	var wg sync.WaitGroup
	wg.Add(i.cfg.Workers)
	for n := 0; n < i.cfg.Workers; n++ {
		go i.worker(ctx, n, in, out, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var bundles []*entity.Bundle
	for bundle := range out {
		if !bundle.Enabled {
			i.log.Info("Skip disabled bundle", slog.String("id", bundle.ID), slog.String("path", bundle.SourcePath))

			continue
		}

		i.log.Info("Found bundle", slog.String("id", bundle.ID), slog.String("path", bundle.SourcePath))
		bundles = append(bundles, bundle)
	}

	return bundles, nil
}

func (i *indexStorage) worker(ctx context.Context, n int, in chan string, out chan *entity.Bundle, wg *sync.WaitGroup) {
	defer wg.Done()

	log := i.log.With(slog.Int("worker_id", n))
	log.Info("Started")

	for folderPath := range in {
		bundle, err := i.adapter.ToBundle(folderPath)
		if err != nil {
			log.Error("Cannot scan folder", slog.String("folder_path", folderPath), slog.Any("error", err))

			continue
		}

		select {
		case <-ctx.Done():
			log.Info("Interrupted")

			return
		case out <- bundle:
		}
	}

	log.Info("Done")
}
