package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/enhbat/bundlezip/internal/entity"
)

type BundleStorage interface {
	Scan(ctx context.Context) ([]*entity.Bundle, error)
}

type BundleRepository interface {
	Save(ctx context.Context, bundles []*entity.Bundle) error
}

type IndexerService struct {
	store BundleStorage
	repo  BundleRepository
	log   *slog.Logger
}

func NewIndexService(store BundleStorage, repo BundleRepository, log *slog.Logger) *IndexerService {
	return &IndexerService{
		store: store,
		repo:  repo,
		log:   log.With(slog.String("item", "IndexService")),
	}
}

func (i *IndexerService) Index(ctx context.Context) error {
	bundles, err := i.store.Scan(ctx)
	if err != nil {
		i.log.Error("Cannot scan", slog.Any("error", err))

		return fmt.Errorf("cannot scan bundle store: %w", err)
	}

	if len(bundles) < 1 {
		i.log.Error("Cannot find bundle dirs")

		return fmt.Errorf("cannot find bundle dirs")
	}

	i.log.Info("Scan content dirs", slog.Int("count", len(bundles)))

	if err := i.repo.Save(ctx, bundles); err != nil {
		i.log.Error("Cannot save scan content", slog.Any("error", err))

		return fmt.Errorf("cannot save scan content: %w", err)
	}

	return nil
}
