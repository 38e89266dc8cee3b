package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/enhbat/bundlezip/internal/entity"
)

const (
	serviceName = "catalog"
)

type BundleRepository interface {
	GetBundle(ctx context.Context, id string) (*entity.Bundle, error)
	ListBundles(ctx context.Context) ([]*entity.BundleInfo, error)
	GetPage(ctx context.Context, id string) (string, error)
	IncExportCounter(ctx context.Context, id, kind string) (int64, error)
	GetExportCounters(ctx context.Context, id string) (map[string]int64, error)
}

type catalogService struct {
	repo BundleRepository
	log  *slog.Logger
}

func NewCatalogService(repo BundleRepository, log *slog.Logger) *catalogService {
	return &catalogService{
		repo: repo,
		log:  log.With(slog.String("service", serviceName)),
	}
}

func (c *catalogService) GetBundle(ctx context.Context, id string) (*entity.Bundle, error) {
	bundle, err := c.repo.GetBundle(ctx, id)
	if err != nil {
		c.log.Error("Cannot get bundle", slog.String("bundle_id", id), slog.Any("error", err))

		return nil, fmt.Errorf("cannot get bundle %s: %w", id, err)
	}

	return bundle, nil
}

func (c *catalogService) ListBundles(ctx context.Context) ([]*entity.BundleInfo, error) {
	infos, err := c.repo.ListBundles(ctx)
	if err != nil {
		c.log.Error("Cannot list bundles", slog.Any("error", err))

		return nil, fmt.Errorf("cannot list bundles: %w", err)
	}

	return infos, nil
}

func (c *catalogService) GetPage(ctx context.Context, id string) (string, error) {
	content, err := c.repo.GetPage(ctx, id)
	if err != nil {
		c.log.Error("Cannot get page content", slog.String("bundle_id", id), slog.Any("error", err))

		return "", fmt.Errorf("cannot get bundle %s page: %w", id, err)
	}

	return content, nil
}

func (c *catalogService) ExportCounters(ctx context.Context, id string) (map[string]int64, error) {
	counters, err := c.repo.GetExportCounters(ctx, id)
	if err != nil {
		c.log.Error("Cannot get export counters", slog.String("bundle_id", id), slog.Any("error", err))

		return nil, fmt.Errorf("cannot get bundle %s export counters: %w", id, err)
	}

	return counters, nil
}

func (c *catalogService) CountExport(ctx context.Context, id, kind string) (int64, error) {
	counter, err := c.repo.IncExportCounter(ctx, id, kind)
	if err != nil {
		c.log.Error("Cannot increment export counter", slog.String("bundle_id", id), slog.String("kind", kind), slog.Any("error", err))

		return 0, fmt.Errorf("cannot count bundle %s export: %w", id, err)
	}

	c.log.Info("Bundle exported", slog.String("bundle_id", id), slog.String("kind", kind), slog.Int64("counter", counter))

	return counter, nil
}
