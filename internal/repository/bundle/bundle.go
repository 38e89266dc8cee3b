package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/enhbat/bundlezip/internal/common"
	"github.com/enhbat/bundlezip/internal/entity"
	"github.com/redis/go-redis/v9"
)

const (
	KeyVersion1      = "v1"
	KeyVersion2      = "v2"
	KeyActiveVersion = "av" // STRING.
	KeyBundleMap     = "bm" // HASH. bundle_map:ver bundle_id: name
	KeyBundleLinks   = "bl" // HASH. bundle_links:ver bundle_id: links JSON
	KeyPageContent   = "pc" // HASH. bundle_id -> HTML
	KeyExportStats   = "es" // HASH. bundle_id:kind -> counter. Allows atomic increment.

	KeyEmpty     = ""
	KeySeparator = ":"
)

var (
	ClearableKeys = []string{KeyBundleMap, KeyBundleLinks, KeyPageContent}
)

type bundleRepository struct {
	ver atomic.Value
	cl  *redis.Client
	log *slog.Logger
}

func NewBundleRepository(cl *redis.Client, log *slog.Logger) (*bundleRepository, error) {
	repo := &bundleRepository{
		cl:  cl,
		log: log.With(slog.String("item", "BundleRepository")),
	}

	ver, _, err := repo.getVersions(context.Background())
	if err != nil {
		return nil, fmt.Errorf("cannot get active version: %w", err)
	}

	repo.ver.Store(ver)

	return repo, nil
}

// Save writes the freshly indexed catalog into the standby version and then
// switches readers over atomically, so a running export never observes a
// half-written catalog.
func (r *bundleRepository) Save(ctx context.Context, bundles []*entity.Bundle) error {
	verActive, verStandby, err := r.getVersions(ctx)
	if err != nil {
		r.log.Error("Cannot get standby data version", slog.Any("error", err))

		return fmt.Errorf("cannot get active version: %w", err)
	}
	r.log.Info("Save new data", slog.String("active_version", verActive), slog.String("standby_version", verStandby))

	if err := r.clearOldData(ctx, verStandby); err != nil {
		r.log.Error("Cannot clear old data", slog.String("version", verStandby), slog.Any("error", err))

		return fmt.Errorf("cannot clear old data: %w", err)
	}

	if err := r.saveNewData(ctx, verStandby, bundles); err != nil {
		r.log.Error("Cannot save new data", slog.String("version", verStandby), slog.Any("error", err))

		return fmt.Errorf("cannot save new data: %w", err)
	}

	if _, err := r.cl.Set(ctx, KeyActiveVersion, verStandby, 0).Result(); err != nil {
		r.log.Error("Cannot switch to new version", slog.String("version", verStandby), slog.Any("error", err))

		return fmt.Errorf("cannot switch to new version: %w", err)
	}

	r.ver.Store(verStandby)

	return nil
}

func (r *bundleRepository) saveNewData(ctx context.Context, ver string, bundles []*entity.Bundle) error {
	log := r.log.With(slog.String("op", "saveNewData"), slog.String("version", ver))
	log.Info("Save new data", slog.Int("bundle_count", len(bundles)))

	pipe := r.cl.Pipeline()
	for _, bundle := range bundles {
		links, err := json.Marshal(bundle.Links)
		if err != nil {
			return fmt.Errorf("cannot marshal links of bundle %s: %w", bundle.ID, err)
		}

		pipe.HSet(ctx, getKey(KeyBundleMap, ver), bundle.ID, bundle.Name)
		pipe.HSet(ctx, getKey(KeyBundleLinks, ver), bundle.ID, links)
		pipe.HSet(ctx, getKey(KeyPageContent, ver), bundle.ID, bundle.PageContent)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cannot save new data: %w", err)
	}

	return nil
}

func (r *bundleRepository) clearOldData(ctx context.Context, ver string) error {
	log := r.log.With(slog.String("op", "clearOldData"), slog.String("version", ver))
	log.Info("Clear old data")

	keys := make([]string, 0, len(ClearableKeys))
	for _, key := range ClearableKeys {
		keys = append(keys, getKey(key, ver))
	}

	if _, err := r.cl.Del(ctx, keys...).Result(); err != nil {
		return fmt.Errorf("cannot delete keys: %w", err)
	}

	return nil
}

/*
getVersions return active and standby versions
*/
func (r *bundleRepository) getVersions(ctx context.Context) (string, string, error) {
	ver, err := r.cl.Get(ctx, KeyActiveVersion).Result()
	if err != nil && err != redis.Nil {
		return KeyEmpty, KeyEmpty, fmt.Errorf("cannot get active version: %w", err)
	}

	switch ver {
	case KeyVersion1:
		return KeyVersion1, KeyVersion2, nil
	case KeyVersion2:
		return KeyVersion2, KeyVersion1, nil
	}

	r.log.Info("Active version key is not found. Try to set new one", slog.String("version", KeyVersion1))

	if _, err = r.cl.Set(ctx, KeyActiveVersion, KeyVersion1, 0).Result(); err != nil {
		return KeyEmpty, KeyEmpty, fmt.Errorf("cannot set version key: %w", err)
	}

	return KeyVersion1, KeyVersion2, nil
}

func (r *bundleRepository) GetBundle(ctx context.Context, id string) (*entity.Bundle, error) {
	ver := r.getActiveVersion()

	name, err := r.cl.HGet(ctx, getKey(KeyBundleMap, ver), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrBundleNotFoundError
		}

		return nil, fmt.Errorf("cannot get bundle %s: %w", id, err)
	}

	data, err := r.cl.HGet(ctx, getKey(KeyBundleLinks, ver), id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cannot get bundle %s links: %w", id, err)
	}

	bundle := &entity.Bundle{ID: id, Name: name, Enabled: true}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &bundle.Links); err != nil {
			return nil, fmt.Errorf("cannot unmarshal bundle %s links: %w", id, err)
		}
	}

	return bundle, nil
}

func (r *bundleRepository) ListBundles(ctx context.Context) ([]*entity.BundleInfo, error) {
	ver := r.getActiveVersion()

	bundleMap, err := r.cl.HGetAll(ctx, getKey(KeyBundleMap, ver)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get bundle map: %w", err)
	}

	if len(bundleMap) < 1 {
		return nil, common.ErrNoBundlesFoundError
	}

	infos := make([]*entity.BundleInfo, 0, len(bundleMap))
	for id, name := range bundleMap {
		info := &entity.BundleInfo{ID: id, Name: name}

		data, err := r.cl.HGet(ctx, getKey(KeyBundleLinks, ver), id).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				return nil, fmt.Errorf("cannot get bundle %s links: %w", id, err)
			}
		} else {
			var links []entity.Link
			if err := json.Unmarshal([]byte(data), &links); err != nil {
				r.log.Error("cannot unmarshal bundle links", slog.String("bundle_id", id), slog.Any("error", err))
			}
			info.LinkCount = len(links)
		}

		infos = append(infos, info)
	}

	return infos, nil
}

func (r *bundleRepository) GetPage(ctx context.Context, id string) (string, error) {
	str, err := r.cl.HGet(ctx, getKey(KeyPageContent, r.getActiveVersion()), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", common.ErrPageNotFoundError
		}

		return "", err
	}

	return str, nil
}

func (r *bundleRepository) IncExportCounter(ctx context.Context, id, kind string) (int64, error) {
	counter, err := r.cl.HIncrBy(ctx, KeyExportStats, getKey(id, kind), 1).Result()
	if err != nil {
		return 0, fmt.Errorf("cannot increment bundle %s export counter: %w", id, err)
	}

	return counter, nil
}

func (r *bundleRepository) GetExportCounters(ctx context.Context, id string) (map[string]int64, error) {
	all, err := r.cl.HGetAll(ctx, KeyExportStats).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get export counters: %w", err)
	}

	counters := make(map[string]int64)
	prefix := id + KeySeparator
	for field, value := range all {
		if !strings.HasPrefix(field, prefix) {
			continue
		}

		var c int64
		if _, err := fmt.Sscanf(value, "%d", &c); err != nil {
			r.log.Error("cannot convert counter to int", slog.String("field", field), slog.Any("error", err))

			continue
		}

		counters[strings.TrimPrefix(field, prefix)] = c
	}

	return counters, nil
}

func (r *bundleRepository) getActiveVersion() string {
	return r.ver.Load().(string)
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
