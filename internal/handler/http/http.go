package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/enhbat/bundlezip/internal/archive"
	"github.com/enhbat/bundlezip/internal/common"
	"github.com/enhbat/bundlezip/internal/entity"
	"github.com/enhbat/bundlezip/internal/service/export"
	"github.com/enhbat/bundlezip/internal/util"
	"github.com/google/uuid"
)

const (
	// Cookie holding the identity of clients whose network address cannot
	// be determined, so their progress channel still finds their export.
	clientIDCookie = "bz_cid"

	ssePingInterval = 15 * time.Second
)

var (
	idRegexp = regexp.MustCompile(`^[a-f\d]{40}$`)
)

type CatalogService interface {
	GetBundle(ctx context.Context, id string) (*entity.Bundle, error)
	ListBundles(ctx context.Context) ([]*entity.BundleInfo, error)
	GetPage(ctx context.Context, id string) (string, error)
	ExportCounters(ctx context.Context, id string) (map[string]int64, error)
	CountExport(ctx context.Context, id, kind string) (int64, error)
}

type ExportService interface {
	Export(ctx context.Context, bundle *entity.Bundle, kind export.Kind, key string, arc export.Archive) error
}

type ProgressService interface {
	Snapshot(key string) (entity.Progress, bool)
	Subscribe(key string) chan entity.Progress
	Unsubscribe(key string, ch chan entity.Progress)
}

type IndexService interface {
	Index(ctx context.Context) error
}

type StreamService interface {
	Validate(rawURL string) bool
	AudioStream(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

func NewIndexHandler(srv IndexService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "IndexHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		if err := srv.Index(context.Background()); err != nil {
			switch {
			case errors.Is(err, common.ErrIndexingProcessHasAlreadyStarted):
				http.Error(w, "Index process has already started", http.StatusConflict)
			default:
				http.Error(w, "Cannot start index process", http.StatusInternalServerError)
			}

			return
		}

		w.Write([]byte("done"))
	}
}

func NewBundleListHandler(srv CatalogService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "BundleListHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		infos, err := srv.ListBundles(context.Background())
		if err != nil {
			switch {
			case errors.Is(err, common.ErrNoBundlesFoundError):
				writeJSONError(w, http.StatusNotFound, "no bundles found")
			default:
				writeJSONError(w, http.StatusInternalServerError, "cannot list bundles")
			}

			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(infos); err != nil {
			log.Error("Cannot encode bundle list", slog.Any("error", err))
		}
	}
}

func NewBundlePageHandler(srv CatalogService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "BundlePageHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !idRegexp.MatchString(id) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		content, err := srv.GetPage(context.Background(), id)
		if err != nil {
			switch {
			case errors.Is(err, common.ErrPageNotFoundError):
				http.Error(w, "Cannot get page", http.StatusNotFound)
			default:
				http.Error(w, "Cannot get page", http.StatusInternalServerError)
			}

			return
		}

		w.Write([]byte(content))
	}
}

func NewStatHandler(srv CatalogService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "StatHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !idRegexp.MatchString(id) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		counters, err := srv.ExportCounters(context.Background(), id)
		if err != nil {
			http.Error(w, "Cannot get counters", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(counters); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// NewExportHandler streams a whole bundle as a ZIP archive of the requested
// kind. The response starts as a download; if not a single link could be
// exported nothing has been written yet and the response is downgraded to a
// JSON error.
func NewExportHandler(kind export.Kind, catalog CatalogService, exporter ExportService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "ExportHandler"), slog.String("kind", string(kind)))

	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("bundleId")
		if !idRegexp.MatchString(id) {
			writeJSONError(w, http.StatusBadRequest, "bad bundle id")

			return
		}

		bundle, err := catalog.GetBundle(context.Background(), id)
		if err != nil {
			switch {
			case errors.Is(err, common.ErrBundleNotFoundError):
				writeJSONError(w, http.StatusNotFound, "bundle not found or empty")
			default:
				writeJSONError(w, http.StatusInternalServerError, "cannot get bundle")
			}

			return
		}
		if len(bundle.Links) == 0 {
			writeJSONError(w, http.StatusNotFound, "bundle not found or empty")

			return
		}

		key := progressKey(clientAddr(w, r), id, kind)

		safeName := util.SanitizeFileName(bundle.Name)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.zip"`, safeName, kind))
		w.Header().Set("Content-Type", "application/zip")

		arc := archive.NewWriter(newFlushWriter(w), log)

		err = exporter.Export(r.Context(), bundle, kind, key, arc)
		switch {
		case err == nil:
			if _, cerr := catalog.CountExport(context.Background(), id, string(kind)); cerr != nil {
				log.Error("Cannot count export", slog.String("bundle_id", id), slog.Any("error", cerr))
			}
		case errors.Is(err, common.ErrNoValidVideosError):
			// The archive was aborted before any byte reached the client,
			// so headers are still ours to change.
			w.Header().Del("Content-Disposition")
			writeJSONError(w, http.StatusBadRequest, err.Error())
		default:
			// Headers are committed; the partial stream simply ends here.
			log.Error("Export failed mid-stream", slog.String("bundle_id", id), slog.Any("error", err))
		}
	}
}

// NewLegacyDownloadHandler streams the first link of a bundle as a single
// MP3 file. Kept for old clients that predate ZIP exports.
func NewLegacyDownloadHandler(catalog CatalogService, fetcher StreamService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "LegacyDownloadHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("bundleId")
		if !idRegexp.MatchString(id) {
			writeJSONError(w, http.StatusBadRequest, "bad bundle id")

			return
		}

		bundle, err := catalog.GetBundle(context.Background(), id)
		if err != nil {
			switch {
			case errors.Is(err, common.ErrBundleNotFoundError):
				writeJSONError(w, http.StatusNotFound, "bundle not found")
			default:
				writeJSONError(w, http.StatusInternalServerError, "cannot get bundle")
			}

			return
		}
		if len(bundle.Links) == 0 {
			writeJSONError(w, http.StatusBadRequest, common.ErrBundleEmptyError.Error())

			return
		}

		link := bundle.Links[0]
		if !fetcher.Validate(link.URL) {
			writeJSONError(w, http.StatusBadRequest, "unsupported link")

			return
		}

		stream, err := fetcher.AudioStream(r.Context(), link.URL)
		if err != nil {
			log.Error("Cannot fetch audio", slog.String("url", link.URL), slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "cannot fetch audio")

			return
		}
		defer stream.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.mp3"`, util.SanitizeFileName(bundle.Name)))
		w.Header().Set("Content-Type", "audio/mpeg")

		if _, err := io.Copy(newFlushWriter(w), stream); err != nil {
			log.Error("Download interrupted", slog.String("url", link.URL), slog.Any("error", err))
		}
	}
}

// NewProgressHandler opens a one-way SSE channel carrying every update of
// one export's progress record. The current snapshot, if any, is sent
// first; a missing record is not an error, the connection just waits for
// the next export under the key.
func NewProgressHandler(tracker ProgressService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "ProgressHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("bundleId")
		if !idRegexp.MatchString(id) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		kind := export.Kind(r.URL.Query().Get("type"))
		if !kind.Valid() {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)

			return
		}

		// The cookie fallback must run before headers are flushed.
		key := progressKey(clientAddr(w, r), id, kind)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher.Flush()

		if rec, exists := tracker.Snapshot(key); exists {
			if err := writeEvent(w, flusher, rec); err != nil {
				return
			}
		}

		ch := tracker.Subscribe(key)
		defer tracker.Unsubscribe(key, ch)

		ticker := time.NewTicker(ssePingInterval)
		defer ticker.Stop()

		for {
			select {
			case rec := <-ch:
				if err := writeEvent(w, flusher, rec); err != nil {
					log.Debug("Progress client gone", slog.String("key", key), slog.Any("error", err))

					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}

func writeEvent(w io.Writer, flusher http.Flusher, rec entity.Progress) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// clientAddr resolves the requester's network identity: forwarded address
// first, then the direct peer, then a sticky cookie for clients with
// neither. This is a heuristic identity, not authentication; clients behind
// the same proxy share progress keys.
func clientAddr(w http.ResponseWriter, r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}

	if c, err := r.Cookie(clientIDCookie); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{Name: clientIDCookie, Value: id, Path: "/"})

	return id
}

func progressKey(addr, bundleID string, kind export.Kind) string {
	return fmt.Sprintf("%s:%s:%s", addr, bundleID, kind)
}

// flushWriter pushes every written chunk straight to the client so archive
// entries arrive while later links are still being fetched.
type flushWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	fw := &flushWriter{w: w}
	if flusher, ok := w.(http.Flusher); ok {
		fw.flusher = flusher
	}

	return fw
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil && fw.flusher != nil {
		fw.flusher.Flush()
	}

	return n, err
}
