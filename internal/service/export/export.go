// Package export drives one bundle export end to end: per-link fetch (plus
// mux for video), archive append, progress updates and partial-failure
// tolerance. Links are processed strictly sequentially, one in-flight fetch
// per export.
package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/enhbat/bundlezip/internal/common"
	"github.com/enhbat/bundlezip/internal/entity"
	"github.com/enhbat/bundlezip/internal/util"
	"github.com/spf13/afero"
)

const (
	serviceName = "export"
)

// Kind selects the export mode of a bundle.
type Kind string

const (
	KindMP3 Kind = "mp3"
	KindMP4 Kind = "mp4"
)

func (k Kind) Valid() bool {
	return k == KindMP3 || k == KindMP4
}

// Fetcher produces media streams for external video links. Per-URL failures
// are expected (stale links, geo blocks) and must not stop a batch.
type Fetcher interface {
	Validate(rawURL string) bool
	Title(ctx context.Context, rawURL string) (string, error)
	AudioStream(ctx context.Context, rawURL string) (io.ReadCloser, error)
	VideoStream(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Muxer combines an audio and a video file into one container file.
type Muxer interface {
	Mux(ctx context.Context, videoPath, audioPath, outPath string) error
}

// ProgressTracker receives the per-link progress of a running export.
type ProgressTracker interface {
	Start(key string, total int)
	Advance(key string)
	Finish(key string, err error)
}

// Archive is the streamed output the export appends entries into.
type Archive interface {
	Append(name string, r io.Reader) error
	Entries() int
	Err() error
	Abort()
	Finalize() error
}

type Service struct {
	fetcher Fetcher
	muxer   Muxer
	tracker ProgressTracker
	fs      afero.Fs
	tempDir string
	log     *slog.Logger
}

func NewExportService(fetcher Fetcher, muxer Muxer, tracker ProgressTracker, fs afero.Fs, tempDir string, log *slog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		muxer:   muxer,
		tracker: tracker,
		fs:      fs,
		tempDir: tempDir,
		log:     log.With(slog.String("service", serviceName)),
	}
}

// Export walks the bundle's links in order and appends every fetchable one
// to arc. One bad link never aborts the batch; only a failing sink does.
// The sequence number in entry names advances for every link that reaches
// the fetch attempt, including failed ones, but not for links skipped by
// URL validation.
func (s *Service) Export(ctx context.Context, bundle *entity.Bundle, kind Kind, key string, arc Archive) error {
	log := s.log.With(slog.String("bundle_id", bundle.ID), slog.String("kind", string(kind)))

	total := len(bundle.Links)
	s.tracker.Start(key, total)

	count := 1
	var lastErr error

	for _, link := range bundle.Links {
		rawURL := link.URL
		fetchURL := rawURL
		if kind == KindMP4 {
			// Legacy bundles carry playlist query parameters the extractor
			// chokes on.
			fetchURL = util.StripQuery(rawURL)
		}

		if !s.fetcher.Validate(fetchURL) {
			log.Info("Skipping invalid URL", slog.String("url", rawURL))

			continue
		}

		if err := ctx.Err(); err != nil {
			s.tracker.Finish(key, err)

			return fmt.Errorf("export canceled: %w", err)
		}

		var err error
		switch kind {
		case KindMP3:
			err = s.appendAudio(ctx, arc, fetchURL, count)
		case KindMP4:
			err = s.appendVideo(ctx, arc, fetchURL, count)
		default:
			return fmt.Errorf("unknown export kind %q", kind)
		}

		if err != nil {
			if sinkErr := arc.Err(); sinkErr != nil {
				log.Error("Archive sink failed", slog.Any("error", sinkErr))
				s.tracker.Finish(key, sinkErr)

				return fmt.Errorf("archive sink failed: %w", sinkErr)
			}

			log.Error("Cannot process link", slog.Int("seq", count), slog.String("url", rawURL), slog.Any("error", err))
			lastErr = err
		} else {
			s.tracker.Advance(key)
		}

		count++
	}

	if arc.Entries() == 0 {
		arc.Abort()

		err := error(common.ErrNoValidVideosError)
		if lastErr != nil {
			err = fmt.Errorf("%w: %v", common.ErrNoValidVideosError, lastErr)
		}
		s.tracker.Finish(key, err)

		return err
	}

	if err := arc.Finalize(); err != nil {
		log.Error("Cannot finalize archive", slog.Any("error", err))
		s.tracker.Finish(key, err)

		return fmt.Errorf("cannot finalize archive: %w", err)
	}

	s.tracker.Finish(key, nil)
	log.Info("Archive finalized", slog.Int("entries", arc.Entries()), slog.Int("total", total))

	return nil
}

func (s *Service) appendAudio(ctx context.Context, arc Archive, url string, seq int) error {
	title, err := s.fetcher.Title(ctx, url)
	if err != nil {
		return fmt.Errorf("cannot resolve title: %w", err)
	}

	stream, err := s.fetcher.AudioStream(ctx, url)
	if err != nil {
		return fmt.Errorf("cannot fetch audio: %w", err)
	}
	defer stream.Close()

	name := fmt.Sprintf("%d_%s.mp3", seq, util.SanitizeTitle(title))

	return arc.Append(name, stream)
}

// appendVideo downloads the best video-only and audio-only streams to temp
// files, muxes them and appends the merged file. Temp files live until the
// archive has finished reading the merged file and are removed on every
// exit path.
func (s *Service) appendVideo(ctx context.Context, arc Archive, url string, seq int) error {
	title, err := s.fetcher.Title(ctx, url)
	if err != nil {
		return fmt.Errorf("cannot resolve title: %w", err)
	}

	videoPath, err := s.fetchToTemp(ctx, url, "video_*.mp4", s.fetcher.VideoStream)
	if videoPath != "" {
		defer s.removeTemp(videoPath)
	}
	if err != nil {
		return fmt.Errorf("cannot fetch video: %w", err)
	}

	audioPath, err := s.fetchToTemp(ctx, url, "audio_*.m4a", s.fetcher.AudioStream)
	if audioPath != "" {
		defer s.removeTemp(audioPath)
	}
	if err != nil {
		return fmt.Errorf("cannot fetch audio: %w", err)
	}

	mergedFile, err := afero.TempFile(s.fs, s.tempDir, "bundlezip_merged_*.mp4")
	if err != nil {
		return fmt.Errorf("cannot create temp file: %w", err)
	}
	mergedPath := mergedFile.Name()
	mergedFile.Close()
	defer s.removeTemp(mergedPath)

	if err := s.muxer.Mux(ctx, videoPath, audioPath, mergedPath); err != nil {
		return fmt.Errorf("cannot mux streams: %w", err)
	}

	merged, err := s.fs.Open(mergedPath)
	if err != nil {
		return fmt.Errorf("cannot open merged file: %w", err)
	}
	defer merged.Close()

	name := fmt.Sprintf("%d_%s.mp4", seq, util.SanitizeTitle(title))

	return arc.Append(name, merged)
}

func (s *Service) fetchToTemp(ctx context.Context, url, pattern string, open func(context.Context, string) (io.ReadCloser, error)) (string, error) {
	f, err := afero.TempFile(s.fs, s.tempDir, "bundlezip_"+pattern)
	if err != nil {
		return "", fmt.Errorf("cannot create temp file: %w", err)
	}
	path := f.Name()

	stream, err := open(ctx, url)
	if err != nil {
		f.Close()

		return path, fmt.Errorf("cannot open stream: %w", err)
	}
	defer stream.Close()

	if _, err := io.Copy(f, stream); err != nil {
		f.Close()

		return path, fmt.Errorf("cannot download stream: %w", err)
	}

	if err := f.Close(); err != nil {
		return path, fmt.Errorf("cannot close temp file: %w", err)
	}

	return path, nil
}

func (s *Service) removeTemp(path string) {
	if err := s.fs.Remove(path); err != nil {
		s.log.Warn("Cannot remove temp file", slog.String("path", path), slog.Any("error", err))
	}
}
