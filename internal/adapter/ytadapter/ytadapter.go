// Package ytadapter wraps the YouTube extraction client behind the small
// surface the export pipeline needs: URL validation, a title lookup and
// audio/video byte streams at the highest available quality.
package ytadapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kkdai/youtube/v2"
)

const (
	maxCachedVideos = 128
)

type Adapter struct {
	client *youtube.Client

	mu    sync.Mutex
	cache map[string]*youtube.Video

	log *slog.Logger
}

func New(log *slog.Logger) *Adapter {
	return &Adapter{
		client: &youtube.Client{},
		cache:  make(map[string]*youtube.Video),
		log:    log.With(slog.String("item", "YTAdapter")),
	}
}

// Validate reports whether rawURL looks like a supported video URL.
func (a *Adapter) Validate(rawURL string) bool {
	_, err := youtube.ExtractVideoID(rawURL)

	return err == nil
}

// Title returns the human-readable title of the video behind rawURL.
func (a *Adapter) Title(ctx context.Context, rawURL string) (string, error) {
	video, err := a.getVideo(ctx, rawURL)
	if err != nil {
		return "", err
	}

	return video.Title, nil
}

// AudioStream opens an audio-only stream at the highest available bitrate.
func (a *Adapter) AudioStream(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	video, err := a.getVideo(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	var best *youtube.Format
	for i := range video.Formats {
		format := &video.Formats[i]
		if format.AudioChannels == 0 || format.Width != 0 || format.Height != 0 {
			continue
		}
		if best == nil || format.Bitrate > best.Bitrate {
			best = format
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no audio-only formats for %s", rawURL)
	}

	stream, _, err := a.client.GetStreamContext(ctx, video, best)
	if err != nil {
		return nil, fmt.Errorf("cannot open audio stream for %s: %w", rawURL, err)
	}

	return stream, nil
}

// VideoStream opens a video-only stream at the highest available resolution.
func (a *Adapter) VideoStream(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	video, err := a.getVideo(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	var best *youtube.Format
	for i := range video.Formats {
		format := &video.Formats[i]
		if format.Width == 0 || format.Height == 0 || format.AudioChannels != 0 {
			continue
		}
		if best == nil || format.Height > best.Height ||
			(format.Height == best.Height && format.Bitrate > best.Bitrate) {
			best = format
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no video-only formats for %s", rawURL)
	}

	stream, _, err := a.client.GetStreamContext(ctx, video, best)
	if err != nil {
		return nil, fmt.Errorf("cannot open video stream for %s: %w", rawURL, err)
	}

	return stream, nil
}

// getVideo resolves metadata once per video id. Audio and video streams of
// the same link share one metadata fetch.
func (a *Adapter) getVideo(ctx context.Context, rawURL string) (*youtube.Video, error) {
	id, err := youtube.ExtractVideoID(rawURL)
	if err != nil {
		return nil, fmt.Errorf("unsupported video URL %s: %w", rawURL, err)
	}

	a.mu.Lock()
	video, exists := a.cache[id]
	a.mu.Unlock()
	if exists {
		return video, nil
	}

	video, err = a.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve video %s: %w", rawURL, err)
	}

	a.mu.Lock()
	if len(a.cache) >= maxCachedVideos {
		for k := range a.cache {
			delete(a.cache, k)

			break
		}
	}
	a.cache[id] = video
	a.mu.Unlock()

	return video, nil
}
