// Package imageloader fetches screenshot images and stores them as handles.
package imageloader

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/adamskus05/screenie/internal/logging"
	"github.com/adamskus05/screenie/internal/metrics"
	"github.com/adamskus05/screenie/internal/resources"
	"github.com/adamskus05/screenie/pkg/client"
)

const (
	DefaultThumbSize = 400
	ThumbQuality     = 80

	thumbPrefix = "thumb:"
)

// PlaceholderSVG is shown in place of an image that failed to load.
const PlaceholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="24" height="24" viewBox="0 0 24 24" fill="none" stroke="currentColor" stroke-width="2" stroke-linecap="round" stroke-linejoin="round"><line x1="18" y1="6" x2="6" y2="18"></line><line x1="6" y1="6" x2="18" y2="18"></line></svg>`

// PlaceholderDataURL returns PlaceholderSVG as a data URL.
func PlaceholderDataURL() string {
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(PlaceholderSVG))
}

// LoadError is returned when an image cannot be fetched or decoded.
type LoadError = client.ResourceError

// Fetcher fetches raw image bytes with the session attached.
type Fetcher interface {
	FetchImage(ctx context.Context, absURL string) ([]byte, error)
}

// Loader turns locators into live handles in a resources.Cache.
type Loader struct {
	base      string
	fetcher   Fetcher
	cache     *resources.Cache
	thumbSize int
}

// New creates a loader. base is the server origin locators are resolved against.
func New(base string, fetcher Fetcher, cache *resources.Cache, thumbSize int) *Loader {
	if thumbSize <= 0 {
		thumbSize = DefaultThumbSize
	}
	return &Loader{
		base:      strings.TrimRight(base, "/"),
		fetcher:   fetcher,
		cache:     cache,
		thumbSize: thumbSize,
	}
}

// ResolveLocator makes locator absolute against base. A locator that
// already starts with base is returned unchanged; otherwise base and
// locator are joined with a single "/".
func ResolveLocator(base, locator string) string {
	if strings.HasPrefix(locator, base) {
		return locator
	}
	if strings.HasPrefix(locator, "/") {
		return base + locator
	}
	return base + "/" + locator
}

// Resolve makes locator absolute against the loader's base.
func (l *Loader) Resolve(locator string) string {
	return ResolveLocator(l.base, locator)
}

// ThumbnailKey returns the cache key thumbnails of locator are stored under.
func (l *Loader) ThumbnailKey(locator string) string {
	return thumbPrefix + l.Resolve(locator)
}

// Cache returns the handle cache the loader writes to.
func (l *Loader) Cache() *resources.Cache {
	return l.cache
}

// Load fetches the image at locator and stores it as the live handle for
// its absolute locator. Concurrent loads of the same locator each fetch;
// the later acquire supersedes the earlier handle.
func (l *Loader) Load(ctx context.Context, locator string) (resources.Handle, error) {
	abs := l.Resolve(locator)

	data, err := l.fetcher.FetchImage(ctx, abs)
	if err != nil {
		metrics.RecordImageLoad("full", 0, false)
		return resources.Handle{}, &LoadError{Locator: abs, Err: err}
	}

	h, err := l.cache.Acquire(abs, data)
	if err != nil {
		metrics.RecordImageLoad("full", 0, false)
		return resources.Handle{}, &LoadError{Locator: abs, Err: err}
	}
	metrics.RecordImageLoad("full", int64(len(data)), true)
	return h, nil
}

// LoadThumbnail fetches the image at locator and stores a downscaled JPEG
// copy, fitted within the configured square, under ThumbnailKey(locator).
func (l *Loader) LoadThumbnail(ctx context.Context, locator string) (resources.Handle, error) {
	abs := l.Resolve(locator)
	key := thumbPrefix + abs

	data, err := l.fetcher.FetchImage(ctx, abs)
	if err != nil {
		metrics.RecordImageLoad("thumb", 0, false)
		return resources.Handle{}, &LoadError{Locator: abs, Err: err}
	}

	thumb, err := l.thumbnail(data)
	if err != nil {
		metrics.RecordImageLoad("thumb", 0, false)
		return resources.Handle{}, &LoadError{Locator: abs, Err: fmt.Errorf("decode: %w", err)}
	}

	h, err := l.cache.Acquire(key, thumb)
	if err != nil {
		metrics.RecordImageLoad("thumb", 0, false)
		return resources.Handle{}, &LoadError{Locator: abs, Err: err}
	}
	metrics.RecordImageLoad("thumb", int64(len(data)), true)
	return h, nil
}

func (l *Loader) thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}

	// Fit preserving aspect ratio; smaller images are left as they are
	thumb := imaging.Fit(img, l.thumbSize, l.thumbSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(ThumbQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Image is the outcome of a display load: a live handle, or a placeholder
// with the error that caused it.
type Image struct {
	Handle      resources.Handle
	Placeholder bool
	Err         error
}

// LoadOrPlaceholder loads locator for display. Load failures are logged and
// reported as a placeholder rather than returned. Authentication failures
// are still surfaced in Err so the caller can redirect to login.
func (l *Loader) LoadOrPlaceholder(ctx context.Context, locator string, thumb bool) Image {
	var h resources.Handle
	var err error
	if thumb {
		h, err = l.LoadThumbnail(ctx, locator)
	} else {
		h, err = l.Load(ctx, locator)
	}
	if err == nil {
		return Image{Handle: h}
	}
	if !errors.Is(err, context.Canceled) {
		logging.Warn("Image load failed, using placeholder",
			logging.String("locator", locator), logging.Err(err))
	}
	return Image{Placeholder: true, Err: err}
}
