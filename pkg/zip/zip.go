// Package zip packages generated images into a single archive.
package zip

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
)

// ErrNothingDownloaded is returned when none of the images could be fetched.
var ErrNothingDownloaded = errors.New("no images could be downloaded")

// Asset is one archive entry.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// Fetcher loads the bytes behind an image URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, url string) ([]byte, string, error)

func (f FetchFunc) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return f(ctx, url)
}

// ArchiveAssets writes assets into a zip archive in order.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     asset.Filename,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Collect fetches urls with at most limit requests in flight. Entries are
// named image_1.png, image_2.png, ... by position in urls; a URL that fails
// to download is skipped and reported in failed.
func Collect(ctx context.Context, urls []string, fetcher Fetcher, limit int) (assets []Asset, failed []string, err error) {
	if limit <= 0 {
		limit = 4
	}
	slots := make([]*Asset, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, url := range urls {
		g.Go(func() error {
			data, mime, err := fetcher.Fetch(gctx, url)
			if err != nil || len(data) == 0 {
				return nil
			}
			slots[i] = &Asset{Filename: fmt.Sprintf("image_%d.png", i+1), MIME: mime, Data: data}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	for i, slot := range slots {
		if slot == nil {
			failed = append(failed, urls[i])
			continue
		}
		assets = append(assets, *slot)
	}
	if len(assets) == 0 {
		return nil, failed, ErrNothingDownloaded
	}
	return assets, failed, nil
}

// HTTPFetcher downloads images over HTTP.
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func (f HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("zip: fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", err
	}
	return data, mimetype.Detect(data).String(), nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// UniqueFilename derives a download name from the first 30 characters of the
// prompt and a 1-based index, keeping the extension of originalName.
func UniqueFilename(originalName, prompt string, index int) string {
	runes := []rune(prompt)
	if len(runes) > 30 {
		runes = runes[:30]
	}
	clean := unsafeChars.ReplaceAllString(string(runes), "_")
	ext := "png"
	if dot := strings.LastIndex(originalName, "."); dot >= 0 && dot < len(originalName)-1 {
		ext = originalName[dot+1:]
	}
	return fmt.Sprintf("%s_%d.%s", clean, index+1, ext)
}
