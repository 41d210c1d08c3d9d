package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// MaxMediaSize is the Bot API download limit.
const MaxMediaSize = 20 * 1024 * 1024

// Media downloads files users send to the bot.
type Media struct {
	api    API
	dir    string
	client *http.Client
	logger zerolog.Logger
}

// NewMedia stores downloads under dir.
func NewMedia(api API, dir string, client *http.Client, logger zerolog.Logger) *Media {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Media{api: api, dir: dir, client: client, logger: logger}
}

// Download fetches a file by id and returns its local path.
func (m *Media) Download(ctx context.Context, fileID, name string) (string, error) {
	url, err := m.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > MaxMediaSize {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", resp.ContentLength, MaxMediaSize)
	}

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".ogg"
	}
	path := filepath.Join(m.dir, gonanoid.Must(12)+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, MaxMediaSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxMediaSize {
		err = fmt.Errorf("file too large: more than %d bytes", MaxMediaSize)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}

	m.logger.Debug().Str("path", path).Int64("bytes", n).Msg("Media downloaded")
	return path, nil
}
