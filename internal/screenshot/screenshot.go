// Package screenshot captures market page images through an external
// rendering service.
package screenshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// Config tunes the capture client.
type Config struct {
	Enabled    bool
	ServiceURL string
	OutputDir  string
	Timeout    time.Duration
}

// Client fetches a rendered page image from the capture service and stores
// it under OutputDir. A disabled client captures nothing and reports no
// error so callers need no special casing.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

var _ domain.Screenshotter = (*Client)(nil)

// New creates a capture client.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "screenshots"
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "screenshot")),
	}
}

// Capture renders marketURL and returns the stored image path. Returns
// ("", nil) when capture is disabled or no URL is available.
func (c *Client) Capture(ctx context.Context, marketURL string) (string, error) {
	if !c.cfg.Enabled || c.cfg.ServiceURL == "" || marketURL == "" {
		return "", nil
	}

	endpoint := c.cfg.ServiceURL + "/capture?url=" + url.QueryEscape(marketURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("screenshot: build request: %w", err)
	}
	req.Header.Set("Accept", "image/png")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("screenshot: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("screenshot: service returned %d: %s", resp.StatusCode, string(body))
	}

	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("screenshot: create output dir: %w", err)
	}

	path := filepath.Join(c.cfg.OutputDir, uuid.New().String()+".png")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("screenshot: create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, io.LimitReader(resp.Body, 16<<20)); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("screenshot: write file: %w", err)
	}

	c.logger.Debug("screenshot captured",
		slog.String("market_url", marketURL),
		slog.String("path", path),
	)
	return path, nil
}
