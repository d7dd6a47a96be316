// Package publish posts generated content to Twitter/X using OAuth 1.0a
// user-context authentication.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/luthebao/xtools-sub000/internal/crypto"
	"github.com/luthebao/xtools-sub000/internal/domain"
)

const (
	defaultAPIBase    = "https://api.twitter.com"
	defaultUploadBase = "https://upload.twitter.com"
)

// Config tunes the Twitter client.
type Config struct {
	Credentials crypto.Credentials
	DryRun      bool

	// APIBase and UploadBase override the production endpoints in tests.
	APIBase    string
	UploadBase string
}

// TwitterClient posts tweets with optional media. In dry-run mode it logs
// the would-be tweet and fabricates a post id without any network call.
type TwitterClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

var _ domain.Publisher = (*TwitterClient)(nil)

// NewTwitterClient creates a Twitter publisher. Incomplete credentials are
// accepted only in dry-run mode.
func NewTwitterClient(cfg Config, logger *slog.Logger) (*TwitterClient, error) {
	if !cfg.DryRun && !cfg.Credentials.Complete() {
		return nil, fmt.Errorf("publish: %w", domain.ErrMissingCredentials)
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.UploadBase == "" {
		cfg.UploadBase = defaultUploadBase
	}
	return &TwitterClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.With(slog.String("component", "publish")),
	}, nil
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Publish posts text with an optional media file. The returned URL uses the
// web status path so it works without knowing the account handle.
func (c *TwitterClient) Publish(ctx context.Context, text string, mediaPath string) (domain.PostResult, error) {
	if c.cfg.DryRun {
		id := uuid.New().String()
		c.logger.Info("dry run, tweet not posted",
			slog.String("text", text),
			slog.String("media", mediaPath),
		)
		return domain.PostResult{PostID: "dry-" + id, URL: ""}, nil
	}

	var mediaID string
	if mediaPath != "" {
		id, err := c.uploadMedia(ctx, mediaPath)
		if err != nil {
			return domain.PostResult{}, err
		}
		mediaID = id
	}

	reqBody := tweetRequest{Text: text}
	if mediaID != "" {
		reqBody.Media = &tweetMedia{MediaIDs: []string{mediaID}}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return domain.PostResult{}, fmt.Errorf("publish: marshal tweet: %w", err)
	}

	endpoint := c.cfg.APIBase + "/2/tweets"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.PostResult{}, fmt.Errorf("publish: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// JSON bodies do not participate in the OAuth signature.
	auth, err := authorizationHeader(c.cfg.Credentials, http.MethodPost, endpoint, nil)
	if err != nil {
		return domain.PostResult{}, err
	}
	req.Header.Set("Authorization", auth)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.PostResult{}, fmt.Errorf("publish: post tweet: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PostResult{}, fmt.Errorf("publish: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.PostResult{}, domain.ErrRateLimited
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return domain.PostResult{}, fmt.Errorf("publish: twitter returned %d: %s: %w", resp.StatusCode, string(data), domain.ErrMissingCredentials)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return domain.PostResult{}, fmt.Errorf("publish: twitter returned %d: %s", resp.StatusCode, string(data))
	}

	var out tweetResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.PostResult{}, fmt.Errorf("publish: decode response: %w", err)
	}
	if out.Data.ID == "" {
		return domain.PostResult{}, fmt.Errorf("publish: response missing tweet id: %s", string(data))
	}

	c.logger.Info("tweet posted", slog.String("tweet_id", out.Data.ID))
	return domain.PostResult{
		PostID: out.Data.ID,
		URL:    "https://x.com/i/web/status/" + out.Data.ID,
	}, nil
}

type mediaResponse struct {
	MediaIDString string `json:"media_id_string"`
}

// uploadMedia sends the screenshot through the v1.1 chunked-less media
// upload endpoint and returns the media id for attachment.
func (c *TwitterClient) uploadMedia(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("publish: open media: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("publish: build multipart: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("publish: read media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("publish: finalize multipart: %w", err)
	}

	endpoint := c.cfg.UploadBase + "/1.1/media/upload.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("publish: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	// Multipart bodies are excluded from the OAuth signature.
	auth, err := authorizationHeader(c.cfg.Credentials, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", auth)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish: upload media: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("publish: read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("publish: media upload returned %d: %s", resp.StatusCode, string(data))
	}

	var out mediaResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("publish: decode upload response: %w", err)
	}
	if out.MediaIDString == "" {
		return "", fmt.Errorf("publish: upload response missing media id")
	}
	return out.MediaIDString, nil
}
