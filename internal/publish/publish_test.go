package publish

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/luthebao/xtools-sub000/internal/crypto"
	"github.com/luthebao/xtools-sub000/internal/domain"
)

func testCreds() crypto.Credentials {
	return crypto.Credentials{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		AccessToken:    "at",
		AccessSecret:   "as",
	}
}

// Known-vector test from the OAuth 1.0a spec examples: the signature must
// be stable for fixed nonce and timestamp.
func TestSignedHeaderDeterministic(t *testing.T) {
	h1, err := signedHeader(testCreds(), "POST", "https://api.twitter.com/2/tweets", nil, "abc123", "1700000000")
	if err != nil {
		t.Fatalf("signedHeader: %v", err)
	}
	h2, err := signedHeader(testCreds(), "POST", "https://api.twitter.com/2/tweets", nil, "abc123", "1700000000")
	if err != nil {
		t.Fatalf("signedHeader: %v", err)
	}
	if h1 != h2 {
		t.Error("signature not deterministic for fixed nonce and timestamp")
	}

	for _, want := range []string{
		`oauth_consumer_key="ck"`,
		`oauth_nonce="abc123"`,
		`oauth_signature_method="HMAC-SHA1"`,
		`oauth_timestamp="1700000000"`,
		`oauth_token="at"`,
		`oauth_version="1.0"`,
		`oauth_signature=`,
	} {
		if !strings.Contains(h1, want) {
			t.Errorf("header missing %q:\n%s", want, h1)
		}
	}
}

func TestSignatureChangesWithParams(t *testing.T) {
	h1, _ := signedHeader(testCreds(), "POST", "https://api.twitter.com/2/tweets", nil, "n", "1")
	h2, _ := signedHeader(testCreds(), "POST", "https://api.twitter.com/2/tweets", map[string]string{"status": "hi"}, "n", "1")
	if h1 == h2 {
		t.Error("signature should depend on request parameters")
	}
}

func TestPercentEncode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Ladies + Gentlemen", "Ladies%20%2B%20Gentlemen"},
		{"An encoded string!", "An%20encoded%20string%21"},
		{"Dogs, Cats & Mice", "Dogs%2C%20Cats%20%26%20Mice"},
		{"☃", "%E2%98%83"},
		{"safe-._~", "safe-._~"},
	}
	for _, tt := range tests {
		if got := percentEncode(tt.in); got != tt.want {
			t.Errorf("percentEncode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPublishPostsTweet(t *testing.T) {
	var gotAuth string
	var gotBody tweetRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/tweets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": "1777777777", "text": "hello"},
		})
	}))
	defer srv.Close()

	c, err := NewTwitterClient(Config{Credentials: testCreds(), APIBase: srv.URL}, slog.Default())
	if err != nil {
		t.Fatalf("NewTwitterClient: %v", err)
	}

	result, err := c.Publish(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if result.PostID != "1777777777" {
		t.Errorf("PostID = %q", result.PostID)
	}
	if result.URL != "https://x.com/i/web/status/1777777777" {
		t.Errorf("URL = %q", result.URL)
	}
	if gotBody.Text != "hello" {
		t.Errorf("tweet text = %q", gotBody.Text)
	}
	if !strings.HasPrefix(gotAuth, "OAuth ") {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestPublishUploadsMediaFirst(t *testing.T) {
	dir := t.TempDir()
	mediaPath := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(mediaPath, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}

	upload := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1.1/media/upload.json" {
			t.Errorf("upload path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"media_id_string": "m-42"})
	}))
	defer upload.Close()

	var gotBody tweetRequest
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": "1", "text": ""},
		})
	}))
	defer api.Close()

	c, err := NewTwitterClient(Config{Credentials: testCreds(), APIBase: api.URL, UploadBase: upload.URL}, slog.Default())
	if err != nil {
		t.Fatalf("NewTwitterClient: %v", err)
	}

	if _, err := c.Publish(context.Background(), "with media", mediaPath); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if gotBody.Media == nil || len(gotBody.Media.MediaIDs) != 1 || gotBody.Media.MediaIDs[0] != "m-42" {
		t.Errorf("tweet media = %+v", gotBody.Media)
	}
}

func TestPublishRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := NewTwitterClient(Config{Credentials: testCreds(), APIBase: srv.URL}, slog.Default())
	_, err := c.Publish(context.Background(), "x", "")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestPublishUnauthorizedWrapsMissingCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := NewTwitterClient(Config{Credentials: testCreds(), APIBase: srv.URL}, slog.Default())
	_, err := c.Publish(context.Background(), "x", "")
	if !errors.Is(err, domain.ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestDryRunSkipsNetwork(t *testing.T) {
	c, err := NewTwitterClient(Config{DryRun: true}, slog.Default())
	if err != nil {
		t.Fatalf("NewTwitterClient: %v", err)
	}
	result, err := c.Publish(context.Background(), "dry", "")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !strings.HasPrefix(result.PostID, "dry-") {
		t.Errorf("PostID = %q", result.PostID)
	}
}

func TestNewTwitterClientRequiresCredentials(t *testing.T) {
	_, err := NewTwitterClient(Config{}, slog.Default())
	if !errors.Is(err, domain.ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
}
