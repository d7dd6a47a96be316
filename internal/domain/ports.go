package domain

import "context"

// NonceResolver returns a wallet's on-chain transaction count.
type NonceResolver interface {
	NonceAt(ctx context.Context, address string) (int64, error)
}

// Generator produces post text for a detected signal.
type Generator interface {
	Generate(ctx context.Context, action Action) (string, error)
}

// Screenshotter captures a market page image and returns the stored path.
// Implementations may return ("", nil) when capture is disabled.
type Screenshotter interface {
	Capture(ctx context.Context, marketURL string) (string, error)
}

// PostResult identifies a successfully published post.
type PostResult struct {
	PostID string
	URL    string
}

// Publisher posts generated content to an external platform.
type Publisher interface {
	Publish(ctx context.Context, text string, mediaPath string) (PostResult, error)
}
