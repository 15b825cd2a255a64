package smart

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dghubble/oauth1"
	"github.com/rs/zerolog"
)

// ManifestClient reads the container's app manifests with the proxy app's
// own consumer credentials (two-legged OAuth, no user token).
type ManifestClient struct {
	apiBase string
	http    *http.Client
	opts    Options
	logger  zerolog.Logger
}

// NewManifestClient creates a client for {apiBase}/apps/manifests/.
func NewManifestClient(apiBase, consumerKey, consumerSecret string, opts Options) *ManifestClient {
	opts = opts.withDefaults()
	if consumerSecret == "" {
		consumerSecret = opts.ConsumerSecret
	}
	return &ManifestClient{
		apiBase: strings.TrimRight(apiBase, "/"),
		http:    signedClient(consumerKey, consumerSecret, oauth1.NewToken("", ""), opts),
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Manifests returns the raw JSON array of app manifests.
func (m *ManifestClient) Manifests(ctx context.Context) ([]byte, error) {
	var body []byte
	u := m.apiBase + "/apps/manifests/"
	err := fetch(ctx, m.http, m.opts, m.logger, u, func(resp *http.Response) error {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read manifests: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
