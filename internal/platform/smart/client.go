// Package smart is a small client for the SMART container REST API. Every
// call is signed with OAuth 1.0a using the credentials the container
// handed to the app for the current request.
package smart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/dghubble/oauth1"
	"github.com/rs/zerolog"

	"github.com/smartdirect/direct/internal/platform/rdf"
)

// DefaultConsumerSecret is the secret SMART reference containers issue to
// registered apps unless configured otherwise.
const DefaultConsumerSecret = "smartapp-secret"

// APIError is a non-2xx answer from the container.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("smart api %s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// HTTPStatus surfaces upstream failures as 502 to the browser.
func (e *APIError) HTTPStatus() int { return http.StatusBadGateway }

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool { return e.StatusCode >= 500 }

// Options configure clients built by a Factory.
type Options struct {
	ConsumerSecret string
	Timeout        time.Duration
	Attempts       uint
	RetryDelay     time.Duration
	// HTTPClient is the base client wrapped by the OAuth transport. It is
	// mostly useful in tests.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConsumerSecret == "" {
		o.ConsumerSecret = DefaultConsumerSecret
	}
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.Attempts == 0 {
		o.Attempts = 1
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 200 * time.Millisecond
	}
	return o
}

// Factory builds request-scoped clients from the container's OAuth header.
type Factory struct {
	opts Options
}

// NewFactory creates a Factory.
func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts.withDefaults()}
}

// Connect parses the oauth_header value and returns a client bound to
// those credentials. It fails when the credentials are incomplete, which is
// how endpoints that do not talk to the container still vet callers.
func (f *Factory) Connect(oauthHeader string) (*Client, error) {
	creds, err := ParseOAuthHeader(oauthHeader)
	if err != nil {
		return nil, err
	}
	return NewClient(creds, f.opts), nil
}

// Client talks to one SMART container on behalf of one record and user.
type Client struct {
	creds  Credentials
	http   *http.Client
	opts   Options
	logger zerolog.Logger
}

// NewClient builds a three-legged OAuth client for creds.
func NewClient(creds Credentials, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		creds:  creds,
		http:   signedClient(creds.AppID, opts.ConsumerSecret, oauth1.NewToken(creds.Token, creds.TokenSecret), opts),
		opts:   opts,
		logger: opts.Logger.With().Str("record_id", creds.RecordID).Logger(),
	}
}

func signedClient(consumerKey, consumerSecret string, token *oauth1.Token, opts Options) *http.Client {
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: opts.Timeout}
	}
	cfg := oauth1.NewConfig(consumerKey, consumerSecret)
	ctx := context.WithValue(context.Background(), oauth1.HTTPClient, base)
	c := cfg.Client(ctx, token)
	c.Timeout = opts.Timeout
	return c
}

// Credentials returns the credentials the client was built from.
func (c *Client) Credentials() Credentials { return c.creds }

// Medications fetches the record's medication list.
func (c *Client) Medications(ctx context.Context) (*rdf.Graph, error) {
	return c.recordGraph(ctx, "medications/")
}

// Problems fetches the record's problem list.
func (c *Client) Problems(ctx context.Context) (*rdf.Graph, error) {
	return c.recordGraph(ctx, "problems/")
}

// Demographics fetches the record's demographics.
func (c *Client) Demographics(ctx context.Context) (*rdf.Graph, error) {
	return c.recordGraph(ctx, "demographics")
}

// VitalSigns fetches the record's vital signs.
func (c *Client) VitalSigns(ctx context.Context) (*rdf.Graph, error) {
	return c.recordGraph(ctx, "vital_signs/")
}

// User fetches the launching user's profile.
func (c *Client) User(ctx context.Context) (*rdf.Graph, error) {
	if c.creds.UserID == "" {
		return nil, fmt.Errorf("%w: smart_user_id", ErrMissingCredential)
	}
	return c.getGraph(ctx, c.creds.APIBase+"/users/"+url.PathEscape(c.creds.UserID))
}

func (c *Client) recordGraph(ctx context.Context, resource string) (*rdf.Graph, error) {
	return c.getGraph(ctx, c.creds.APIBase+"/records/"+url.PathEscape(c.creds.RecordID)+"/"+resource)
}

func (c *Client) getGraph(ctx context.Context, u string) (*rdf.Graph, error) {
	var g *rdf.Graph
	err := fetch(ctx, c.http, c.opts, c.logger, u, func(resp *http.Response) error {
		var err error
		g, err = rdf.Decode(resp.Body, formatFor(resp.Header.Get("Content-Type")))
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("GET %s: %w", u, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// fetch issues a GET, retrying transport failures and 5xx answers.
func fetch(ctx context.Context, hc *http.Client, opts Options, logger zerolog.Logger, u string, read func(*http.Response) error) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
			}
			req.Header.Set("Accept", "text/turtle, application/n-triples;q=0.9, application/rdf+xml;q=0.8, application/json;q=0.7")
			resp, err := hc.Do(req)
			if err != nil {
				return fmt.Errorf("GET %s: %w", u, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				apiErr := &APIError{Method: http.MethodGet, URL: u, StatusCode: resp.StatusCode, Body: string(body)}
				if !apiErr.Retryable() {
					return retry.Unrecoverable(apiErr)
				}
				return apiErr
			}
			return read(resp)
		},
		retry.Context(ctx),
		retry.Attempts(opts.Attempts),
		retry.Delay(opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Str("url", u).Msg("retrying smart request")
		}),
	)
}

func formatFor(contentType string) rdf.Format {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return rdf.RDFXML
	}
	switch mt {
	case "text/turtle", "application/x-turtle":
		return rdf.Turtle
	case "application/n-triples", "text/plain":
		return rdf.NTriples
	default:
		return rdf.RDFXML
	}
}

// IsUpstream reports whether err came from the container rather than from
// the caller's credentials.
func IsUpstream(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
