package smart

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/smartdirect/direct/internal/platform/apierr"
)

var (
	// ErrMissingHeader is returned when the request carries no oauth_header.
	ErrMissingHeader = apierr.New(http.StatusUnauthorized, "missing SMART oauth header")
	// ErrMalformedHeader is returned when the header cannot be parsed.
	ErrMalformedHeader = apierr.New(http.StatusUnauthorized, "malformed SMART oauth header")
	// ErrMissingCredential is returned when a required parameter is absent.
	ErrMissingCredential = apierr.New(http.StatusUnauthorized, "missing SMART credential")
)

// Credentials are the request-scoped values the SMART container passes to
// the app in its OAuth header.
type Credentials struct {
	APIBase     string
	AppID       string
	Token       string
	TokenSecret string
	RecordID    string
	UserID      string
}

var requiredParams = []string{
	"smart_container_api_base",
	"smart_app_id",
	"smart_oauth_token",
	"smart_oauth_token_secret",
	"smart_record_id",
}

// ParseOAuthHeader parses the oauth_header form value. The container sends
// the Authorization header URL-encoded, so it is unescaped once before the
// OAuth parameters are split out.
func ParseOAuthHeader(raw string) (Credentials, error) {
	if strings.TrimSpace(raw) == "" {
		return Credentials{}, ErrMissingHeader
	}
	header, err := url.PathUnescape(raw)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	params, err := parseAuthParams(header)
	if err != nil {
		return Credentials{}, err
	}
	for _, k := range requiredParams {
		if params[k] == "" {
			return Credentials{}, fmt.Errorf("%w: %s", ErrMissingCredential, k)
		}
	}
	return Credentials{
		APIBase:     strings.TrimRight(params["smart_container_api_base"], "/"),
		AppID:       params["smart_app_id"],
		Token:       params["smart_oauth_token"],
		TokenSecret: params["smart_oauth_token_secret"],
		RecordID:    params["smart_record_id"],
		UserID:      params["smart_user_id"],
	}, nil
}

// parseAuthParams splits `OAuth k="v", k2="v2"` into a map, percent-decoding
// each value.
func parseAuthParams(header string) (map[string]string, error) {
	header = strings.TrimSpace(header)
	if len(header) >= 6 && strings.EqualFold(header[:6], "OAuth ") {
		header = header[6:]
	}
	params := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q has no value", ErrMalformedHeader, part)
		}
		v = strings.Trim(strings.TrimSpace(v), `"`)
		dv, err := url.PathUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %s: %v", ErrMalformedHeader, k, err)
		}
		params[strings.TrimSpace(k)] = dv
	}
	return params, nil
}
