// Package smarttest provides a fake SMART container for tests.
package smarttest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// Resource is a canned response served by the fake container.
type Resource struct {
	Status      int
	ContentType string
	Body        string
}

// Container is an httptest server that answers SMART REST paths with canned
// RDF payloads and records the requests it saw.
type Container struct {
	*httptest.Server

	mu        sync.Mutex
	resources map[string]Resource
	requests  []*http.Request
}

// NewContainer starts a fake container. Paths are relative to the API base,
// e.g. "/records/123/medications/".
func NewContainer(resources map[string]Resource) *Container {
	c := &Container{resources: make(map[string]Resource)}
	for k, v := range resources {
		c.resources[k] = v
	}
	c.Server = httptest.NewServer(http.HandlerFunc(c.serve))
	return c
}

// Set replaces the response for path.
func (c *Container) Set(path string, r Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[path] = r
}

// Requests returns a copy of the requests received so far.
func (c *Container) Requests() []*http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*http.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

func (c *Container) serve(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.requests = append(c.requests, r.Clone(r.Context()))
	res, ok := c.resources[r.URL.Path]
	c.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
		http.Error(w, "unsigned request", http.StatusUnauthorized)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	if res.ContentType == "" {
		res.ContentType = "text/turtle"
	}
	if res.Status == 0 {
		res.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.WriteHeader(res.Status)
	fmt.Fprint(w, res.Body)
}

// Header builds the URL-encoded oauth_header form value a container sends
// when launching an app against apiBase.
func Header(apiBase, recordID, userID string) string {
	params := []struct{ k, v string }{
		{"realm", ""},
		{"smart_container_api_base", apiBase},
		{"smart_app_id", "direct-apps@apps.smartplatforms.org"},
		{"smart_oauth_token", "tok-123"},
		{"smart_oauth_token_secret", "secret-456"},
		{"smart_record_id", recordID},
		{"smart_user_id", userID},
	}
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, p.k, url.QueryEscape(p.v)))
	}
	return url.PathEscape("OAuth " + strings.Join(parts, ", "))
}
