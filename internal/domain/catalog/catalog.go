package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/smartdirect/direct/internal/platform/apierr"
)

var (
	// ErrUnknownApp is returned when a selected id is not in the catalog.
	ErrUnknownApp = apierr.New(http.StatusBadRequest, "unknown app")
	// ErrInvalidCatalog is returned when a manifest list is not a JSON array.
	ErrInvalidCatalog = apierr.New(http.StatusBadGateway, "invalid app manifests")
)

// Fields removed from a manifest before it is shared.
var strippedFields = []string{"apis", "name", "icon"}

// ManifestSource lists app manifests from a remote container.
type ManifestSource interface {
	Manifests(ctx context.Context) ([]byte, error)
}

// Catalog serves the app manifests and direct recipients the UI offers.
type Catalog struct {
	appsPath       string
	recipientsPath string
	remote         ManifestSource
}

// New creates a Catalog reading apps.json and addresses.json from dataDir.
// When remote is non-nil the app list comes from it instead of apps.json.
func New(dataDir string, remote ManifestSource) *Catalog {
	return &Catalog{
		appsPath:       filepath.Join(dataDir, "apps.json"),
		recipientsPath: filepath.Join(dataDir, "addresses.json"),
		remote:         remote,
	}
}

// AppsJSON returns the app manifests. The local file is returned as is;
// remote manifests are ordered by name.
func (c *Catalog) AppsJSON(ctx context.Context) ([]byte, error) {
	if c.remote == nil {
		return readFile(c.appsPath)
	}
	raw, err := c.remote.Manifests(ctx)
	if err != nil {
		return nil, err
	}
	return sortByName(raw)
}

// RecipientsJSON returns addresses.json as is.
func (c *Catalog) RecipientsJSON(_ context.Context) ([]byte, error) {
	return readFile(c.recipientsPath)
}

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

func sortByName(raw []byte) ([]byte, error) {
	parsed := gjson.ParseBytes(raw)
	if !gjson.ValidBytes(raw) || !parsed.IsArray() {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrInvalidCatalog)
	}
	apps := parsed.Array()
	sort.SliceStable(apps, func(i, j int) bool {
		return apps[i].Get("name").String() < apps[j].Get("name").String()
	})

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, a := range apps {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(a.Raw)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Selection is the shareable subset of the catalog chosen by the user.
type Selection struct {
	// Apps are the chosen manifests in catalog order, without apis, name
	// and icon.
	Apps []json.RawMessage
	// APIs is the ordered union of the data categories the apps need.
	APIs []string
}

// Needs reports whether any selected app requires api.
func (s *Selection) Needs(api string) bool {
	for _, a := range s.APIs {
		if a == api {
			return true
		}
	}
	return false
}

// ParseIDs splits a comma-separated id list. Blank entries are dropped.
func ParseIDs(list string) []string {
	var ids []string
	for _, id := range strings.Split(list, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Select picks the manifests with the given ids. Every id must exist.
func (c *Catalog) Select(ctx context.Context, ids []string) (*Selection, error) {
	raw, err := c.AppsJSON(ctx)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsArray() {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrInvalidCatalog)
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = false
	}

	sel := &Selection{Apps: []json.RawMessage{}}
	seenAPI := make(map[string]bool)
	for _, app := range gjson.ParseBytes(raw).Array() {
		id := app.Get("id").String()
		if _, ok := wanted[id]; !ok {
			continue
		}
		wanted[id] = true

		for _, api := range app.Get("apis").Array() {
			name := api.String()
			if !seenAPI[name] {
				seenAPI[name] = true
				sel.APIs = append(sel.APIs, name)
			}
		}

		stripped := []byte(app.Raw)
		for _, field := range strippedFields {
			if stripped, err = sjson.DeleteBytes(stripped, field); err != nil {
				return nil, fmt.Errorf("strip %s from app %s: %w", field, id, err)
			}
		}
		sel.Apps = append(sel.Apps, json.RawMessage(stripped))
	}

	for _, id := range ids {
		if !wanted[id] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownApp, id)
		}
	}
	return sel, nil
}
