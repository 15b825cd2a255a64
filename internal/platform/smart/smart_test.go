package smart_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartdirect/direct/internal/platform/smart"
	"github.com/smartdirect/direct/internal/platform/smart/smarttest"
)

const medsTTL = `@prefix sp: <http://smartplatforms.org/terms#> .
@prefix dcterms: <http://purl.org/dc/terms/> .
<http://c/records/42/medications/1> a sp:Medication ; sp:drugName _:c .
_:c dcterms:title "Aspirin" .`

func TestParseOAuthHeader(t *testing.T) {
	creds, err := smart.ParseOAuthHeader(smarttest.Header("http://container:7000/", "42", "alice@example.org"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.APIBase != "http://container:7000" {
		t.Errorf("APIBase = %q, want trailing slash trimmed", creds.APIBase)
	}
	if creds.AppID != "direct-apps@apps.smartplatforms.org" {
		t.Errorf("AppID = %q", creds.AppID)
	}
	if creds.Token != "tok-123" || creds.TokenSecret != "secret-456" {
		t.Errorf("token = %q/%q", creds.Token, creds.TokenSecret)
	}
	if creds.RecordID != "42" || creds.UserID != "alice@example.org" {
		t.Errorf("record/user = %q/%q", creds.RecordID, creds.UserID)
	}
}

func TestParseOAuthHeader_Plain(t *testing.T) {
	raw := `OAuth smart_container_api_base="http%3A%2F%2Fc", smart_app_id="app", ` +
		`smart_oauth_token="t", smart_oauth_token_secret="s", smart_record_id="1"`
	creds, err := smart.ParseOAuthHeader(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.APIBase != "http://c" {
		t.Errorf("APIBase = %q", creds.APIBase)
	}
	if creds.UserID != "" {
		t.Errorf("UserID = %q, want empty", creds.UserID)
	}
}

func TestParseOAuthHeader_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", smart.ErrMissingHeader},
		{"blank", "   ", smart.ErrMissingHeader},
		{"bad escape", "OAuth%zz", smart.ErrMalformedHeader},
		{"no value", `OAuth smart_app_id`, smart.ErrMalformedHeader},
		{"missing record", `OAuth smart_container_api_base="x", smart_app_id="a", smart_oauth_token="t", smart_oauth_token_secret="s"`, smart.ErrMissingCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := smart.ParseOAuthHeader(tt.raw)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_SignsAndDecodes(t *testing.T) {
	c := smarttest.NewContainer(map[string]smarttest.Resource{
		"/records/42/medications/": {Body: medsTTL},
	})
	defer c.Close()

	f := smart.NewFactory(smart.Options{})
	client, err := f.Connect(smarttest.Header(c.URL, "42", "alice"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	g, err := client.Medications(context.Background())
	if err != nil {
		t.Fatalf("medications: %v", err)
	}
	if g.Len() != 3 {
		t.Errorf("Len = %d, want 3", g.Len())
	}

	reqs := c.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	auth := reqs[0].Header.Get("Authorization")
	for _, want := range []string{
		`oauth_consumer_key="direct-apps%40apps.smartplatforms.org"`,
		`oauth_token="tok-123"`,
		`oauth_signature_method="HMAC-SHA1"`,
		`oauth_signature=`,
	} {
		if !strings.Contains(auth, want) {
			t.Errorf("Authorization %q missing %s", auth, want)
		}
	}
}

func TestClient_Endpoints(t *testing.T) {
	c := smarttest.NewContainer(map[string]smarttest.Resource{
		"/records/42/problems/":    {Body: medsTTL},
		"/records/42/demographics": {Body: medsTTL},
		"/records/42/vital_signs/": {Body: medsTTL},
		"/users/alice":             {Body: medsTTL},
	})
	defer c.Close()

	client, err := smart.NewFactory(smart.Options{}).Connect(smarttest.Header(c.URL, "42", "alice"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx := context.Background()
	calls := map[string]func(context.Context) error{
		"problems":     func(ctx context.Context) error { _, err := client.Problems(ctx); return err },
		"demographics": func(ctx context.Context) error { _, err := client.Demographics(ctx); return err },
		"vital_signs":  func(ctx context.Context) error { _, err := client.VitalSigns(ctx); return err },
		"user":         func(ctx context.Context) error { _, err := client.User(ctx); return err },
	}
	for name, call := range calls {
		if err := call(ctx); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestClient_UserRequiresUserID(t *testing.T) {
	client := smart.NewClient(smart.Credentials{APIBase: "http://unused", RecordID: "1"}, smart.Options{})
	_, err := client.User(context.Background())
	if !errors.Is(err, smart.ErrMissingCredential) {
		t.Errorf("err = %v, want ErrMissingCredential", err)
	}
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	c := smarttest.NewContainer(nil)
	defer c.Close()

	client, _ := smart.NewFactory(smart.Options{Attempts: 3, RetryDelay: time.Millisecond}).
		Connect(smarttest.Header(c.URL, "42", ""))
	_, err := client.Problems(context.Background())

	var apiErr *smart.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.HTTPStatus() != http.StatusBadGateway {
		t.Errorf("HTTPStatus = %d, want 502", apiErr.HTTPStatus())
	}
	if n := len(c.Requests()); n != 1 {
		t.Errorf("requests = %d, want 1 (4xx must not be retried)", n)
	}
	if !smart.IsUpstream(err) {
		t.Error("expected IsUpstream to be true")
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/turtle")
		w.Write([]byte(medsTTL))
	}))
	defer srv.Close()

	client, _ := smart.NewFactory(smart.Options{Attempts: 3, RetryDelay: time.Millisecond}).
		Connect(smarttest.Header(srv.URL, "42", ""))
	g, err := client.Medications(context.Background())
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	if g.Len() != 3 {
		t.Errorf("Len = %d, want 3", g.Len())
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestClient_RDFXMLByDefault(t *testing.T) {
	const xmlBody = `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
         xmlns:foaf="http://xmlns.com/foaf/0.1/">
  <rdf:Description rdf:about="http://c/users/alice">
    <foaf:givenName>Alice</foaf:givenName>
    <foaf:familyName>Smith</foaf:familyName>
    <foaf:mbox rdf:resource="mailto:alice@example.org"/>
  </rdf:Description>
</rdf:RDF>`
	c := smarttest.NewContainer(map[string]smarttest.Resource{
		"/users/alice": {ContentType: "application/rdf+xml", Body: xmlBody},
	})
	defer c.Close()

	client, _ := smart.NewFactory(smart.Options{}).Connect(smarttest.Header(c.URL, "42", "alice"))
	g, err := client.User(context.Background())
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	rows, err := g.Query(`PREFIX foaf:<http://xmlns.com/foaf/0.1/>
		SELECT ?e WHERE { ?r foaf:mbox ?e . }`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0]["e"] != "mailto:alice@example.org" {
		t.Errorf("rows = %v", rows)
	}
}

func TestClient_PrefersTurtle(t *testing.T) {
	c := smarttest.NewContainer(map[string]smarttest.Resource{
		"/records/42/demographics": {Body: `<http://c/records/42> <http://xmlns.com/foaf/0.1/gender> "female" .`},
	})
	defer c.Close()

	client, _ := smart.NewFactory(smart.Options{}).Connect(smarttest.Header(c.URL, "42", "alice"))
	if _, err := client.Demographics(context.Background()); err != nil {
		t.Fatalf("demographics: %v", err)
	}
	reqs := c.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests", len(reqs))
	}
	accept := reqs[0].Header.Get("Accept")
	turtle := strings.Index(accept, "text/turtle")
	xml := strings.Index(accept, "application/rdf+xml")
	if turtle != 0 || xml < turtle {
		t.Errorf("Accept = %q, want text/turtle first", accept)
	}
}

func TestManifestClient(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apps/manifests/" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"b","name":"Beta"}]`))
	}))
	defer srv.Close()

	mc := smart.NewManifestClient(srv.URL+"/", "proxy-app", "", smart.Options{})
	body, err := mc.Manifests(context.Background())
	if err != nil {
		t.Fatalf("manifests: %v", err)
	}
	if string(body) != `[{"id":"b","name":"Beta"}]` {
		t.Errorf("body = %s", body)
	}
	if !strings.Contains(gotAuth, `oauth_consumer_key="`+url.QueryEscape("proxy-app")+`"`) {
		t.Errorf("Authorization = %q", gotAuth)
	}
}
