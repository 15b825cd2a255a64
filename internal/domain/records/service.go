package records

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/smartdirect/direct/internal/platform/apierr"
	"github.com/smartdirect/direct/internal/platform/rdf"
)

// ErrBadRDF is returned when a graph does not hold exactly the one
// resource a projection expects.
var ErrBadRDF = apierr.New(http.StatusBadGateway, "unexpected RDF from container")

// Source is the record-scoped view of a SMART container.
type Source interface {
	Medications(ctx context.Context) (*rdf.Graph, error)
	Problems(ctx context.Context) (*rdf.Graph, error)
	Demographics(ctx context.Context) (*rdf.Graph, error)
	VitalSigns(ctx context.Context) (*rdf.Graph, error)
	User(ctx context.Context) (*rdf.Graph, error)
}

// Connector opens a Source from the container's oauth_header form value.
type Connector func(oauthHeader string) (Source, error)

const prefixes = `
PREFIX dc:<http://purl.org/dc/elements/1.1/>
PREFIX dcterms:<http://purl.org/dc/terms/>
PREFIX sp:<http://smartplatforms.org/terms#>
PREFIX rdf:<http://www.w3.org/1999/02/22-rdf-syntax-ns#>
PREFIX foaf:<http://xmlns.com/foaf/0.1/>
PREFIX v:<http://www.w3.org/2006/vcard/ns#>
`

var (
	medicationsQuery = rdf.MustCompile(prefixes + `
SELECT ?name WHERE {
	?med rdf:type sp:Medication .
	?med sp:drugName ?medc .
	?medc dcterms:title ?name .
}`)

	problemsQuery = rdf.MustCompile(prefixes + `
SELECT ?name ?date WHERE {
	?p rdf:type sp:Problem .
	?p sp:startDate ?date .
	?p sp:problemName ?pn .
	?pn dcterms:title ?name .
}`)

	demographicsQuery = rdf.MustCompile(prefixes + `
SELECT ?firstname ?lastname ?gender ?birthday WHERE {
	?r v:n ?n .
	?n rdf:type v:Name .
	?n v:given-name ?firstname .
	?n v:family-name ?lastname .
	?r foaf:gender ?gender .
	?r v:bday ?birthday .
}`)

	userQuery = rdf.MustCompile(prefixes + `
SELECT ?firstname ?lastname ?email WHERE {
	?r foaf:givenName ?firstname .
	?r foaf:familyName ?lastname .
	?r foaf:mbox ?email .
}`)
)

type Medication struct {
	Drug string `json:"drug"`
}

type Problem struct {
	Problem string `json:"problem"`
	Date    string `json:"date"`
}

type Demographics struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Gender    string `json:"gender"`
	Birthday  string `json:"birthday"`
}

type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Service projects record graphs onto flat JSON-ready values.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) Medications(ctx context.Context, src Source) ([]Medication, error) {
	g, err := src.Medications(ctx)
	if err != nil {
		return nil, err
	}
	out := []Medication{}
	for _, row := range g.Select(medicationsQuery) {
		out = append(out, Medication{Drug: row["name"]})
	}
	return out, nil
}

func (s *Service) Problems(ctx context.Context, src Source) ([]Problem, error) {
	g, err := src.Problems(ctx)
	if err != nil {
		return nil, err
	}
	out := []Problem{}
	for _, row := range g.Select(problemsQuery) {
		out = append(out, Problem{Problem: row["name"], Date: row["date"]})
	}
	return out, nil
}

func (s *Service) Demographics(ctx context.Context, src Source) (*Demographics, error) {
	g, err := src.Demographics(ctx)
	if err != nil {
		return nil, err
	}
	row, err := single(g.Select(demographicsQuery), "demographics")
	if err != nil {
		return nil, err
	}
	return &Demographics{
		FirstName: row["firstname"],
		LastName:  row["lastname"],
		Gender:    row["gender"],
		Birthday:  row["birthday"],
	}, nil
}

// User returns the logged-in user with the mailto: scheme removed from the
// address.
func (s *Service) User(ctx context.Context, src Source) (*User, error) {
	g, err := src.User(ctx)
	if err != nil {
		return nil, err
	}
	row, err := single(g.Select(userQuery), "user")
	if err != nil {
		return nil, err
	}
	return &User{
		Name:  row["firstname"] + " " + row["lastname"],
		Email: strings.ReplaceAll(row["email"], "mailto:", ""),
	}, nil
}

func single(rows []rdf.Row, what string) (rdf.Row, error) {
	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: bad %s RDF: %d results, want 1", ErrBadRDF, what, len(rows))
	}
	return rows[0], nil
}
