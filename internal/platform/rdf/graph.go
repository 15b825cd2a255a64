// Package rdf holds the in-memory RDF graphs returned by the SMART API,
// a small SPARQL SELECT evaluator over them, and an RDF/XML writer used
// when graphs are shipped as mail attachments.
package rdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	krdf "github.com/knakk/rdf"
)

// Well-known namespaces used by the SMART payloads.
const (
	NSRDF     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NSSP      = "http://smartplatforms.org/terms#"
	NSDCTerms = "http://purl.org/dc/terms/"
	NSDC      = "http://purl.org/dc/elements/1.1/"
	NSFOAF    = "http://xmlns.com/foaf/0.1/"
	NSVCard   = "http://www.w3.org/2006/vcard/ns#"
	NSXSD     = "http://www.w3.org/2001/XMLSchema#"
)

// Format selects the syntax used to decode a payload.
type Format = krdf.Format

const (
	RDFXML   = krdf.RDFXML
	Turtle   = krdf.Turtle
	NTriples = krdf.NTriples
)

// blankScope makes blank node labels unique across decodes so that
// merging two graphs never joins unrelated blank nodes.
var blankScope atomic.Uint64

// Graph is an ordered set of triples. The zero value is not usable; call
// NewGraph.
type Graph struct {
	triples []krdf.Triple
	index   map[string]struct{}
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{index: make(map[string]struct{})}
}

// Decode parses a payload in the given format and returns it as a graph.
func Decode(r io.Reader, f Format) (*Graph, error) {
	g := NewGraph()
	if err := g.Decode(r, f); err != nil {
		return nil, err
	}
	return g, nil
}

// Decode parses a payload and adds its triples to g.
func (g *Graph) Decode(r io.Reader, f Format) error {
	if f == RDFXML {
		doc, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("decode rdf: %w", err)
		}
		r = bytes.NewReader(declareSchemes(doc))
	}
	scope := blankScope.Add(1)
	dec := krdf.NewTripleDecoder(r, f)
	for {
		t, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode rdf: %w", err)
		}
		t, err = scopeBlanks(t, scope)
		if err != nil {
			return err
		}
		g.Add(t)
	}
}

// Add inserts triples, ignoring ones already present.
func (g *Graph) Add(ts ...krdf.Triple) {
	for _, t := range ts {
		k := tripleKey(t)
		if _, ok := g.index[k]; ok {
			continue
		}
		g.index[k] = struct{}{}
		g.triples = append(g.triples, t)
	}
}

// Merge adds every triple of other to g.
func (g *Graph) Merge(other *Graph) {
	if other == nil {
		return
	}
	g.Add(other.triples...)
}

// Len returns the number of triples.
func (g *Graph) Len() int { return len(g.triples) }

// Triples returns a copy of the triples in insertion order.
func (g *Graph) Triples() []krdf.Triple {
	out := make([]krdf.Triple, len(g.triples))
	copy(out, g.triples)
	return out
}

// Query compiles and runs a SPARQL SELECT against g.
func (g *Graph) Query(sparql string) ([]Row, error) {
	q, err := Compile(sparql)
	if err != nil {
		return nil, err
	}
	return g.Select(q), nil
}

// schemeOnly are IRI schemes written without "//". The RDF/XML decoder
// reads "mailto:x" as a prefixed name, so each scheme is declared as a
// namespace mapping to itself.
var schemeOnly = []string{"mailto", "urn", "tel"}

// declareSchemes adds xmlns declarations for schemeOnly to the root element
// of an RDF/XML document, skipping prefixes the root already declares.
func declareSchemes(doc []byte) []byte {
	start, nameEnd, tagEnd := rootElement(doc)
	if start < 0 {
		return doc
	}
	root := doc[start:tagEnd]
	var decl bytes.Buffer
	for _, s := range schemeOnly {
		if bytes.Contains(root, []byte("xmlns:"+s+"=")) {
			continue
		}
		fmt.Fprintf(&decl, ` xmlns:%s="%s:"`, s, s)
	}
	if decl.Len() == 0 {
		return doc
	}
	out := make([]byte, 0, len(doc)+decl.Len())
	out = append(out, doc[:nameEnd]...)
	out = append(out, decl.Bytes()...)
	return append(out, doc[nameEnd:]...)
}

// rootElement locates the first start tag, skipping the XML declaration,
// comments and doctype. It returns the offsets of its '<', the end of its
// name and its closing '>', or -1s when there is none.
func rootElement(doc []byte) (start, nameEnd, tagEnd int) {
	i := 0
	for i < len(doc) {
		lt := bytes.IndexByte(doc[i:], '<')
		if lt < 0 {
			break
		}
		i += lt
		rest := doc[i:]
		switch {
		case bytes.HasPrefix(rest, []byte("<?")):
			end := bytes.Index(rest, []byte("?>"))
			if end < 0 {
				return -1, -1, -1
			}
			i += end + 2
		case bytes.HasPrefix(rest, []byte("<!--")):
			end := bytes.Index(rest, []byte("-->"))
			if end < 0 {
				return -1, -1, -1
			}
			i += end + 3
		case bytes.HasPrefix(rest, []byte("<!")):
			end := bytes.IndexByte(rest, '>')
			if end < 0 {
				return -1, -1, -1
			}
			i += end + 1
		default:
			gt := bytes.IndexByte(rest, '>')
			if gt < 0 {
				return -1, -1, -1
			}
			n := 1
			for n < gt && !isXMLSpace(rest[n]) && rest[n] != '/' {
				n++
			}
			return i, i + n, i + gt
		}
	}
	return -1, -1, -1
}

func isXMLSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func scopeBlanks(t krdf.Triple, scope uint64) (krdf.Triple, error) {
	if b, ok := t.Subj.(krdf.Blank); ok {
		nb, err := scopedBlank(b, scope)
		if err != nil {
			return t, err
		}
		t.Subj = nb
	}
	if b, ok := t.Obj.(krdf.Blank); ok {
		nb, err := scopedBlank(b, scope)
		if err != nil {
			return t, err
		}
		t.Obj = nb
	}
	return t, nil
}

func scopedBlank(b krdf.Blank, scope uint64) (krdf.Blank, error) {
	label := strings.TrimPrefix(b.String(), "_:")
	nb, err := krdf.NewBlank(fmt.Sprintf("s%d%s", scope, label))
	if err != nil {
		return b, fmt.Errorf("rename blank node %q: %w", label, err)
	}
	return nb, nil
}

// termKey identifies a term for matching: kind plus lexical form.
func termKey(t krdf.Term) string {
	switch t.Type() {
	case krdf.TermIRI:
		return "i|" + t.String()
	case krdf.TermBlank:
		return "b|" + strings.TrimPrefix(t.String(), "_:")
	default:
		return "l|" + t.String()
	}
}

// exactKey extends termKey with the language tag and datatype of literals.
func exactKey(t krdf.Term) string {
	if l, ok := t.(krdf.Literal); ok {
		return termKey(t) + "@" + l.Lang() + "^^" + l.DataType.String()
	}
	return termKey(t)
}

func tripleKey(t krdf.Triple) string {
	return exactKey(t.Subj) + "\x00" + exactKey(t.Pred) + "\x00" + exactKey(t.Obj)
}

// Value returns the plain string form of a term: the IRI text, the
// literal's lexical form or the blank node label.
func Value(t krdf.Term) string {
	if t.Type() == krdf.TermBlank {
		return strings.TrimPrefix(t.String(), "_:")
	}
	return t.String()
}
