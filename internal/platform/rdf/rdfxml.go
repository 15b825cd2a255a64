package rdf

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"

	krdf "github.com/knakk/rdf"
)

var knownPrefixes = map[string]string{
	NSRDF:     "rdf",
	NSSP:      "sp",
	NSDCTerms: "dcterms",
	NSDC:      "dc",
	NSFOAF:    "foaf",
	NSVCard:   "v",
	NSXSD:     "xsd",
}

// EncodeRDFXML writes g as RDF/XML with one rdf:Description per subject,
// subjects in first-seen order.
func (g *Graph) EncodeRDFXML(w io.Writer) error {
	type predObj struct {
		ns, local string
		obj       krdf.Object
	}
	var order []string
	subjects := map[string]krdf.Subject{}
	props := map[string][]predObj{}
	prefixes := map[string]string{NSRDF: "rdf"}

	for _, t := range g.triples {
		ns, local, err := splitIRI(t.Pred.String())
		if err != nil {
			return err
		}
		if _, ok := prefixes[ns]; !ok {
			if p, known := knownPrefixes[ns]; known {
				prefixes[ns] = p
			} else {
				prefixes[ns] = fmt.Sprintf("ns%d", len(prefixes))
			}
		}
		k := exactKey(t.Subj)
		if _, ok := subjects[k]; !ok {
			subjects[k] = t.Subj
			order = append(order, k)
		}
		props[k] = append(props[k], predObj{ns: ns, local: local, obj: t.Obj})
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(xml.Header)
	bw.WriteString("<rdf:RDF")
	nss := make([]string, 0, len(prefixes))
	for ns := range prefixes {
		nss = append(nss, ns)
	}
	sort.Slice(nss, func(i, j int) bool { return prefixes[nss[i]] < prefixes[nss[j]] })
	for _, ns := range nss {
		fmt.Fprintf(bw, "\n    xmlns:%s=\"%s\"", prefixes[ns], escape(ns))
	}
	bw.WriteString(">\n")

	for _, k := range order {
		subj := subjects[k]
		if subj.Type() == krdf.TermBlank {
			fmt.Fprintf(bw, "  <rdf:Description rdf:nodeID=\"%s\">\n", escape(Value(subj)))
		} else {
			fmt.Fprintf(bw, "  <rdf:Description rdf:about=\"%s\">\n", escape(subj.String()))
		}
		for _, po := range props[k] {
			name := prefixes[po.ns] + ":" + po.local
			switch o := po.obj.(type) {
			case krdf.Literal:
				bw.WriteString("    <" + name)
				if lang := o.Lang(); lang != "" {
					fmt.Fprintf(bw, " xml:lang=\"%s\"", escape(lang))
				} else if dt := o.DataType.String(); dt != "" && dt != NSXSD+"string" && dt != NSRDF+"langString" {
					fmt.Fprintf(bw, " rdf:datatype=\"%s\"", escape(dt))
				}
				fmt.Fprintf(bw, ">%s</%s>\n", escape(o.String()), name)
			default:
				if o.Type() == krdf.TermBlank {
					fmt.Fprintf(bw, "    <%s rdf:nodeID=\"%s\"/>\n", name, escape(Value(o)))
				} else {
					fmt.Fprintf(bw, "    <%s rdf:resource=\"%s\"/>\n", name, escape(o.String()))
				}
			}
		}
		bw.WriteString("  </rdf:Description>\n")
	}
	bw.WriteString("</rdf:RDF>\n")
	return bw.Flush()
}

// splitIRI splits a predicate IRI into namespace and an XML local name.
func splitIRI(iri string) (string, string, error) {
	i := strings.LastIndexAny(iri, "#/")
	if i < 0 || i == len(iri)-1 {
		return "", "", fmt.Errorf("predicate %q cannot be written as RDF/XML", iri)
	}
	local := iri[i+1:]
	for j, r := range local {
		if j == 0 && !(unicode.IsLetter(r) || r == '_') {
			return "", "", fmt.Errorf("predicate %q has no valid XML local name", iri)
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.') {
			return "", "", fmt.Errorf("predicate %q has no valid XML local name", iri)
		}
	}
	return iri[:i+1], local, nil
}

func escape(s string) string {
	var b strings.Builder
	// xml.EscapeText only fails when the writer fails.
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
