package rdf

import (
	krdf "github.com/knakk/rdf"
)

// identifyingPredicates are stripped from graphs that leave the service.
// Gender and birth date are kept: receiving apps need them for age and
// sex specific reference ranges.
var identifyingPredicates = map[string]bool{
	NSVCard + "n":                true,
	NSVCard + "given-name":       true,
	NSVCard + "family-name":      true,
	NSVCard + "additional-name":  true,
	NSVCard + "adr":              true,
	NSVCard + "tel":              true,
	NSVCard + "email":            true,
	NSFOAF + "name":              true,
	NSFOAF + "givenName":         true,
	NSFOAF + "familyName":        true,
	NSFOAF + "mbox":              true,
	NSSP + "medicalRecordNumber": true,
}

// Anonymize returns a copy of g without identifying triples. Blank nodes
// that were only reachable through a removed triple (name and address
// structures) are removed together with everything hanging off them.
func Anonymize(g *Graph) *Graph {
	var kept []krdf.Triple
	orphans := map[string]bool{}
	for _, t := range g.triples {
		if identifyingPredicates[t.Pred.String()] {
			if t.Obj.Type() == krdf.TermBlank {
				orphans[termKey(t.Obj)] = true
			}
			continue
		}
		kept = append(kept, t)
	}

	for len(orphans) > 0 {
		referenced := map[string]bool{}
		for _, t := range kept {
			if t.Obj.Type() == krdf.TermBlank {
				referenced[termKey(t.Obj)] = true
			}
		}
		next := map[string]bool{}
		var rest []krdf.Triple
		for _, t := range kept {
			sk := termKey(t.Subj)
			if orphans[sk] && !referenced[sk] {
				if t.Obj.Type() == krdf.TermBlank {
					next[termKey(t.Obj)] = true
				}
				continue
			}
			rest = append(rest, t)
		}
		kept = rest
		orphans = next
	}

	out := NewGraph()
	out.Add(kept...)
	return out
}
