package rdf

import (
	"errors"
	"fmt"
	"strings"

	krdf "github.com/knakk/rdf"
)

// ErrSyntax is returned for queries outside the supported SPARQL subset.
var ErrSyntax = errors.New("sparql syntax error")

// Row is one solution, keyed by variable name without the leading '?'.
type Row map[string]string

// Query is a compiled SELECT over a basic graph pattern.
//
// Supported: PREFIX declarations, SELECT [DISTINCT] ?vars|*, and a WHERE
// block of triple patterns separated by '.', with ';' and ',' shorthand.
// Terms may be variables, prefixed names, <IRIs>, the keyword 'a' or
// quoted literals. Solutions are always distinct.
type Query struct {
	Vars     []string
	patterns []pattern
}

type patternTerm struct {
	variable string
	key      string
}

type pattern struct {
	s, p, o patternTerm
}

// Compile parses a query.
func Compile(src string) (*Query, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, prefixes: map[string]string{}}
	return p.parse()
}

// MustCompile is like Compile but panics on error. It is meant for the
// fixed queries declared at package level.
func MustCompile(src string) *Query {
	q, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return q
}

// Select evaluates q against g. Rows keep the order in which solutions are
// first found.
func (g *Graph) Select(q *Query) []Row {
	solutions := []map[string]krdf.Term{{}}
	for _, pat := range q.patterns {
		var next []map[string]krdf.Term
		for _, b := range solutions {
			for _, t := range g.triples {
				if nb, ok := unify(pat, t, b); ok {
					next = append(next, nb)
				}
			}
		}
		solutions = next
		if len(solutions) == 0 {
			break
		}
	}

	rows := make([]Row, 0, len(solutions))
	seen := make(map[string]struct{}, len(solutions))
	for _, b := range solutions {
		row := make(Row, len(q.Vars))
		var key strings.Builder
		for _, v := range q.Vars {
			t := b[v]
			row[v] = Value(t)
			key.WriteString(exactKey(t))
			key.WriteByte(0)
		}
		if _, dup := seen[key.String()]; dup {
			continue
		}
		seen[key.String()] = struct{}{}
		rows = append(rows, row)
	}
	return rows
}

func unify(pat pattern, t krdf.Triple, b map[string]krdf.Term) (map[string]krdf.Term, bool) {
	terms := [3]krdf.Term{t.Subj, t.Pred, t.Obj}
	pts := [3]patternTerm{pat.s, pat.p, pat.o}
	var out map[string]krdf.Term
	for i, pt := range pts {
		if pt.variable == "" {
			if pt.key != termKey(terms[i]) {
				return nil, false
			}
			continue
		}
		cur, ok := b[pt.variable]
		if !ok && out != nil {
			cur, ok = out[pt.variable]
		}
		if ok {
			if exactKey(cur) != exactKey(terms[i]) {
				return nil, false
			}
			continue
		}
		if out == nil {
			out = make(map[string]krdf.Term, len(b)+3)
			for k, v := range b {
				out[k] = v
			}
		}
		out[pt.variable] = terms[i]
	}
	if out == nil {
		// Nothing new was bound; solutions are never mutated after creation.
		return b, true
	}
	return out, true
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

type parser struct {
	toks     []string
	pos      int
	prefixes map[string]string
	allVars  []string
}

func (p *parser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expect(tok string) error {
	if got := p.next(); got != tok {
		return fmt.Errorf("%w: expected %q, got %q", ErrSyntax, tok, got)
	}
	return nil
}

func (p *parser) parse() (*Query, error) {
	for strings.EqualFold(p.peek(), "PREFIX") {
		p.next()
		name := p.next()
		if !strings.HasSuffix(name, ":") {
			return nil, fmt.Errorf("%w: bad prefix name %q", ErrSyntax, name)
		}
		iri := p.next()
		if !isIRIRef(iri) {
			return nil, fmt.Errorf("%w: prefix %s needs an <IRI>, got %q", ErrSyntax, name, iri)
		}
		p.prefixes[strings.TrimSuffix(name, ":")] = iri[1 : len(iri)-1]
	}

	if !strings.EqualFold(p.next(), "SELECT") {
		return nil, fmt.Errorf("%w: only SELECT queries are supported", ErrSyntax)
	}
	if strings.EqualFold(p.peek(), "DISTINCT") || strings.EqualFold(p.peek(), "REDUCED") {
		p.next()
	}

	var vars []string
	star := false
	for {
		tok := p.peek()
		if tok == "*" {
			star = true
			p.next()
			continue
		}
		if !strings.HasPrefix(tok, "?") && !strings.HasPrefix(tok, "$") {
			break
		}
		vars = append(vars, tok[1:])
		p.next()
	}
	if !star && len(vars) == 0 {
		return nil, fmt.Errorf("%w: SELECT needs at least one variable", ErrSyntax)
	}

	if strings.EqualFold(p.peek(), "WHERE") {
		p.next()
	}
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	patterns, err := p.parsePatterns()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected %q after WHERE block", ErrSyntax, p.peek())
	}

	if star {
		for _, v := range p.allVars {
			if !strings.HasPrefix(v, "_:") {
				vars = append(vars, v)
			}
		}
	}
	for _, v := range vars {
		if !p.hasVar(v) {
			return nil, fmt.Errorf("%w: variable ?%s is not used in WHERE", ErrSyntax, v)
		}
	}
	return &Query{Vars: vars, patterns: patterns}, nil
}

func (p *parser) hasVar(v string) bool {
	for _, a := range p.allVars {
		if a == v {
			return true
		}
	}
	return false
}

func (p *parser) parsePatterns() ([]pattern, error) {
	var out []pattern
	for {
		if p.peek() == "}" {
			p.next()
			return out, nil
		}
		if p.peek() == "" {
			return nil, fmt.Errorf("%w: unterminated WHERE block", ErrSyntax)
		}
		s, err := p.term(false)
		if err != nil {
			return nil, err
		}
		for {
			pr, err := p.term(true)
			if err != nil {
				return nil, err
			}
			for {
				o, err := p.term(false)
				if err != nil {
					return nil, err
				}
				out = append(out, pattern{s: s, p: pr, o: o})
				if p.peek() != "," {
					break
				}
				p.next()
			}
			if p.peek() != ";" {
				break
			}
			p.next()
			// A trailing ';' before '.' or '}' is allowed.
			if p.peek() == "." || p.peek() == "}" {
				break
			}
		}
		switch p.peek() {
		case ".":
			p.next()
		case "}":
		default:
			return nil, fmt.Errorf("%w: expected '.' or '}', got %q", ErrSyntax, p.peek())
		}
	}
}

func (p *parser) term(predicate bool) (patternTerm, error) {
	tok := p.next()
	switch {
	case tok == "":
		return patternTerm{}, fmt.Errorf("%w: unexpected end of query", ErrSyntax)
	case strings.HasPrefix(tok, "?") || strings.HasPrefix(tok, "$"):
		return p.variable(tok[1:]), nil
	case strings.HasPrefix(tok, "_:"):
		// Blank nodes in patterns behave as anonymous variables.
		return p.variable(tok), nil
	case predicate && tok == "a":
		return patternTerm{key: "i|" + NSRDF + "type"}, nil
	case isIRIRef(tok):
		return patternTerm{key: "i|" + tok[1:len(tok)-1]}, nil
	case strings.HasPrefix(tok, `"`):
		return patternTerm{key: "l|" + tok[1:]}, nil
	case strings.Contains(tok, ":"):
		i := strings.Index(tok, ":")
		ns, ok := p.prefixes[tok[:i]]
		if !ok {
			return patternTerm{}, fmt.Errorf("%w: undeclared prefix %q", ErrSyntax, tok[:i])
		}
		return patternTerm{key: "i|" + ns + tok[i+1:]}, nil
	}
	return patternTerm{}, fmt.Errorf("%w: unexpected token %q", ErrSyntax, tok)
}

func (p *parser) variable(name string) patternTerm {
	if !p.hasVar(name) {
		p.allVars = append(p.allVars, name)
	}
	return patternTerm{variable: name}
}

func isIRIRef(tok string) bool {
	return len(tok) >= 2 && tok[0] == '<' && tok[len(tok)-1] == '>'
}

// tokenize splits a query into IRIs, quoted literals, punctuation and
// bare words. Quoted literals are returned as a leading '"' followed by
// the unescaped lexical form; language tags and datatypes are dropped.
func tokenize(src string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '<':
			j := strings.IndexByte(src[i:], '>')
			if j < 0 {
				return nil, fmt.Errorf("%w: unterminated IRI", ErrSyntax)
			}
			toks = append(toks, src[i:i+j+1])
			i += j + 1
		case c == '"' || c == '\'':
			lit, n, err := readLiteral(src[i:])
			if err != nil {
				return nil, err
			}
			toks = append(toks, `"`+lit)
			i += n
		case strings.IndexByte("{}.;,", c) >= 0:
			toks = append(toks, string(c))
			i++
		default:
			j := i
			for j < len(src) && strings.IndexByte(" \t\r\n<{}.;,\"'#", src[j]) < 0 {
				j++
			}
			toks = append(toks, src[i:j])
			i = j
		}
	}
	return toks, nil
}

func readLiteral(s string) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	i := 1
	for ; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		if c == quote {
			i++
			// Skip a language tag or datatype suffix.
			if i < len(s) && s[i] == '@' {
				for i < len(s) && strings.IndexByte(" \t\r\n.;,}", s[i]) < 0 {
					i++
				}
			} else if strings.HasPrefix(s[i:], "^^") {
				i += 2
				if i < len(s) && s[i] == '<' {
					if j := strings.IndexByte(s[i:], '>'); j >= 0 {
						i += j + 1
					}
				} else {
					for i < len(s) && strings.IndexByte(" \t\r\n.;,}", s[i]) < 0 {
						i++
					}
				}
			}
			return b.String(), i, nil
		}
		b.WriteByte(c)
	}
	return "", 0, fmt.Errorf("%w: unterminated literal", ErrSyntax)
}
