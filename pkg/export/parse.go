package export

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidTurtle is returned when a document cannot be parsed.
var ErrInvalidTurtle = errors.New("invalid turtle")

// TermKind distinguishes the node kinds of a triple.
type TermKind int

const (
	TermIRI TermKind = iota
	TermBlank
	TermLiteral
)

// Term is one position of a triple. IRIs are always expanded.
type Term struct {
	Kind     TermKind
	Value    string
	Datatype string
	Lang     string
}

// Triple is a single subject-predicate-object statement.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

const (
	rdfType    = NamespaceRDF + "type"
	rdfLangStr = NamespaceRDF + "langString"
	xsdString  = NamespaceXSD + "string"
	xsdInteger = NamespaceXSD + "integer"
	xsdDecimal = NamespaceXSD + "decimal"
	xsdDouble  = NamespaceXSD + "double"
	xsdBoolean = NamespaceXSD + "boolean"
	eofRune    = rune(-1)
)

type parser struct {
	src      string
	pos      int
	line     int
	prefixes map[string]string
	triples  []Triple
}

// ParseTurtle parses a Turtle document into triples. It supports prefix
// directives, predicate and object lists, IRIs, prefixed names, blank node
// labels and literals with escapes, language tags and datatypes. Collections
// and anonymous blank nodes are not supported.
func ParseTurtle(text string) ([]Triple, error) {
	p := &parser{
		src:      text,
		line:     1,
		prefixes: make(map[string]string),
	}
	for {
		p.skipSpace()
		if p.peek() == eofRune {
			return p.triples, nil
		}
		if err := p.statement(); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidTurtle, p.line, err)
		}
	}
}

func (p *parser) peek() rune {
	if p.pos >= len(p.src) {
		return eofRune
	}
	r, _ := utf8.DecodeRuneInString(p.src[p.pos:])
	return r
}

func (p *parser) next() rune {
	if p.pos >= len(p.src) {
		return eofRune
	}
	r, size := utf8.DecodeRuneInString(p.src[p.pos:])
	p.pos += size
	if r == '\n' {
		p.line++
	}
	return r
}

func (p *parser) hasPrefix(s string) bool {
	return strings.HasPrefix(p.src[p.pos:], s)
}

func (p *parser) skipSpace() {
	for {
		r := p.peek()
		switch {
		case r == '#':
			for r != '\n' && r != eofRune {
				p.next()
				r = p.peek()
			}
		case r != eofRune && unicode.IsSpace(r):
			p.next()
		default:
			return
		}
	}
}

func (p *parser) expect(r rune) error {
	p.skipSpace()
	if got := p.next(); got != r {
		return fmt.Errorf("expected %q, got %q", r, got)
	}
	return nil
}

func (p *parser) statement() error {
	switch {
	case p.hasPrefix("@prefix"):
		p.pos += len("@prefix")
		return p.prefixDirective(true)
	case hasKeyword(p.src[p.pos:], "PREFIX"):
		p.pos += len("PREFIX")
		return p.prefixDirective(false)
	case p.hasPrefix("@base"), hasKeyword(p.src[p.pos:], "BASE"):
		return errors.New("base directives are not supported")
	}

	subject, err := p.subject()
	if err != nil {
		return err
	}
	if err := p.predicateObjectList(subject); err != nil {
		return err
	}
	return p.expect('.')
}

func hasKeyword(s, kw string) bool {
	if len(s) <= len(kw) || !strings.EqualFold(s[:len(kw)], kw) {
		return false
	}
	return unicode.IsSpace(rune(s[len(kw)]))
}

func (p *parser) prefixDirective(dotted bool) error {
	p.skipSpace()
	start := p.pos
	for p.peek() != ':' {
		r := p.next()
		if r == eofRune || unicode.IsSpace(r) {
			return errors.New("malformed prefix name")
		}
	}
	name := p.src[start:p.pos]
	p.next()

	p.skipSpace()
	iri, err := p.iriRef()
	if err != nil {
		return err
	}
	p.prefixes[name] = iri
	if dotted {
		return p.expect('.')
	}
	return nil
}

func (p *parser) subject() (Term, error) {
	p.skipSpace()
	switch r := p.peek(); {
	case r == '<':
		iri, err := p.iriRef()
		return Term{Kind: TermIRI, Value: iri}, err
	case p.hasPrefix("_:"):
		return p.blank()
	case r == '[' || r == '(':
		return Term{}, errors.New("anonymous blank nodes and collections are not supported")
	default:
		return p.prefixedName()
	}
}

func (p *parser) predicate() (Term, error) {
	p.skipSpace()
	if p.peek() == 'a' {
		rest := p.src[p.pos+1:]
		if rest == "" || unicode.IsSpace(rune(rest[0])) || rest[0] == '<' {
			p.next()
			return Term{Kind: TermIRI, Value: rdfType}, nil
		}
	}
	if p.peek() == '<' {
		iri, err := p.iriRef()
		return Term{Kind: TermIRI, Value: iri}, err
	}
	return p.prefixedName()
}

func (p *parser) predicateObjectList(subject Term) error {
	for {
		pred, err := p.predicate()
		if err != nil {
			return err
		}
		for {
			obj, err := p.object()
			if err != nil {
				return err
			}
			p.triples = append(p.triples, Triple{Subject: subject, Predicate: pred, Object: obj})

			p.skipSpace()
			if p.peek() != ',' {
				break
			}
			p.next()
		}

		p.skipSpace()
		if p.peek() != ';' {
			return nil
		}
		for p.peek() == ';' {
			p.next()
			p.skipSpace()
		}
		if p.peek() == '.' || p.peek() == ']' {
			return nil
		}
	}
}

func (p *parser) object() (Term, error) {
	p.skipSpace()
	r := p.peek()
	switch {
	case r == '<':
		iri, err := p.iriRef()
		return Term{Kind: TermIRI, Value: iri}, err
	case p.hasPrefix("_:"):
		return p.blank()
	case r == '"' || r == '\'':
		return p.literal()
	case r == '+' || r == '-' || r == '.' || isASCIIDigit(r):
		return p.number()
	case p.hasPrefix("true") && !isNameRune(runeAt(p.src, p.pos+4)):
		p.pos += 4
		return Term{Kind: TermLiteral, Value: "true", Datatype: xsdBoolean}, nil
	case p.hasPrefix("false") && !isNameRune(runeAt(p.src, p.pos+5)):
		p.pos += 5
		return Term{Kind: TermLiteral, Value: "false", Datatype: xsdBoolean}, nil
	case r == '[' || r == '(':
		return Term{}, errors.New("anonymous blank nodes and collections are not supported")
	default:
		return p.prefixedName()
	}
}

func runeAt(s string, i int) rune {
	if i >= len(s) {
		return eofRune
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r
}

func (p *parser) iriRef() (string, error) {
	if p.next() != '<' {
		return "", errors.New("expected IRI")
	}
	start := p.pos
	for {
		r := p.next()
		switch {
		case r == eofRune || r == '\n':
			return "", errors.New("unterminated IRI")
		case r == '>':
			return p.src[start : p.pos-1], nil
		case r == ' ' || r == '"' || r == '<':
			return "", fmt.Errorf("illegal character %q in IRI", r)
		}
	}
}

func isNameRune(r rune) bool {
	return r == '_' || r == '-' || r == '.' || r == ':' || r == '%' ||
		unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (p *parser) readName() string {
	start := p.pos
	for isNameRune(p.peek()) {
		p.next()
	}
	// a trailing dot terminates the statement
	for p.pos > start && p.src[p.pos-1] == '.' {
		p.pos--
	}
	return p.src[start:p.pos]
}

func (p *parser) prefixedName() (Term, error) {
	name := p.readName()
	prefix, local, ok := strings.Cut(name, ":")
	if !ok {
		if name == "" {
			return Term{}, fmt.Errorf("unexpected %q", p.peek())
		}
		return Term{}, fmt.Errorf("%q is not a prefixed name", name)
	}
	ns, known := p.prefixes[prefix]
	if !known {
		return Term{}, fmt.Errorf("unknown prefix %q", prefix)
	}
	return Term{Kind: TermIRI, Value: ns + local}, nil
}

func (p *parser) blank() (Term, error) {
	p.pos += 2
	name := p.readName()
	if name == "" {
		return Term{}, errors.New("empty blank node label")
	}
	return Term{Kind: TermBlank, Value: name}, nil
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func (p *parser) digits() int {
	n := 0
	for isASCIIDigit(p.peek()) {
		p.next()
		n++
	}
	return n
}

// number reads an INTEGER, DECIMAL or DOUBLE token. A dot not followed by a
// digit ends the statement instead.
func (p *parser) number() (Term, error) {
	start := p.pos
	if r := p.peek(); r == '+' || r == '-' {
		p.next()
	}
	datatype := xsdInteger
	whole := p.digits()
	fraction := 0
	if p.peek() == '.' && isASCIIDigit(runeAt(p.src, p.pos+1)) {
		p.next()
		fraction = p.digits()
		datatype = xsdDecimal
	}
	if whole == 0 && fraction == 0 {
		return Term{}, errors.New("malformed number")
	}
	if r := p.peek(); r == 'e' || r == 'E' {
		p.next()
		if s := p.peek(); s == '+' || s == '-' {
			p.next()
		}
		if p.digits() == 0 {
			return Term{}, fmt.Errorf("malformed number %q: missing exponent digits", p.src[start:p.pos])
		}
		datatype = xsdDouble
	}
	return Term{Kind: TermLiteral, Value: p.src[start:p.pos], Datatype: datatype}, nil
}

func (p *parser) literal() (Term, error) {
	quoteRune := p.next()
	long := false
	delim := string([]rune{quoteRune, quoteRune, quoteRune})
	if p.hasPrefix(delim[1:]) {
		long = true
		p.pos += 2
	}

	var b strings.Builder
	for {
		if long && p.hasPrefix(delim) {
			p.pos += 3
			break
		}
		r := p.next()
		if r == eofRune {
			return Term{}, errors.New("unterminated string")
		}
		if !long && r == quoteRune {
			break
		}
		if !long && r == '\n' {
			return Term{}, errors.New("newline in short string")
		}
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		esc, err := p.escape()
		if err != nil {
			return Term{}, err
		}
		b.WriteRune(esc)
	}

	term := Term{Kind: TermLiteral, Value: b.String()}
	switch {
	case p.peek() == '@':
		p.next()
		term.Lang = p.readName()
		term.Datatype = rdfLangStr
	case p.hasPrefix("^^"):
		p.pos += 2
		var dt Term
		var err error
		if p.peek() == '<' {
			var iri string
			iri, err = p.iriRef()
			dt = Term{Kind: TermIRI, Value: iri}
		} else {
			dt, err = p.prefixedName()
		}
		if err != nil {
			return Term{}, err
		}
		term.Datatype = dt.Value
	default:
		term.Datatype = xsdString
	}
	return term, nil
}

func (p *parser) escape() (rune, error) {
	r := p.next()
	switch r {
	case 't':
		return '\t', nil
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 'b':
		return '\b', nil
	case 'f':
		return '\f', nil
	case '"', '\'', '\\':
		return r, nil
	case 'u', 'U':
		n := 4
		if r == 'U' {
			n = 8
		}
		if p.pos+n > len(p.src) {
			return 0, errors.New("short unicode escape")
		}
		var code rune
		for _, h := range p.src[p.pos : p.pos+n] {
			code <<= 4
			switch {
			case h >= '0' && h <= '9':
				code |= h - '0'
			case h >= 'a' && h <= 'f':
				code |= h - 'a' + 10
			case h >= 'A' && h <= 'F':
				code |= h - 'A' + 10
			default:
				return 0, fmt.Errorf("bad hex digit %q", h)
			}
		}
		p.pos += n
		return code, nil
	default:
		return 0, fmt.Errorf("unknown escape \\%c", r)
	}
}
