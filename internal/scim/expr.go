package scim

import (
	"fmt"
	"strings"
	"unicode"
)

// pathParser is a recursive descent parser for SCIM path/filter expressions
// (RFC 7644 3.4.2.2 and the PATCH path grammar of 3.5.2). It parses the
// expression and records every attribute reference it encounters, in order
// of appearance. Callers append a trivial comparison to bare paths so the
// input is always a complete filter expression.
type pathParser struct {
	input     string
	pos       int
	fragments []AttributePath

	// base is set while parsing inside a bracketed value filter; attribute
	// names seen there are sub-attributes of base. Brackets do not nest.
	base *AttributePath
}

func newPathParser(input string) *pathParser {
	return &pathParser{input: strings.TrimSpace(input)}
}

// Parse parses the expression and returns the attribute references found
func (p *pathParser) Parse() ([]AttributePath, error) {
	if p.input == "" {
		return nil, fmt.Errorf("empty expression")
	}

	if err := p.parseOrExpression(); err != nil {
		return nil, err
	}

	p.skipWhitespace()
	if p.pos < len(p.input) {
		return nil, fmt.Errorf("unexpected character at position %d: %c", p.pos, p.input[p.pos])
	}

	return p.fragments, nil
}

// parseOrExpression parses OR expressions (lowest precedence)
func (p *pathParser) parseOrExpression() error {
	if err := p.parseAndExpression(); err != nil {
		return err
	}

	for {
		p.skipWhitespace()
		if !p.consumeKeyword("or") {
			return nil
		}
		if err := p.parseAndExpression(); err != nil {
			return err
		}
	}
}

// parseAndExpression parses AND expressions
func (p *pathParser) parseAndExpression() error {
	if err := p.parseNotExpression(); err != nil {
		return err
	}

	for {
		p.skipWhitespace()
		if !p.consumeKeyword("and") {
			return nil
		}
		if err := p.parseNotExpression(); err != nil {
			return err
		}
	}
}

// parseNotExpression parses NOT expressions
func (p *pathParser) parseNotExpression() error {
	p.skipWhitespace()
	if p.consumeKeyword("not") {
		p.skipWhitespace()
		if !p.consumeByte('(') {
			return fmt.Errorf("expected '(' after 'not'")
		}
		if err := p.parseOrExpression(); err != nil {
			return err
		}
		p.skipWhitespace()
		if !p.consumeByte(')') {
			return fmt.Errorf("expected ')' after not expression")
		}
		return nil
	}

	return p.parsePrimaryExpression()
}

// parsePrimaryExpression parses parenthesized expressions or attribute comparisons
func (p *pathParser) parsePrimaryExpression() error {
	p.skipWhitespace()

	if p.consumeByte('(') {
		if err := p.parseOrExpression(); err != nil {
			return err
		}
		p.skipWhitespace()
		if !p.consumeByte(')') {
			return fmt.Errorf("expected ')' to close parenthesized expression")
		}
		return nil
	}

	return p.parseAttributeExpression()
}

// parseAttributeExpression parses one attribute reference followed by an
// operator and, unless the operator is "pr", a comparison value. The
// reference may carry a URN namespace prefix, a bracketed value filter,
// and a dotted sub-attribute.
func (p *pathParser) parseAttributeExpression() error {
	uri, attr, sub, err := p.parseAttributeName()
	if err != nil {
		return err
	}

	if p.base != nil {
		// Inside a value filter the name is a sub-attribute of the base.
		if sub != "" {
			return fmt.Errorf("nested sub-attribute %q.%q inside value filter", attr, sub)
		}
		p.fragments = append(p.fragments, AttributePath{Attr: p.base.Attr, Sub: attr, URI: p.base.URI})
	} else if p.peekByte('[') {
		if sub != "" {
			return fmt.Errorf("value filter must follow the attribute, not a sub-attribute")
		}
		mark := len(p.fragments)
		if err := p.parseValueFilter(AttributePath{Attr: attr, URI: uri}); err != nil {
			return err
		}
		// Optional sub-attribute after the closing bracket.
		if p.consumeByte('.') {
			_, trailing, trailingSub, err := p.parseAttributeName()
			if err != nil {
				return err
			}
			if trailingSub != "" {
				return fmt.Errorf("sub-attribute %q.%q is nested too deep", trailing, trailingSub)
			}
			sub = trailing
		}
		// The base reference is recorded ahead of the predicate references.
		base := AttributePath{Attr: attr, Sub: sub, URI: uri}
		p.fragments = append(p.fragments, AttributePath{})
		copy(p.fragments[mark+1:], p.fragments[mark:])
		p.fragments[mark] = base
	} else {
		p.fragments = append(p.fragments, AttributePath{Attr: attr, Sub: sub, URI: uri})
	}

	p.skipWhitespace()
	op, err := p.parseOperator()
	if err != nil {
		return err
	}
	if op == "pr" {
		return nil
	}

	p.skipWhitespace()
	if err := p.parseValue(); err != nil {
		return fmt.Errorf("failed to parse value: %w", err)
	}
	return nil
}

// parseValueFilter parses a bracketed predicate, recording its attribute
// references as sub-attributes of base.
func (p *pathParser) parseValueFilter(base AttributePath) error {
	if !p.consumeByte('[') {
		return fmt.Errorf("expected '[' at position %d", p.pos)
	}
	if p.base != nil {
		return fmt.Errorf("nested value filter at position %d", p.pos)
	}

	// Predicate references accumulate after any already-recorded ones;
	// parseAttributeExpression prepends the base afterwards.
	p.base = &base
	err := p.parseOrExpression()
	p.base = nil
	if err != nil {
		return err
	}

	p.skipWhitespace()
	if !p.consumeByte(']') {
		return fmt.Errorf("expected ']' to close value filter")
	}
	return nil
}

// parseAttributeName parses an attribute name token: an optional URN prefix
// (split at the final colon), the attribute, and an optional dotted
// sub-attribute.
func (p *pathParser) parseAttributeName() (uri, attr, sub string, err error) {
	p.skipWhitespace()

	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) || c == '_' || c == '-' || c == '.' || c == ':' {
			p.pos++
		} else {
			break
		}
	}
	if p.pos == start {
		return "", "", "", fmt.Errorf("expected attribute name at position %d", p.pos)
	}

	token := p.input[start:p.pos]
	if i := strings.LastIndexByte(token, ':'); i >= 0 {
		uri, token = token[:i], token[i+1:]
		if uri == "" || token == "" {
			return "", "", "", fmt.Errorf("malformed URN prefix at position %d", start)
		}
	}

	parts := strings.Split(token, ".")
	switch len(parts) {
	case 1:
		attr = parts[0]
	case 2:
		attr, sub = parts[0], parts[1]
	default:
		return "", "", "", fmt.Errorf("attribute path %q is nested too deep", token)
	}
	if attr == "" || (len(parts) == 2 && sub == "") {
		return "", "", "", fmt.Errorf("malformed attribute name at position %d", start)
	}
	return uri, attr, sub, nil
}

var comparisonOperators = []string{"eq", "ne", "co", "sw", "ew", "gt", "ge", "lt", "le", "pr"}

// parseOperator parses a comparison operator, case-insensitively
func (p *pathParser) parseOperator() (string, error) {
	if p.pos+2 > len(p.input) {
		return "", fmt.Errorf("unexpected end of input while parsing operator")
	}

	twoChars := strings.ToLower(p.input[p.pos : p.pos+2])
	for _, op := range comparisonOperators {
		if twoChars == op && p.atBoundary(p.pos+2) {
			p.pos += 2
			return op, nil
		}
	}
	return "", fmt.Errorf("invalid operator at position %d", p.pos)
}

// parseValue parses a comparison value: a quoted string or a bare token
// (boolean, number, null).
func (p *pathParser) parseValue() error {
	if p.pos >= len(p.input) {
		return fmt.Errorf("unexpected end of input while parsing value")
	}

	if p.input[p.pos] == '"' {
		return p.parseQuotedString()
	}

	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if unicode.IsSpace(rune(c)) || c == ')' || c == ']' {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return fmt.Errorf("expected value at position %d", p.pos)
	}
	return nil
}

// parseQuotedString consumes a double-quoted string with backslash escapes
func (p *pathParser) parseQuotedString() error {
	p.pos++ // opening quote
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case '\\':
			p.pos += 2
		case '"':
			p.pos++
			return nil
		default:
			p.pos++
		}
	}
	return fmt.Errorf("unterminated quoted string")
}

// skipWhitespace skips whitespace characters
func (p *pathParser) skipWhitespace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

// consumeKeyword consumes a keyword if the next characters match it
// case-insensitively at a word boundary.
func (p *pathParser) consumeKeyword(keyword string) bool {
	end := p.pos + len(keyword)
	if end > len(p.input) {
		return false
	}
	if !strings.EqualFold(p.input[p.pos:end], keyword) {
		return false
	}
	if !p.atBoundary(end) {
		return false
	}
	p.pos = end
	return true
}

// atBoundary reports whether position i ends a word
func (p *pathParser) atBoundary(i int) bool {
	if i >= len(p.input) {
		return true
	}
	c := p.input[i]
	return unicode.IsSpace(rune(c)) || c == '(' || c == ')' || c == ']' || c == '"'
}

// consumeByte consumes the byte if it is next in the input
func (p *pathParser) consumeByte(expected byte) bool {
	if p.pos >= len(p.input) || p.input[p.pos] != expected {
		return false
	}
	p.pos++
	return true
}

// peekByte reports whether the byte is next in the input
func (p *pathParser) peekByte(expected byte) bool {
	return p.pos < len(p.input) && p.input[p.pos] == expected
}
