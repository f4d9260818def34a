package scim

import (
	"fmt"
	"strings"
)

// Path is a resolved SCIM attribute path. It has exactly two variants:
// AttributePath for expressions that reduce to a single attribute reference,
// and ComplexAttributePath for expressions that do not. Consumers must
// type-switch over both.
type Path interface {
	isPath()
}

// AttributePath is a canonical reference to a SCIM attribute: the attribute
// name, an optional sub-attribute, and an optional schema URI. An empty
// string means the component is absent. The zero components make it a valid
// map key; equality is structural.
type AttributePath struct {
	Attr string
	Sub  string
	URI  string
}

func (AttributePath) isPath() {}

// String renders the path in SCIM notation
func (p AttributePath) String() string {
	s := p.Attr
	if p.Sub != "" {
		s = s + "." + p.Sub
	}
	if p.URI != "" {
		s = p.URI + ":" + s
	}
	return s
}

// ComplexAttributePath is returned when a path expression cannot be reduced
// to a single attribute reference, typically because it carries a filter
// predicate over a multi-valued attribute. It preserves the original
// expression and every attribute reference found in it, in order of first
// appearance, so no information is lost. It never resolves to one field;
// handlers must recognize and explicitly reject or handle it.
type ComplexAttributePath struct {
	Path      string
	Fragments []AttributePath
}

func (ComplexAttributePath) isPath() {}

// String returns the original path expression
func (p ComplexAttributePath) String() string {
	return p.Path
}

// AttributeMap translates canonical attribute paths to internal field
// identifiers for one resource type. Maps are defined once per resource
// type and never mutated at runtime.
type AttributeMap map[AttributePath]string

// ResolvePath parses a SCIM path expression (dotted sub-attributes, bracketed
// value filters, optional URN namespace prefix) and reduces it to a Path.
//
// The underlying grammar wants a complete filter expression, so a trivial
// `eq ""` comparison is appended before parsing; bare attribute names and
// dotted paths therefore parse fine. The parse yields the set of distinct
// attribute references in the expression:
//
//   - exactly one reference: an AttributePath
//   - zero references: a MalformedPath error
//   - more than one: a ComplexAttributePath carrying the original string
//
// Attribute and sub-attribute names are matched case-insensitively against
// am and canonicalized to the map's spelling when they hit, since SCIM
// attribute names are case-insensitive (RFC 7643 2.1). Names not in the map
// keep their submitted casing.
func ResolvePath(path string, am AttributeMap) (Path, error) {
	if strings.TrimSpace(path) == "" {
		return nil, MalformedPath("No attribute path found in request")
	}

	p := newPathParser(path + ` eq ""`)
	fragments, err := p.Parse()
	if err != nil {
		return nil, MalformedPath(fmt.Sprintf("Unable to parse path %q: %s", path, err))
	}

	canonical := make([]AttributePath, 0, len(fragments))
	for _, f := range fragments {
		canonical = append(canonical, am.canonicalize(f))
	}
	canonical = dedupeFragments(canonical)

	switch len(canonical) {
	case 0:
		return nil, MalformedPath("No attribute path found in request")
	case 1:
		return canonical[0], nil
	default:
		return ComplexAttributePath{Path: path, Fragments: canonical}, nil
	}
}

// canonicalize returns the map's spelling for a case-insensitive match,
// or the fragment unchanged when no key matches.
func (am AttributeMap) canonicalize(f AttributePath) AttributePath {
	if _, ok := am[f]; ok {
		return f
	}
	for key := range am {
		if strings.EqualFold(key.Attr, f.Attr) && strings.EqualFold(key.Sub, f.Sub) && strings.EqualFold(key.URI, f.URI) {
			return key
		}
	}
	return f
}

// dedupeFragments removes structural duplicates, preserving first-appearance order
func dedupeFragments(fragments []AttributePath) []AttributePath {
	seen := make(map[AttributePath]struct{}, len(fragments))
	out := fragments[:0]
	for _, f := range fragments {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
