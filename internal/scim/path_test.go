package scim

import (
	"errors"
	"testing"
)

// ============================================================
// Attribute Path Resolver Tests
// ============================================================

func TestResolvePath_SimplePaths(t *testing.T) {
	tests := []struct {
		name string
		path string
		want AttributePath
	}{
		{
			name: "bare attribute",
			path: "userName",
			want: AttributePath{Attr: "userName"},
		},
		{
			name: "dotted sub-attribute",
			path: "name.givenName",
			want: AttributePath{Attr: "name", Sub: "givenName"},
		},
		{
			name: "dotted family name",
			path: "name.familyName",
			want: AttributePath{Attr: "name", Sub: "familyName"},
		},
		{
			name: "active flag",
			path: "active",
			want: AttributePath{Attr: "active"},
		},
		{
			name: "unmapped attribute keeps its spelling",
			path: "emails",
			want: AttributePath{Attr: "emails"},
		},
		{
			name: "urn prefixed attribute",
			path: "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User:department",
			want: AttributePath{
				Attr: "department",
				URI:  "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User",
			},
		},
		{
			name: "urn prefixed sub-attribute",
			path: "urn:ietf:params:scim:schemas:core:2.0:User:name.givenName",
			want: AttributePath{
				Attr: "name",
				Sub:  "givenName",
				URI:  "urn:ietf:params:scim:schemas:core:2.0:User",
			},
		},
		{
			name: "filtered path collapsing to one reference",
			path: `emails[value eq "a@x.com"].value`,
			want: AttributePath{Attr: "emails", Sub: "value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(tt.path, UserAttributeMap())
			if err != nil {
				t.Fatalf("ResolvePath(%q) error: %v", tt.path, err)
			}
			ap, ok := got.(AttributePath)
			if !ok {
				t.Fatalf("ResolvePath(%q) = %T, want AttributePath", tt.path, got)
			}
			if ap != tt.want {
				t.Errorf("ResolvePath(%q) = %+v, want %+v", tt.path, ap, tt.want)
			}
		})
	}
}

func TestResolvePath_CaseInsensitiveCanonicalization(t *testing.T) {
	tests := []struct {
		path string
		want AttributePath
	}{
		{"username", AttributePath{Attr: "userName"}},
		{"USERNAME", AttributePath{Attr: "userName"}},
		{"Name.GivenName", AttributePath{Attr: "name", Sub: "givenName"}},
		{"ACTIVE", AttributePath{Attr: "active"}},
		{"FamilyName", AttributePath{Attr: "familyName"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ResolvePath(tt.path, UserAttributeMap())
			if err != nil {
				t.Fatalf("ResolvePath(%q) error: %v", tt.path, err)
			}
			if got != Path(tt.want) {
				t.Errorf("ResolvePath(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
			if _, ok := UserAttributeMap()[got.(AttributePath)]; !ok {
				t.Errorf("ResolvePath(%q) did not canonicalize to a mapped path", tt.path)
			}
		})
	}
}

func TestResolvePath_ComplexPaths(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		wantFragments []AttributePath
	}{
		{
			name: "membership value filter",
			path: `members[value eq "6784"]`,
			wantFragments: []AttributePath{
				{Attr: "members"},
				{Attr: "members", Sub: "value"},
			},
		},
		{
			name: "type filter with trailing sub-attribute",
			path: `emails[type eq "work"].value`,
			wantFragments: []AttributePath{
				{Attr: "emails", Sub: "value"},
				{Attr: "emails", Sub: "type"},
			},
		},
		{
			name: "compound predicate",
			path: `addresses[type eq "work" and primary eq true]`,
			wantFragments: []AttributePath{
				{Attr: "addresses"},
				{Attr: "addresses", Sub: "type"},
				{Attr: "addresses", Sub: "primary"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(tt.path, GroupAttributeMap())
			if err != nil {
				t.Fatalf("ResolvePath(%q) error: %v", tt.path, err)
			}
			cp, ok := got.(ComplexAttributePath)
			if !ok {
				t.Fatalf("ResolvePath(%q) = %T, want ComplexAttributePath", tt.path, got)
			}
			if cp.Path != tt.path {
				t.Errorf("original path not preserved: got %q, want %q", cp.Path, tt.path)
			}
			if len(cp.Fragments) != len(tt.wantFragments) {
				t.Fatalf("fragments = %+v, want %+v", cp.Fragments, tt.wantFragments)
			}
			for i, want := range tt.wantFragments {
				if cp.Fragments[i] != want {
					t.Errorf("fragment[%d] = %+v, want %+v", i, cp.Fragments[i], want)
				}
			}
		})
	}
}

func TestResolvePath_Malformed(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"whitespace only", "   "},
		{"unterminated filter", `emails[type eq "work"`},
		{"stray operator", "userName/"},
		{"nested too deep", "name.given.extra"},
		{"bare bracket", "["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolvePath(tt.path, UserAttributeMap())
			if err == nil {
				t.Fatalf("ResolvePath(%q) succeeded, want MalformedPath", tt.path)
			}
			if !IsKind(err, KindMalformedPath) {
				t.Errorf("ResolvePath(%q) error = %v, want MalformedPath kind", tt.path, err)
			}
		})
	}
}

func TestResolvePath_EmptyPathDetail(t *testing.T) {
	_, err := ResolvePath("", UserAttributeMap())
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if se.Detail != "No attribute path found in request" {
		t.Errorf("detail = %q", se.Detail)
	}
	if se.ScimType != "invalidPath" {
		t.Errorf("scimType = %q", se.ScimType)
	}
}

func TestAttributePathString(t *testing.T) {
	tests := []struct {
		path AttributePath
		want string
	}{
		{AttributePath{Attr: "userName"}, "userName"},
		{AttributePath{Attr: "name", Sub: "givenName"}, "name.givenName"},
		{AttributePath{Attr: "department", URI: "urn:x"}, "urn:x:department"},
	}
	for _, tt := range tests {
		if got := tt.path.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
