package scim

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/scimgate/scimgate/internal/identity"
)

// SCIM 2.0 core resource schema URNs (RFC 7643)
const (
	UserSchema  = "urn:ietf:params:scim:schemas:core:2.0:User"
	GroupSchema = "urn:ietf:params:scim:schemas:core:2.0:Group"
)

// Meta is the common meta sub-attribute (RFC 7643 3.1)
type Meta struct {
	ResourceType string     `json:"resourceType"`
	Created      *time.Time `json:"created,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
	Location     string     `json:"location,omitempty"`
	Version      string     `json:"version,omitempty"`
}

// Name is the User name sub-attribute
type Name struct {
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
	Formatted  string `json:"formatted,omitempty"`
}

// Email is one entry of the multi-valued emails attribute
type Email struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// MemberRef references a resource from a multi-valued attribute: a group's
// members, or the groups list on a user.
type MemberRef struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
	Ref     string `json:"$ref,omitempty"`
	Type    string `json:"type,omitempty"`
}

// UserResource is the wire form of a SCIM User (RFC 7643 4.1), restricted to
// the attributes this service provisions.
type UserResource struct {
	Schemas     []string    `json:"schemas"`
	ID          string      `json:"id,omitempty"`
	ExternalID  string      `json:"externalId,omitempty"`
	UserName    string      `json:"userName"`
	Name        *Name       `json:"name,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	Active      *bool       `json:"active,omitempty"`
	Password    string      `json:"password,omitempty"`
	Emails      []Email     `json:"emails,omitempty"`
	Groups      []MemberRef `json:"groups,omitempty"`
	Meta        *Meta       `json:"meta,omitempty"`
}

// GroupResource is the wire form of a SCIM Group (RFC 7643 4.2)
type GroupResource struct {
	Schemas     []string    `json:"schemas"`
	ID          string      `json:"id,omitempty"`
	ExternalID  string      `json:"externalId,omitempty"`
	DisplayName string      `json:"displayName"`
	Members     []MemberRef `json:"members,omitempty"`
	Meta        *Meta       `json:"meta,omitempty"`
}

// ListResponse is the SCIM list envelope (RFC 7644 3.4.2)
type ListResponse struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []any    `json:"Resources"`
}

// NewListResponse builds a list envelope around already-serialized resources
func NewListResponse(resources []any, total, startIndex int) *ListResponse {
	if resources == nil {
		resources = []any{}
	}
	return &ListResponse{
		Schemas:      []string{ListResponseSchema},
		TotalResults: total,
		StartIndex:   startIndex,
		ItemsPerPage: len(resources),
		Resources:    resources,
	}
}

// FormatID renders an internal int64 ID in its wire form
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseID parses a wire-form resource ID
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, NotFound("Resource " + raw + " not found")
	}
	return id, nil
}

// UserToResource serializes a user for the wire. groups carries the user's
// memberships, already loaded by the caller.
func UserToResource(u *identity.User, groups []*identity.Group, baseURL string) *UserResource {
	res := &UserResource{
		Schemas:     []string{UserSchema},
		ID:          FormatID(u.ID),
		ExternalID:  u.ScimExternalID,
		UserName:    u.Username,
		DisplayName: u.DisplayName(),
		Active:      boolPtr(u.IsActive),
		Meta:        resourceMeta("User", baseURL+"/Users/"+FormatID(u.ID), u.CreatedAt, u.UpdatedAt),
	}
	if u.FirstName != "" || u.LastName != "" {
		res.Name = &Name{
			GivenName:  u.FirstName,
			FamilyName: u.LastName,
			Formatted:  u.DisplayName(),
		}
	}
	if u.Email != "" {
		res.Emails = []Email{{Value: u.Email, Type: "work", Primary: true}}
	}
	for _, g := range groups {
		res.Groups = append(res.Groups, MemberRef{
			Value:   FormatID(g.ID),
			Display: g.Name,
			Ref:     baseURL + "/Groups/" + FormatID(g.ID),
			Type:    "direct",
		})
	}
	return res
}

// UserFromResource builds a new user from a submitted resource. The password,
// when present, is hashed with bcrypt before it ever reaches a store. Active
// defaults to true when the client omits it.
func UserFromResource(res *UserResource) (*identity.User, error) {
	u := &identity.User{
		Username:       res.UserName,
		ScimExternalID: res.ExternalID,
		IsActive:       true,
	}
	if err := applyResourceFields(u, res); err != nil {
		return nil, err
	}
	return u, nil
}

// ApplyUserResource overwrites a loaded user's provisioned fields from a
// submitted resource, PUT-style. Identity and timestamps stay untouched.
func ApplyUserResource(u *identity.User, res *UserResource) error {
	u.Username = res.UserName
	u.ScimExternalID = res.ExternalID
	u.FirstName = ""
	u.LastName = ""
	u.Email = ""
	u.IsActive = true
	return applyResourceFields(u, res)
}

func applyResourceFields(u *identity.User, res *UserResource) error {
	if res.Name != nil {
		u.FirstName = res.Name.GivenName
		u.LastName = res.Name.FamilyName
	}
	if res.Active != nil {
		u.IsActive = *res.Active
	}
	if len(res.Emails) > 0 {
		entries := make([]emailEntry, 0, len(res.Emails))
		for _, e := range res.Emails {
			entries = append(entries, emailEntry{value: strings.TrimSpace(e.Value), primary: e.Primary})
		}
		email, err := selectEmailEntry(entries)
		if err != nil {
			return err
		}
		u.Email = email
	}
	if res.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(res.Password), bcrypt.DefaultCost)
		if err != nil {
			return BadRequest("Invalid password value")
		}
		u.PasswordHash = string(hash)
	}
	return nil
}

// GroupToResource serializes a group for the wire. members carries the
// resolved member users, already loaded by the caller.
func GroupToResource(g *identity.Group, members []*identity.User, baseURL string) *GroupResource {
	res := &GroupResource{
		Schemas:     []string{GroupSchema},
		ID:          FormatID(g.ID),
		ExternalID:  g.ScimExternalID,
		DisplayName: g.Name,
		Meta:        resourceMeta("Group", baseURL+"/Groups/"+FormatID(g.ID), g.CreatedAt, g.UpdatedAt),
	}
	for _, u := range members {
		res.Members = append(res.Members, MemberRef{
			Value:   FormatID(u.ID),
			Display: u.DisplayName(),
			Ref:     baseURL + "/Users/" + FormatID(u.ID),
			Type:    "User",
		})
	}
	return res
}

// GroupFromResource builds a new group from a submitted resource, returning
// the member IDs the caller must validate against the user store.
func GroupFromResource(res *GroupResource) (*identity.Group, []int64, error) {
	g := &identity.Group{
		Name:           res.DisplayName,
		ScimExternalID: res.ExternalID,
	}
	ids := make([]int64, 0, len(res.Members))
	seen := make(map[int64]struct{}, len(res.Members))
	for _, m := range res.Members {
		id, err := memberID(m.Value)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return g, ids, nil
}

func resourceMeta(resourceType, location string, created, modified time.Time) *Meta {
	m := &Meta{
		ResourceType: resourceType,
		Location:     location,
	}
	if !created.IsZero() {
		m.Created = &created
	}
	if !modified.IsZero() {
		m.LastModified = &modified
		m.Version = `W/"` + strconv.FormatInt(modified.UnixNano(), 10) + `"`
	}
	return m
}

func boolPtr(b bool) *bool {
	return &b
}
