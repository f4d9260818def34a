package scim

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/scimgate/scimgate/internal/identity"
)

// userAttributeMap translates the canonical User attribute paths to the
// internal field identifiers they assign. Both the nested and the flattened
// spellings of the name sub-attributes are accepted.
var userAttributeMap = AttributeMap{
	{Attr: "userName"}:                "username",
	{Attr: "name", Sub: "familyName"}: "last_name",
	{Attr: "familyName"}:              "last_name",
	{Attr: "name", Sub: "givenName"}:  "first_name",
	{Attr: "givenName"}:               "first_name",
	{Attr: "active"}:                  "is_active",
}

// UserAttributeMap returns the static attribute map for the User resource
// type. The same table drives PATCH field assignment and full-resource
// ingestion.
func UserAttributeMap() AttributeMap {
	return userAttributeMap
}

// UserHandler applies PATCH operations to one user. Replace is the only
// mutating op the User resource supports; it persists the user itself once
// all pairs have been applied.
type UserHandler struct {
	user  *identity.User
	users identity.UserStore
}

var _ ResourceHandler = (*UserHandler)(nil)

// NewUserHandler wraps a loaded user for PATCH application
func NewUserHandler(user *identity.User, users identity.UserStore) *UserHandler {
	return &UserHandler{user: user, users: users}
}

// AttributeMap returns the User attribute map
func (h *UserHandler) AttributeMap() AttributeMap {
	return userAttributeMap
}

// HandleAdd rejects every add; User supports replace only
func (h *UserHandler) HandleAdd(ctx context.Context, path Path, value any) error {
	return NotImplemented(fmt.Sprintf("Add is not supported for User path %q", pathString(path)))
}

// HandleRemove rejects every remove; User supports replace only
func (h *UserHandler) HandleRemove(ctx context.Context, path Path, value any) error {
	return NotImplemented(fmt.Sprintf("Remove is not supported for User path %q", pathString(path)))
}

// HandleReplace assigns each (path, value) pair to its mapped field, routes
// the emails path through the email selection rule, and rejects everything
// else. The user is saved after all pairs applied.
func (h *UserHandler) HandleReplace(ctx context.Context, values []PathValue) error {
	for _, pv := range values {
		switch p := pv.Path.(type) {
		case AttributePath:
			if field, ok := userAttributeMap[p]; ok {
				if err := h.setField(field, pv.Value); err != nil {
					return err
				}
				continue
			}
			if strings.EqualFold(p.Attr, "emails") && p.Sub == "" && p.URI == "" {
				email, err := SelectEmail(pv.Value)
				if err != nil {
					return err
				}
				h.user.Email = email
				continue
			}
			return NotImplemented(fmt.Sprintf("Replace is not supported for User path %q", p))
		case ComplexAttributePath:
			return NotImplemented(fmt.Sprintf("Replace is not supported for filtered User path %q", p))
		default:
			return NotImplemented("Replace is not supported for an unresolved User path")
		}
	}
	return h.users.Save(ctx, h.user)
}

// setField assigns a decoded JSON value to a mapped user field
func (h *UserHandler) setField(field string, value any) error {
	switch field {
	case "username":
		s, ok := value.(string)
		if !ok {
			return BadRequest(fmt.Sprintf("Invalid value for userName: %v", value))
		}
		h.user.Username = s
	case "first_name":
		s, ok := value.(string)
		if !ok {
			return BadRequest(fmt.Sprintf("Invalid value for givenName: %v", value))
		}
		h.user.FirstName = s
	case "last_name":
		s, ok := value.(string)
		if !ok {
			return BadRequest(fmt.Sprintf("Invalid value for familyName: %v", value))
		}
		h.user.LastName = s
	case "is_active":
		b, ok := coerceBool(value)
		if !ok {
			return BadRequest(fmt.Sprintf("Invalid value for active: %v", value))
		}
		h.user.IsActive = b
	default:
		return NotImplemented(fmt.Sprintf("No assignment for field %q", field))
	}
	return nil
}

// coerceBool accepts a JSON boolean or its common string spellings. Azure AD
// is known to send active as the strings "True"/"False".
func coerceBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// SelectEmail reduces a SCIM emails payload to the single address the user
// record stores. A list of entries is partitioned into primary and
// non-primary, each partition stable-sorted ascending by value, primary
// first, and the first entry wins. A bare object with a value key, a
// non-conformant form some clients send, is taken directly. The selected
// address must parse as an RFC 5322 address.
func SelectEmail(value any) (string, error) {
	switch v := value.(type) {
	case []any:
		entries := make([]emailEntry, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			addr, ok := m["value"].(string)
			if !ok {
				continue
			}
			primary, _ := coerceBool(m["primary"])
			entries = append(entries, emailEntry{value: strings.TrimSpace(addr), primary: primary})
		}
		return selectEmailEntry(entries)
	case map[string]any:
		addr, ok := v["value"].(string)
		if !ok {
			return "", BadRequest("Invalid email value")
		}
		return validateEmail(strings.TrimSpace(addr))
	default:
		return "", BadRequest("Invalid email value")
	}
}

type emailEntry struct {
	value   string
	primary bool
}

// selectEmailEntry applies the partition-sort-pick rule to a parsed entry list
func selectEmailEntry(entries []emailEntry) (string, error) {
	if len(entries) == 0 {
		return "", BadRequest("Invalid email value")
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].primary != entries[j].primary {
			return entries[i].primary
		}
		return entries[i].value < entries[j].value
	})
	return validateEmail(entries[0].value)
}

// validateEmail checks the selected address parses as an RFC 5322 address
func validateEmail(addr string) (string, error) {
	if _, err := mail.ParseAddress(addr); err != nil {
		return "", BadRequest("Invalid email value")
	}
	return addr, nil
}

// pathString renders a possibly-nil path for error details
func pathString(path Path) string {
	if path == nil {
		return ""
	}
	switch p := path.(type) {
	case AttributePath:
		return p.String()
	case ComplexAttributePath:
		return p.String()
	default:
		return fmt.Sprintf("%v", path)
	}
}
