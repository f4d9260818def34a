package scim

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/scimgate/scimgate/internal/identity"
)

// groupAttributeMap covers the one directly-assignable Group attribute.
// Membership is not a mapped field; the members path is hand-handled below.
var groupAttributeMap = AttributeMap{
	{Attr: "name"}:        "name",
	{Attr: "displayName"}: "name",
}

// GroupAttributeMap returns the static attribute map for the Group resource type
func GroupAttributeMap() AttributeMap {
	return groupAttributeMap
}

// GroupHandler applies PATCH operations to one group. Membership adds and
// removes mutate the in-memory group only; the caller persists. A name
// replace saves immediately, mirroring the User replace handler.
type GroupHandler struct {
	group  *identity.Group
	users  identity.UserStore
	groups identity.GroupStore
}

var _ ResourceHandler = (*GroupHandler)(nil)

// NewGroupHandler wraps a loaded group for PATCH application
func NewGroupHandler(group *identity.Group, users identity.UserStore, groups identity.GroupStore) *GroupHandler {
	return &GroupHandler{group: group, users: users, groups: groups}
}

// AttributeMap returns the Group attribute map
func (h *GroupHandler) AttributeMap() AttributeMap {
	return groupAttributeMap
}

// HandleAdd adds members to the group. Every referenced user ID must resolve
// to an existing user before any membership changes; a single bad reference
// fails the whole operation with no partial add.
func (h *GroupHandler) HandleAdd(ctx context.Context, path Path, value any) error {
	if !isMembersPath(path) {
		return NotImplemented(fmt.Sprintf("Add is not supported for Group path %q", pathString(path)))
	}

	ids, err := parseMemberIDs(value)
	if err != nil {
		return err
	}
	found, err := h.users.ByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) < len(ids) {
		return BadRequest("Can not add a non-existent user to group")
	}
	for _, u := range found {
		h.group.AddMember(u.ID)
	}
	return nil
}

// HandleRemove removes members from the group, with the same all-or-nothing
// existence check as HandleAdd. Removing a user who is not a member is a
// no-op as long as the user exists.
func (h *GroupHandler) HandleRemove(ctx context.Context, path Path, value any) error {
	if !isMembersPath(path) {
		return NotImplemented(fmt.Sprintf("Remove is not supported for Group path %q", pathString(path)))
	}

	ids, err := parseMemberIDs(value)
	if err != nil {
		return err
	}
	found, err := h.users.ByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) < len(ids) {
		return BadRequest("Can not remove a non-existent user from group")
	}
	for _, u := range found {
		h.group.RemoveMember(u.ID)
	}
	return nil
}

// HandleReplace supports replacing the group name only. The wire form is a
// list whose first element carries the new name under a value key; the group
// is saved as soon as the name is assigned.
func (h *GroupHandler) HandleReplace(ctx context.Context, values []PathValue) error {
	for _, pv := range values {
		p, ok := pv.Path.(AttributePath)
		if !ok || groupAttributeMap[p] != "name" {
			return NotImplemented(fmt.Sprintf("Replace is not supported for Group path %q", pathString(pv.Path)))
		}

		name, err := firstListValue(pv.Value)
		if err != nil {
			return err
		}
		h.group.Name = name
		if err := h.groups.Save(ctx, h.group); err != nil {
			return err
		}
	}
	return nil
}

// isMembersPath reports whether the path is the bare, unqualified members
// attribute
func isMembersPath(path Path) bool {
	p, ok := path.(AttributePath)
	return ok && strings.EqualFold(p.Attr, "members") && p.Sub == "" && p.URI == ""
}

// parseMemberIDs extracts the integer user IDs from a member reference list,
// deduplicating repeated references. An absent value is an empty member
// list; IdPs do send member operations with no value at all.
func parseMemberIDs(value any) ([]int64, error) {
	if value == nil {
		return nil, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, BadRequest("Invalid member list")
	}

	seen := make(map[int64]struct{}, len(list))
	ids := make([]int64, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, BadRequest("Invalid member reference")
		}
		id, err := memberID(m["value"])
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// memberID parses a member reference value as an integer user ID. Decoded
// JSON delivers the value as a string, a float64, or a json.Number depending
// on the decode path, so all three are accepted.
func memberID(value any) (int64, error) {
	switch v := value.(type) {
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, BadRequest(fmt.Sprintf("Invalid member value %q", v))
		}
		return id, nil
	case float64:
		return int64(v), nil
	case json.Number:
		id, err := v.Int64()
		if err != nil {
			return 0, BadRequest(fmt.Sprintf("Invalid member value %v", value))
		}
		return id, nil
	default:
		return 0, BadRequest(fmt.Sprintf("Invalid member value %v", value))
	}
}

// firstListValue pulls the value field off the first element of a list
func firstListValue(value any) (string, error) {
	list, ok := value.([]any)
	if !ok || len(list) == 0 {
		return "", BadRequest("Invalid replace value")
	}
	m, ok := list[0].(map[string]any)
	if !ok {
		return "", BadRequest("Invalid replace value")
	}
	s, ok := m["value"].(string)
	if !ok {
		return "", BadRequest("Invalid replace value")
	}
	return s, nil
}
