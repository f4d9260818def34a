// Package identity holds the user and group records the provisioning
// service manages, plus the stores that persist them.
package identity

import (
	"sort"
	"time"
)

// User is a provisioned account. SCIM member references carry integer user
// IDs, so the primary key is an int64 rather than a UUID. A user keeps at
// most one email address; multi-valued email submissions are reduced to a
// single value at the SCIM boundary.
type User struct {
	ID             int64
	Username       string
	FirstName      string
	LastName       string
	Email          string
	IsActive       bool
	PasswordHash   string
	ScimExternalID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DisplayName derives the presentation name: "First Last" when either part
// is set, otherwise the username.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Username
	}
}

// Group is a named collection of users. Membership is a set keyed by user
// ID so adds and removes are idempotent.
type Group struct {
	ID             int64
	Name           string
	ScimExternalID string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	members map[int64]struct{}
}

// AddMember adds a user ID to the membership set. Adding an existing
// member is a no-op.
func (g *Group) AddMember(userID int64) {
	if g.members == nil {
		g.members = make(map[int64]struct{})
	}
	g.members[userID] = struct{}{}
}

// RemoveMember removes a user ID from the membership set. Removing an
// absent member is a no-op.
func (g *Group) RemoveMember(userID int64) {
	delete(g.members, userID)
}

// HasMember reports whether the user ID is in the membership set
func (g *Group) HasMember(userID int64) bool {
	_, ok := g.members[userID]
	return ok
}

// MemberIDs returns the membership as a sorted slice
func (g *Group) MemberIDs() []int64 {
	ids := make([]int64, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetMembers replaces the membership set wholesale
func (g *Group) SetMembers(userIDs []int64) {
	g.members = make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		g.members[id] = struct{}{}
	}
}

// MemberCount returns the membership size
func (g *Group) MemberCount() int {
	return len(g.members)
}
