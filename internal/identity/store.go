package identity

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when no record matches
var ErrNotFound = errors.New("identity: not found")

// UserStore persists users. ByIDs is the batch lookup group membership
// changes use to validate member references; it returns only the users that
// exist, in no particular order.
type UserStore interface {
	ByID(ctx context.Context, id int64) (*User, error)
	ByIDs(ctx context.Context, ids []int64) ([]*User, error)
	ByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, offset, limit int) ([]*User, int, error)
	Save(ctx context.Context, u *User) error
	Delete(ctx context.Context, id int64) error
}

// GroupStore persists groups, membership included
type GroupStore interface {
	ByID(ctx context.Context, id int64) (*Group, error)
	ByName(ctx context.Context, name string) (*Group, error)
	List(ctx context.Context, offset, limit int) ([]*Group, int, error)
	GroupsForUser(ctx context.Context, userID int64) ([]*Group, error)
	Save(ctx context.Context, g *Group) error
	Delete(ctx context.Context, id int64) error
}
