package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory store. It backs unit tests and
// the service's development mode, where no database URL is configured.
// Users() and Groups() expose the shared state through the two store
// interfaces.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[int64]*User
	groups      map[int64]*Group
	nextUserID  int64
	nextGroupID int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]*User),
		groups: make(map[int64]*Group),
	}
}

// Users returns the UserStore view of the shared state
func (s *MemoryStore) Users() UserStore {
	return (*memoryUserStore)(s)
}

// Groups returns the GroupStore view of the shared state
func (s *MemoryStore) Groups() GroupStore {
	return (*memoryGroupStore)(s)
}

type memoryUserStore MemoryStore

var _ UserStore = (*memoryUserStore)(nil)

func (s *memoryUserStore) ByID(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *memoryUserStore) ByIDs(ctx context.Context, ids []int64) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*User
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if u, ok := s.users[id]; ok {
			copied := *u
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memoryUserStore) ByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryUserStore) List(ctx context.Context, offset, limit int) ([]*User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	total := len(ids)
	out := make([]*User, 0)
	for _, id := range paginate(ids, offset, limit) {
		copied := *s.users[id]
		out = append(out, &copied)
	}
	return out, total, nil
}

func (s *memoryUserStore) Save(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if u.ID == 0 {
		s.nextUserID++
		u.ID = s.nextUserID
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	copied := *u
	s.users[u.ID] = &copied
	return nil
}

func (s *memoryUserStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	for _, g := range s.groups {
		g.RemoveMember(id)
	}
	return nil
}

type memoryGroupStore MemoryStore

var _ GroupStore = (*memoryGroupStore)(nil)

func (s *memoryGroupStore) ByID(ctx context.Context, id int64) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGroup(g), nil
}

func (s *memoryGroupStore) ByName(ctx context.Context, name string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.groups {
		if strings.EqualFold(g.Name, name) {
			return copyGroup(g), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryGroupStore) List(ctx context.Context, offset, limit int) ([]*Group, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	total := len(ids)
	out := make([]*Group, 0)
	for _, id := range paginate(ids, offset, limit) {
		out = append(out, copyGroup(s.groups[id]))
	}
	return out, total, nil
}

func (s *memoryGroupStore) GroupsForUser(ctx context.Context, userID int64) ([]*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Group
	for _, g := range s.groups {
		if g.HasMember(userID) {
			out = append(out, copyGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryGroupStore) Save(ctx context.Context, g *Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if g.ID == 0 {
		s.nextGroupID++
		g.ID = s.nextGroupID
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	s.groups[g.ID] = copyGroup(g)
	return nil
}

func (s *memoryGroupStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return ErrNotFound
	}
	delete(s.groups, id)
	return nil
}

func copyGroup(g *Group) *Group {
	copied := *g
	copied.SetMembers(g.MemberIDs())
	return &copied
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
