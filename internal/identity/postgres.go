package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs the identity stores with PostgreSQL. Group membership
// lives in a join table and is written transactionally with the group row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an existing connection pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Users returns the UserStore view
func (s *PostgresStore) Users() UserStore {
	return (*postgresUserStore)(s)
}

// Groups returns the GroupStore view
func (s *PostgresStore) Groups() GroupStore {
	return (*postgresGroupStore)(s)
}

// EnsureSchema creates the provisioning tables if they do not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               BIGSERIAL PRIMARY KEY,
			username         TEXT NOT NULL UNIQUE,
			first_name       TEXT NOT NULL DEFAULT '',
			last_name        TEXT NOT NULL DEFAULT '',
			email            TEXT NOT NULL DEFAULT '',
			is_active        BOOLEAN NOT NULL DEFAULT TRUE,
			password_hash    TEXT NOT NULL DEFAULT '',
			scim_external_id TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id               BIGSERIAL PRIMARY KEY,
			name             TEXT NOT NULL UNIQUE,
			scim_external_id TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			user_id  BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (group_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const userColumns = `id, username, first_name, last_name, email, is_active, password_hash, scim_external_id, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email,
		&u.IsActive, &u.PasswordHash, &u.ScimExternalID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

type postgresUserStore PostgresStore

var _ UserStore = (*postgresUserStore)(nil)

func (s *postgresUserStore) ByID(ctx context.Context, id int64) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *postgresUserStore) ByIDs(ctx context.Context, ids []int64) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *postgresUserStore) ByUsername(ctx context.Context, username string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username)
	return scanUser(row)
}

func (s *postgresUserStore) List(ctx context.Context, offset, limit int) ([]*User, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	if limit <= 0 {
		limit = total
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]*User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (s *postgresUserStore) Save(ctx context.Context, u *User) error {
	if u.ID == 0 {
		row := s.pool.QueryRow(ctx,
			`INSERT INTO users (username, first_name, last_name, email, is_active, password_hash, scim_external_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at, updated_at`,
			u.Username, u.FirstName, u.LastName, u.Email, u.IsActive, u.PasswordHash, u.ScimExternalID)
		if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE users
		 SET username = $2, first_name = $3, last_name = $4, email = $5,
		     is_active = $6, password_hash = $7, scim_external_id = $8, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		u.ID, u.Username, u.FirstName, u.LastName, u.Email, u.IsActive, u.PasswordHash, u.ScimExternalID)
	if err := row.Scan(&u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (s *postgresUserStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type postgresGroupStore PostgresStore

var _ GroupStore = (*postgresGroupStore)(nil)

const groupColumns = `id, name, scim_external_id, created_at, updated_at`

func (s *postgresGroupStore) scanGroup(ctx context.Context, row pgx.Row) (*Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.ScimExternalID, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}
	if err := s.loadMembers(ctx, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *postgresGroupStore) loadMembers(ctx context.Context, g *Group) error {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM group_members WHERE group_id = $1`, g.ID)
	if err != nil {
		return fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return fmt.Errorf("scan member: %w", err)
		}
		g.AddMember(userID)
	}
	return rows.Err()
}

func (s *postgresGroupStore) ByID(ctx context.Context, id int64) (*Group, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id)
	return s.scanGroup(ctx, row)
}

func (s *postgresGroupStore) ByName(ctx context.Context, name string) (*Group, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE lower(name) = lower($1)`, name)
	return s.scanGroup(ctx, row)
}

func (s *postgresGroupStore) List(ctx context.Context, offset, limit int) ([]*Group, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM groups`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count groups: %w", err)
	}

	if limit <= 0 {
		limit = total
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+groupColumns+` FROM groups ORDER BY id OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	out := make([]*Group, 0)
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.ScimExternalID, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for _, g := range out {
		if err := s.loadMembers(ctx, g); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func (s *postgresGroupStore) GroupsForUser(ctx context.Context, userID int64) ([]*Group, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT g.id, g.name, g.scim_external_id, g.created_at, g.updated_at
		 FROM groups g
		 JOIN group_members gm ON gm.group_id = g.id
		 WHERE gm.user_id = $1
		 ORDER BY g.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query groups for user: %w", err)
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.ScimExternalID, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, g := range out {
		if err := s.loadMembers(ctx, g); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Save writes the group row and rewrites its membership in one transaction
func (s *postgresGroupStore) Save(ctx context.Context, g *Group) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if g.ID == 0 {
		row := tx.QueryRow(ctx,
			`INSERT INTO groups (name, scim_external_id)
			 VALUES ($1, $2)
			 RETURNING id, created_at, updated_at`,
			g.Name, g.ScimExternalID)
		if err := row.Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
	} else {
		row := tx.QueryRow(ctx,
			`UPDATE groups SET name = $2, scim_external_id = $3, updated_at = now()
			 WHERE id = $1
			 RETURNING updated_at`,
			g.ID, g.Name, g.ScimExternalID)
		if err := row.Scan(&g.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("update group: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1`, g.ID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	for _, userID := range g.MemberIDs() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, g.ID, userID); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *postgresGroupStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
