package scim

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/scimgate/scimgate/internal/identity"
)

func newTestUser(t *testing.T, store identity.UserStore, username string) *identity.User {
	t.Helper()
	u := &identity.User{Username: username, IsActive: true}
	if err := store.Save(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func patchOp(op, path, value string) PatchOperation {
	p := PatchOperation{Op: op, Path: path}
	if value != "" {
		p.Value = json.RawMessage(value)
	}
	return p
}

func TestUserHandler_ReplaceMappedFields(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		value string
		check func(t *testing.T, u *identity.User)
	}{
		{
			name:  "userName",
			path:  "userName",
			value: `"bob"`,
			check: func(t *testing.T, u *identity.User) {
				if u.Username != "bob" {
					t.Errorf("Username = %q", u.Username)
				}
			},
		},
		{
			name:  "givenName flat",
			path:  "givenName",
			value: `"Bob"`,
			check: func(t *testing.T, u *identity.User) {
				if u.FirstName != "Bob" {
					t.Errorf("FirstName = %q", u.FirstName)
				}
			},
		},
		{
			name:  "familyName nested",
			path:  "name.familyName",
			value: `"Builder"`,
			check: func(t *testing.T, u *identity.User) {
				if u.LastName != "Builder" {
					t.Errorf("LastName = %q", u.LastName)
				}
			},
		},
		{
			name:  "active boolean",
			path:  "active",
			value: `false`,
			check: func(t *testing.T, u *identity.User) {
				if u.IsActive {
					t.Error("IsActive = true, want false")
				}
			},
		},
		{
			name:  "active as string",
			path:  "active",
			value: `"False"`,
			check: func(t *testing.T, u *identity.User) {
				if u.IsActive {
					t.Error("IsActive = true, want false")
				}
			},
		},
		{
			name:  "case-insensitive path",
			path:  "USERNAME",
			value: `"carol"`,
			check: func(t *testing.T, u *identity.User) {
				if u.Username != "carol" {
					t.Errorf("Username = %q", u.Username)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := identity.NewMemoryStore().Users()
			user := newTestUser(t, store, "alice")

			err := ApplyPatch(context.Background(), NewUserHandler(user, store), []PatchOperation{
				patchOp("replace", tt.path, tt.value),
			})
			if err != nil {
				t.Fatalf("ApplyPatch error: %v", err)
			}
			tt.check(t, user)
		})
	}
}

func TestUserHandler_ReplacePersists(t *testing.T) {
	store := identity.NewMemoryStore().Users()
	user := newTestUser(t, store, "alice")

	err := ApplyPatch(context.Background(), NewUserHandler(user, store), []PatchOperation{
		patchOp("replace", "userName", `"renamed"`),
	})
	if err != nil {
		t.Fatalf("ApplyPatch error: %v", err)
	}

	// The user replace handler saves the resource itself.
	stored, err := store.ByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if stored.Username != "renamed" {
		t.Errorf("stored Username = %q, want the replace to have been persisted", stored.Username)
	}
}

func TestUserHandler_EmailSelection(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantEmail string
		wantErr   bool
	}{
		{
			name:      "primary entries sorted ascending win",
			value:     `[{"value":"b@x.com","primary":false},{"value":"a@x.com","primary":true},{"value":"z@x.com","primary":true}]`,
			wantEmail: "a@x.com",
		},
		{
			name:      "no primary falls back to sorted non-primary",
			value:     `[{"value":"z@x.com"},{"value":"m@x.com"}]`,
			wantEmail: "m@x.com",
		},
		{
			name:      "single object shorthand is trimmed",
			value:     `{"value":" solo@x.com "}`,
			wantEmail: "solo@x.com",
		},
		{
			name:    "empty list",
			value:   `[]`,
			wantErr: true,
		},
		{
			name:    "entries without value field",
			value:   `[{"type":"work"}]`,
			wantErr: true,
		},
		{
			name:    "selected address fails validation",
			value:   `[{"value":"not-an-email","primary":true}]`,
			wantErr: true,
		},
		{
			name:    "scalar value",
			value:   `"a@x.com"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := identity.NewMemoryStore().Users()
			user := newTestUser(t, store, "alice")

			err := ApplyPatch(context.Background(), NewUserHandler(user, store), []PatchOperation{
				patchOp("replace", "emails", tt.value),
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected email selection to fail")
				}
				var se *Error
				if !errors.As(err, &se) {
					t.Fatalf("expected *Error, got %T", err)
				}
				if se.Detail != "Invalid email value" {
					t.Errorf("detail = %q", se.Detail)
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyPatch error: %v", err)
			}
			if user.Email != tt.wantEmail {
				t.Errorf("Email = %q, want %q", user.Email, tt.wantEmail)
			}
		})
	}
}

func TestUserHandler_PathlessReplaceShorthand(t *testing.T) {
	store := identity.NewMemoryStore().Users()
	user := newTestUser(t, store, "alice")

	err := ApplyPatch(context.Background(), NewUserHandler(user, store), []PatchOperation{
		{Op: "replace", Value: json.RawMessage(`{"active": false, "userName": "bob", "name.givenName": "Bob"}`)},
	})
	if err != nil {
		t.Fatalf("ApplyPatch error: %v", err)
	}
	if user.IsActive {
		t.Error("IsActive = true, want false")
	}
	if user.Username != "bob" {
		t.Errorf("Username = %q, want bob", user.Username)
	}
	if user.FirstName != "Bob" {
		t.Errorf("FirstName = %q, want Bob", user.FirstName)
	}
}

func TestUserHandler_AddAndRemoveNotImplemented(t *testing.T) {
	store := identity.NewMemoryStore().Users()
	user := newTestUser(t, store, "alice")
	h := NewUserHandler(user, store)

	for _, op := range []string{"add", "remove"} {
		err := ApplyPatch(context.Background(), h, []PatchOperation{
			patchOp(op, "userName", `"x"`),
		})
		if !IsKind(err, KindNotImplemented) {
			t.Errorf("op %s: error = %v, want NotImplemented kind", op, err)
		}
	}
}

func TestUserHandler_UnknownAndFilteredPathsRejected(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		value string
	}{
		{"unmapped attribute", "title", `"Boss"`},
		{"filtered path", `members[value eq "1"]`, `"x"`},
		{"urn-qualified emails path", "urn:x:emails", `[{"value": "a@x.com"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := identity.NewMemoryStore().Users()
			user := newTestUser(t, store, "alice")

			err := ApplyPatch(context.Background(), NewUserHandler(user, store), []PatchOperation{
				patchOp("replace", tt.path, tt.value),
			})
			if !IsKind(err, KindNotImplemented) {
				t.Errorf("error = %v, want NotImplemented kind", err)
			}
		})
	}
}
