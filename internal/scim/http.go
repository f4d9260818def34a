package scim

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scimgate/scimgate/internal/common/logger"
	"github.com/scimgate/scimgate/internal/common/middleware"
	"github.com/scimgate/scimgate/internal/identity"
	"github.com/scimgate/scimgate/pkg/journal"
)

const maxPageSize = 100

// Handlers exposes the SCIM 2.0 provisioning API over gin. All routes sit
// behind bearer authentication; tokens map bearer token to the client name
// they identify, which only shows up in logs.
type Handlers struct {
	users  identity.UserStore
	groups identity.GroupStore
	tokens map[string]string
	logger *zap.Logger
	audit  *logger.AuditLogger
}

// NewHandlers creates the SCIM HTTP handler set
func NewHandlers(users identity.UserStore, groups identity.GroupStore, tokens map[string]string, log *zap.Logger) *Handlers {
	return &Handlers{
		users:  users,
		groups: groups,
		tokens: tokens,
		logger: log,
		audit:  logger.NewAuditLogger(log),
	}
}

// WithAuditJournal tees provisioning audit events into an append-only journal
func (h *Handlers) WithAuditJournal(j journal.Journal) *Handlers {
	h.audit.WithJournal(j)
	return h
}

// actor returns the authenticated SCIM client name for audit records
func actor(c *gin.Context) string {
	return c.GetString("scim_client")
}

// recordOperation feeds the provisioning counter scraped at /metrics
func recordOperation(resource, operation string) {
	middleware.ProvisioningOperationsTotal.WithLabelValues(resource, operation).Inc()
}

// RegisterRoutes mounts the SCIM API under /scim/v2. Extra middleware runs
// after bearer authentication, so it sees scim_client in the context; the
// per-client rate limiter relies on that ordering.
func (h *Handlers) RegisterRoutes(r gin.IRouter, extra ...gin.HandlerFunc) {
	v2 := r.Group("/scim/v2")
	v2.Use(BearerAuthMiddleware(h.tokens))
	v2.Use(extra...)

	v2.GET("/ServiceProviderConfig", h.ServiceProviderConfig)
	v2.GET("/ResourceTypes", h.ResourceTypes)
	v2.GET("/Schemas", h.Schemas)

	v2.GET("/Users", h.ListUsers)
	v2.POST("/Users", h.CreateUser)
	v2.GET("/Users/:id", h.GetUser)
	v2.PUT("/Users/:id", h.ReplaceUser)
	v2.PATCH("/Users/:id", h.PatchUser)
	v2.DELETE("/Users/:id", h.DeleteUser)

	v2.GET("/Groups", h.ListGroups)
	v2.POST("/Groups", h.CreateGroup)
	v2.GET("/Groups/:id", h.GetGroup)
	v2.PUT("/Groups/:id", h.ReplaceGroup)
	v2.PATCH("/Groups/:id", h.PatchGroup)
	v2.DELETE("/Groups/:id", h.DeleteGroup)
}

// BearerAuthMiddleware validates Bearer tokens for SCIM endpoints
func BearerAuthMiddleware(tokens map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, errorEnvelope(http.StatusUnauthorized, "", "Missing Authorization header"))
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.JSON(http.StatusUnauthorized, errorEnvelope(http.StatusUnauthorized, "", "Invalid Authorization header format"))
			c.Abort()
			return
		}

		client, ok := tokens[parts[1]]
		if !ok {
			c.JSON(http.StatusUnauthorized, errorEnvelope(http.StatusUnauthorized, "", "Invalid Bearer token"))
			c.Abort()
			return
		}

		c.Set("scim_client", client)
		c.Next()
	}
}

// ============================================================
// User endpoints
// ============================================================

// ListUsers handles GET /scim/v2/Users (RFC 7644 3.4.2). Filtering is not
// supported; a filter parameter is rejected rather than silently ignored.
func (h *Handlers) ListUsers(c *gin.Context) {
	if c.Query("filter") != "" {
		h.writeError(c, NotImplemented("Filtering is not supported"))
		return
	}

	startIndex := parseStartIndex(c)
	count := parseCount(c)

	users, total, err := h.users.List(c.Request.Context(), startIndex-1, count)
	if err != nil {
		h.writeError(c, err)
		return
	}

	baseURL := scimBaseURL(c)
	resources := make([]any, 0, len(users))
	for _, u := range users {
		memberships, err := h.groups.GroupsForUser(c.Request.Context(), u.ID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		resources = append(resources, UserToResource(u, memberships, baseURL))
	}

	c.JSON(http.StatusOK, NewListResponse(resources, total, startIndex))
}

// CreateUser handles POST /scim/v2/Users (RFC 7644 3.3)
func (h *Handlers) CreateUser(c *gin.Context) {
	var res UserResource
	if err := c.ShouldBindJSON(&res); err != nil {
		h.writeError(c, BadRequest("Invalid request body"))
		return
	}
	if res.UserName == "" {
		h.writeError(c, BadRequest("userName is required"))
		return
	}

	if existing, err := h.users.ByUsername(c.Request.Context(), res.UserName); err == nil && existing != nil {
		h.writeError(c, Conflict("User already exists"))
		return
	} else if err != nil && !errors.Is(err, identity.ErrNotFound) {
		h.writeError(c, err)
		return
	}

	user, err := UserFromResource(&res)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.users.Save(c.Request.Context(), user); err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.Info("SCIM user created",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username))
	h.audit.LogResourceCreated(actor(c), "User", FormatID(user.ID), map[string]any{
		"username": user.Username,
	})
	recordOperation("User", "create")

	c.JSON(http.StatusCreated, UserToResource(user, nil, scimBaseURL(c)))
}

// GetUser handles GET /scim/v2/Users/:id (RFC 7644 3.4.1)
func (h *Handlers) GetUser(c *gin.Context) {
	user, err := h.loadUser(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	memberships, err := h.groups.GroupsForUser(c.Request.Context(), user.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, UserToResource(user, memberships, scimBaseURL(c)))
}

// ReplaceUser handles PUT /scim/v2/Users/:id (RFC 7644 3.5.1)
func (h *Handlers) ReplaceUser(c *gin.Context) {
	user, err := h.loadUser(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var res UserResource
	if err := c.ShouldBindJSON(&res); err != nil {
		h.writeError(c, BadRequest("Invalid request body"))
		return
	}
	if res.UserName == "" {
		h.writeError(c, BadRequest("userName is required"))
		return
	}

	if err := ApplyUserResource(user, &res); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.users.Save(c.Request.Context(), user); err != nil {
		h.writeError(c, err)
		return
	}

	h.audit.LogResourceModified(actor(c), "User", FormatID(user.ID), map[string]any{
		"method": "PUT",
	})
	recordOperation("User", "replace")
	c.JSON(http.StatusOK, UserToResource(user, nil, scimBaseURL(c)))
}

// PatchUser handles PATCH /scim/v2/Users/:id (RFC 7644 3.5.2). The user
// handler persists on replace, so no save happens here.
func (h *Handlers) PatchUser(c *gin.Context) {
	user, err := h.loadUser(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	ops, err := bindPatchRequest(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if err := ApplyPatch(c.Request.Context(), NewUserHandler(user, h.users), ops); err != nil {
		h.logger.Debug("SCIM user PATCH failed",
			zap.Int64("user_id", user.ID),
			zap.Error(err))
		h.writeError(c, err)
		return
	}

	memberships, err := h.groups.GroupsForUser(c.Request.Context(), user.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.audit.LogResourceModified(actor(c), "User", FormatID(user.ID), map[string]any{
		"method": "PATCH",
	})
	recordOperation("User", "patch")
	c.JSON(http.StatusOK, UserToResource(user, memberships, scimBaseURL(c)))
}

// DeleteUser handles DELETE /scim/v2/Users/:id (RFC 7644 3.6)
func (h *Handlers) DeleteUser(c *gin.Context) {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.Info("SCIM user deleted", zap.Int64("user_id", id))
	h.audit.LogResourceDeleted(actor(c), "User", FormatID(id))
	recordOperation("User", "delete")
	c.Status(http.StatusNoContent)
}

// ============================================================
// Group endpoints
// ============================================================

// ListGroups handles GET /scim/v2/Groups
func (h *Handlers) ListGroups(c *gin.Context) {
	if c.Query("filter") != "" {
		h.writeError(c, NotImplemented("Filtering is not supported"))
		return
	}

	startIndex := parseStartIndex(c)
	count := parseCount(c)

	groups, total, err := h.groups.List(c.Request.Context(), startIndex-1, count)
	if err != nil {
		h.writeError(c, err)
		return
	}

	baseURL := scimBaseURL(c)
	resources := make([]any, 0, len(groups))
	for _, g := range groups {
		members, err := h.users.ByIDs(c.Request.Context(), g.MemberIDs())
		if err != nil {
			h.writeError(c, err)
			return
		}
		resources = append(resources, GroupToResource(g, members, baseURL))
	}

	c.JSON(http.StatusOK, NewListResponse(resources, total, startIndex))
}

// CreateGroup handles POST /scim/v2/Groups. Member references are validated
// against the user store before the group is persisted; one bad reference
// fails the whole create.
func (h *Handlers) CreateGroup(c *gin.Context) {
	var res GroupResource
	if err := c.ShouldBindJSON(&res); err != nil {
		h.writeError(c, BadRequest("Invalid request body"))
		return
	}
	if res.DisplayName == "" {
		h.writeError(c, BadRequest("displayName is required"))
		return
	}

	if existing, err := h.groups.ByName(c.Request.Context(), res.DisplayName); err == nil && existing != nil {
		h.writeError(c, Conflict("Group already exists"))
		return
	} else if err != nil && !errors.Is(err, identity.ErrNotFound) {
		h.writeError(c, err)
		return
	}

	group, memberIDs, err := GroupFromResource(&res)
	if err != nil {
		h.writeError(c, err)
		return
	}

	members, err := h.resolveMembers(c, memberIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	group.SetMembers(memberIDs)

	if err := h.groups.Save(c.Request.Context(), group); err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.Info("SCIM group created",
		zap.Int64("group_id", group.ID),
		zap.String("name", group.Name),
		zap.Int("members", len(memberIDs)))
	h.audit.LogResourceCreated(actor(c), "Group", FormatID(group.ID), map[string]any{
		"name":    group.Name,
		"members": len(memberIDs),
	})
	recordOperation("Group", "create")

	c.JSON(http.StatusCreated, GroupToResource(group, members, scimBaseURL(c)))
}

// GetGroup handles GET /scim/v2/Groups/:id
func (h *Handlers) GetGroup(c *gin.Context) {
	group, err := h.loadGroup(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	members, err := h.users.ByIDs(c.Request.Context(), group.MemberIDs())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GroupToResource(group, members, scimBaseURL(c)))
}

// ReplaceGroup handles PUT /scim/v2/Groups/:id
func (h *Handlers) ReplaceGroup(c *gin.Context) {
	group, err := h.loadGroup(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var res GroupResource
	if err := c.ShouldBindJSON(&res); err != nil {
		h.writeError(c, BadRequest("Invalid request body"))
		return
	}
	if res.DisplayName == "" {
		h.writeError(c, BadRequest("displayName is required"))
		return
	}

	replacement, memberIDs, err := GroupFromResource(&res)
	if err != nil {
		h.writeError(c, err)
		return
	}
	members, err := h.resolveMembers(c, memberIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}

	group.Name = replacement.Name
	group.ScimExternalID = replacement.ScimExternalID
	group.SetMembers(memberIDs)

	if err := h.groups.Save(c.Request.Context(), group); err != nil {
		h.writeError(c, err)
		return
	}

	h.audit.LogResourceModified(actor(c), "Group", FormatID(group.ID), map[string]any{
		"method": "PUT",
	})
	recordOperation("Group", "replace")
	c.JSON(http.StatusOK, GroupToResource(group, members, scimBaseURL(c)))
}

// PatchGroup handles PATCH /scim/v2/Groups/:id. Membership mutations leave
// persistence to this caller, so the group is saved after a successful
// operation list; a name replace has already saved inside the handler, which
// makes the save here a harmless second write.
func (h *Handlers) PatchGroup(c *gin.Context) {
	group, err := h.loadGroup(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	ops, err := bindPatchRequest(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if err := ApplyPatch(c.Request.Context(), NewGroupHandler(group, h.users, h.groups), ops); err != nil {
		h.logger.Debug("SCIM group PATCH failed",
			zap.Int64("group_id", group.ID),
			zap.Error(err))
		h.writeError(c, err)
		return
	}

	if err := h.groups.Save(c.Request.Context(), group); err != nil {
		h.writeError(c, err)
		return
	}

	members, err := h.users.ByIDs(c.Request.Context(), group.MemberIDs())
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.audit.LogResourceModified(actor(c), "Group", FormatID(group.ID), map[string]any{
		"method": "PATCH",
	})
	recordOperation("Group", "patch")
	c.JSON(http.StatusOK, GroupToResource(group, members, scimBaseURL(c)))
}

// DeleteGroup handles DELETE /scim/v2/Groups/:id
func (h *Handlers) DeleteGroup(c *gin.Context) {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.groups.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.Info("SCIM group deleted", zap.Int64("group_id", id))
	h.audit.LogResourceDeleted(actor(c), "Group", FormatID(id))
	recordOperation("Group", "delete")
	c.Status(http.StatusNoContent)
}

// ============================================================
// Shared helpers
// ============================================================

func (h *Handlers) loadUser(c *gin.Context) (*identity.User, error) {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		return nil, err
	}
	user, err := h.users.ByID(c.Request.Context(), id)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, NotFound("User " + c.Param("id") + " not found")
	}
	return user, err
}

func (h *Handlers) loadGroup(c *gin.Context) (*identity.Group, error) {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		return nil, err
	}
	group, err := h.groups.ByID(c.Request.Context(), id)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, NotFound("Group " + c.Param("id") + " not found")
	}
	return group, err
}

// resolveMembers batch-loads member references, all-or-nothing
func (h *Handlers) resolveMembers(c *gin.Context, ids []int64) ([]*identity.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	members, err := h.users.ByIDs(c.Request.Context(), ids)
	if err != nil {
		return nil, err
	}
	if len(members) < len(ids) {
		return nil, BadRequest("Can not add a non-existent user to group")
	}
	return members, nil
}

// bindPatchRequest decodes and validates the PATCH envelope
func bindPatchRequest(c *gin.Context) ([]PatchOperation, error) {
	var req PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, BadRequest("Invalid request body")
	}
	valid := false
	for _, s := range req.Schemas {
		if s == PatchOpSchema {
			valid = true
			break
		}
	}
	if !valid {
		return nil, BadRequest("PATCH request must declare schema " + PatchOpSchema)
	}
	if len(req.Operations) == 0 {
		return nil, BadRequest("PATCH request must carry at least one operation")
	}
	return req.Operations, nil
}

// writeError maps an error to a SCIM error envelope (RFC 7644 3.12)
func (h *Handlers) writeError(c *gin.Context, err error) {
	var se *Error
	if errors.As(err, &se) {
		c.JSON(se.StatusCode(), errorEnvelope(se.StatusCode(), se.ScimType, se.Detail))
		return
	}
	if errors.Is(err, identity.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorEnvelope(http.StatusNotFound, "", "Resource not found"))
		return
	}

	h.logger.Error("SCIM request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorEnvelope(http.StatusInternalServerError, "", "Internal error"))
}

// errorEnvelope builds the SCIM error body; status goes on the wire as a
// string per RFC 7644 3.12.
func errorEnvelope(status int, scimType, detail string) gin.H {
	body := gin.H{
		"schemas": []string{ErrorSchema},
		"status":  strconv.Itoa(status),
		"detail":  detail,
	}
	if scimType != "" {
		body["scimType"] = scimType
	}
	return body
}

// parseStartIndex parses the 1-indexed startIndex query parameter
func parseStartIndex(c *gin.Context) int {
	raw := c.DefaultQuery("startIndex", "1")
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 1 {
		return 1
	}
	return idx
}

// parseCount parses the count query parameter, capped at the server maximum
func parseCount(c *gin.Context) int {
	raw := c.DefaultQuery("count", strconv.Itoa(maxPageSize))
	count, err := strconv.Atoi(raw)
	if err != nil || count < 1 {
		return maxPageSize
	}
	if count > maxPageSize {
		return maxPageSize
	}
	return count
}

// scimBaseURL derives the base URL resource locations are built from
func scimBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/scim/v2", scheme, c.Request.Host)
}
