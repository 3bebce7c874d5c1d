package admin

import (
	handlershared "github.com/credit-ledger/internal/http/handlers/shared"
	"github.com/credit-ledger/internal/http/response"

	"github.com/gin-gonic/gin"
)

type authzRolePayload struct {
	Role string `json:"role" binding:"required"`
}

type authzPermissionPayload struct {
	Permission string `json:"permission" binding:"required"`
}

type authzSetAdminRolesPayload struct {
	Roles []string `json:"roles"`
}

// requireSuper 角色与授权管理仅超级管理员可用
func requireSuper(c *gin.Context) bool {
	if value, ok := c.Get(handlershared.ContextAdminIsSuper); ok {
		if isSuper, typeOK := value.(bool); typeOK && isSuper {
			return true
		}
	}
	respondError(c, response.CodeForbidden, "permission_denied", nil)
	return false
}

// GetAuthzMe 当前管理员角色快照
func (h *Handler) GetAuthzMe(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	roles, err := h.AuthzService.GetAdminRoles(adminID)
	if err != nil {
		respondError(c, response.CodeInternal, "authz_fetch_failed", err)
		return
	}
	isSuper := false
	if value, exists := c.Get(handlershared.ContextAdminIsSuper); exists {
		if flag, typeOK := value.(bool); typeOK {
			isSuper = flag
		}
	}
	response.Success(c, gin.H{
		"admin_id": adminID,
		"is_super": isSuper,
		"roles":    roles,
	})
}

// ListAuthzRoles 角色列表
func (h *Handler) ListAuthzRoles(c *gin.Context) {
	if !requireSuper(c) {
		return
	}
	roles, err := h.AuthzService.ListRoles()
	if err != nil {
		respondError(c, response.CodeInternal, "authz_fetch_failed", err)
		return
	}
	response.Success(c, roles)
}

// CreateAuthzRole 创建角色
func (h *Handler) CreateAuthzRole(c *gin.Context) {
	if !requireSuper(c) {
		return
	}
	var req authzRolePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	role, err := h.AuthzService.EnsureRole(req.Role)
	if err != nil {
		respondError(c, response.CodeBadRequest, "invalid_role", err)
		return
	}
	requestLog(c).Infow("admin_authz_role_created", "role", role)
	response.Success(c, gin.H{"role": role})
}

// GetAuthzRolePolicies 角色权限
func (h *Handler) GetAuthzRolePolicies(c *gin.Context) {
	if !requireSuper(c) {
		return
	}
	policies, err := h.AuthzService.GetRolePolicies(c.Param("role"))
	if err != nil {
		respondError(c, response.CodeBadRequest, "invalid_role", err)
		return
	}
	response.Success(c, policies)
}

// GrantAuthzRolePermission 授予角色权限
func (h *Handler) GrantAuthzRolePermission(c *gin.Context) {
	if !requireSuper(c) {
		return
	}
	var req authzPermissionPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	if err := h.AuthzService.GrantRolePermission(c.Param("role"), req.Permission); err != nil {
		respondError(c, response.CodeBadRequest, "authz_update_failed", err)
		return
	}
	response.Success(c, gin.H{"role": c.Param("role"), "permission": req.Permission})
}

// RevokeAuthzRolePermission 撤销角色权限
func (h *Handler) RevokeAuthzRolePermission(c *gin.Context) {
	if !requireSuper(c) {
		return
	}
	var req authzPermissionPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	if err := h.AuthzService.RevokeRolePermission(c.Param("role"), req.Permission); err != nil {
		respondError(c, response.CodeBadRequest, "authz_update_failed", err)
		return
	}
	response.Success(c, gin.H{"role": c.Param("role"), "permission": req.Permission})
}

// SetAdminRoles 覆盖管理员角色
func (h *Handler) SetAdminRoles(c *gin.Context) {
	if !requireSuper(c) {
		return
	}
	adminID, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	var req authzSetAdminRolesPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	if err := h.AuthzService.SetAdminRoles(adminID, req.Roles); err != nil {
		respondError(c, response.CodeBadRequest, "authz_update_failed", err)
		return
	}
	roles, err := h.AuthzService.GetAdminRoles(adminID)
	if err != nil {
		respondError(c, response.CodeInternal, "authz_fetch_failed", err)
		return
	}
	requestLog(c).Infow("admin_authz_roles_updated", "target_admin_id", adminID, "roles", roles)
	response.Success(c, gin.H{"admin_id": adminID, "roles": roles})
}
