package authz

import (
	"fmt"

	"github.com/credit-ledger/internal/constants"
)

// RoleSeed 预置角色定义
type RoleSeed struct {
	Role        string
	Inherits    []string
	Permissions []string
}

// BuiltinRoleSeeds 系统预置角色矩阵
func BuiltinRoleSeeds() []RoleSeed {
	return []RoleSeed{
		{
			Role:        "auditor",
			Permissions: []string{constants.PermissionRedemptionView},
		},
		{
			Role:     "operations",
			Inherits: []string{"auditor"},
			Permissions: []string{
				constants.PermissionRedemptionIssue,
				constants.PermissionCreditGrant,
			},
		},
		{
			Role:        "finance",
			Inherits:    []string{"auditor"},
			Permissions: []string{"withdraw:*"},
		},
	}
}

// BootstrapBuiltinRoles 初始化预置角色与默认策略
func (s *Service) BootstrapBuiltinRoles() error {
	if s == nil || s.enforcer == nil {
		return fmt.Errorf("authz service unavailable")
	}
	for _, seed := range BuiltinRoleSeeds() {
		role, err := s.EnsureRole(seed.Role)
		if err != nil {
			return err
		}
		for _, parent := range seed.Inherits {
			parentRole, err := s.EnsureRole(parent)
			if err != nil {
				return err
			}
			if _, err := s.enforcer.AddNamedGroupingPolicy("g", role, parentRole); err != nil {
				return fmt.Errorf("link role inheritance failed: %w", err)
			}
		}
		for _, permission := range seed.Permissions {
			if _, err := s.enforcer.AddPolicy(role, NormalizePermission(permission)); err != nil {
				return fmt.Errorf("add builtin policy failed: %w", err)
			}
		}
	}
	return nil
}
