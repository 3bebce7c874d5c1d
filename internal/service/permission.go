package service

import (
	"context"
	"fmt"
)

// PermissionChecker 后台权限判定，由 authz 提供
type PermissionChecker interface {
	HasPermission(ctx context.Context, adminID uint, permission string) (bool, error)
}

// requirePermission 未配置校验器时一律拒绝
func requirePermission(ctx context.Context, checker PermissionChecker, adminID uint, permission string) error {
	if checker == nil || adminID == 0 {
		return ErrPermissionDenied
	}
	ok, err := checker.HasPermission(ctx, adminID, permission)
	if err != nil {
		return fmt.Errorf("check permission %s: %w", permission, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, permission)
	}
	return nil
}
