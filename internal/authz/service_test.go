package authz

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type adminStub map[uint]*models.Admin

func (s adminStub) GetByID(id uint) (*models.Admin, error) {
	return s[id], nil
}

func setupAuthzServiceTest(t *testing.T, admins AdminLookup) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	svc, err := NewService(db, admins)
	if err != nil {
		t.Fatalf("new authz service failed: %v", err)
	}
	return svc
}

func TestHasPermissionWithRolePolicy(t *testing.T) {
	svc := setupAuthzServiceTest(t, nil)
	if err := svc.GrantRolePermission("issuer", constants.PermissionRedemptionIssue); err != nil {
		t.Fatalf("grant role permission failed: %v", err)
	}
	if err := svc.SetAdminRoles(1, []string{"issuer"}); err != nil {
		t.Fatalf("set admin roles failed: %v", err)
	}
	ctx := context.Background()

	allow, err := svc.HasPermission(ctx, 1, "Redemption:Issue")
	if err != nil {
		t.Fatalf("has permission failed: %v", err)
	}
	if !allow {
		t.Fatalf("expected allow=true")
	}
	allow, err = svc.HasPermission(ctx, 1, constants.PermissionWithdrawPayout)
	if err != nil {
		t.Fatalf("has permission failed: %v", err)
	}
	if allow {
		t.Fatalf("expected allow=false")
	}
}

func TestWildcardPermission(t *testing.T) {
	svc := setupAuthzServiceTest(t, nil)
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("bootstrap roles failed: %v", err)
	}
	if err := svc.SetAdminRoles(3, []string{"finance"}); err != nil {
		t.Fatalf("set admin roles failed: %v", err)
	}
	ctx := context.Background()
	for _, perm := range []string{constants.PermissionWithdrawReview, constants.PermissionWithdrawPayout, constants.PermissionRedemptionView} {
		allow, err := svc.HasPermission(ctx, 3, perm)
		if err != nil || !allow {
			t.Fatalf("finance should have %s, allow=%v err=%v", perm, allow, err)
		}
	}
	if allow, _ := svc.HasPermission(ctx, 3, constants.PermissionRedemptionIssue); allow {
		t.Fatalf("finance should not issue codes")
	}
}

func TestSuperAdminBypass(t *testing.T) {
	svc := setupAuthzServiceTest(t, adminStub{
		1: {ID: 1, Username: "root", IsSuper: true},
		2: {ID: 2, Username: "ops"},
	})
	ctx := context.Background()
	if allow, err := svc.HasPermission(ctx, 1, constants.PermissionCreditGrant); err != nil || !allow {
		t.Fatalf("super admin should be allowed, allow=%v err=%v", allow, err)
	}
	if allow, err := svc.HasPermission(ctx, 2, constants.PermissionCreditGrant); err != nil || allow {
		t.Fatalf("plain admin without roles should be denied, allow=%v err=%v", allow, err)
	}
	if allow, err := svc.HasPermission(ctx, 9, constants.PermissionCreditGrant); err != nil || allow {
		t.Fatalf("unknown admin should be denied, allow=%v err=%v", allow, err)
	}
}

func TestSetAdminRolesOverride(t *testing.T) {
	svc := setupAuthzServiceTest(t, nil)
	if err := svc.GrantRolePermission("ops", constants.PermissionCreditGrant); err != nil {
		t.Fatalf("grant ops policy failed: %v", err)
	}
	if err := svc.GrantRolePermission("finance", constants.PermissionWithdrawReview); err != nil {
		t.Fatalf("grant finance policy failed: %v", err)
	}

	if err := svc.SetAdminRoles(2, []string{"ops"}); err != nil {
		t.Fatalf("set first role failed: %v", err)
	}
	roles, err := svc.GetAdminRoles(2)
	if err != nil {
		t.Fatalf("get roles failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != "role:ops" {
		t.Fatalf("roles want [role:ops], got=%v", roles)
	}

	if err := svc.SetAdminRoles(2, []string{"finance"}); err != nil {
		t.Fatalf("set second role failed: %v", err)
	}
	roles, err = svc.GetAdminRoles(2)
	if err != nil {
		t.Fatalf("get roles failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != "role:finance" {
		t.Fatalf("roles want [role:finance], got=%v", roles)
	}
	if allow, _ := svc.HasPermission(context.Background(), 2, constants.PermissionCreditGrant); allow {
		t.Fatalf("old role permission should be revoked")
	}
}

func TestListRolesAndRevoke(t *testing.T) {
	svc := setupAuthzServiceTest(t, nil)
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("bootstrap roles failed: %v", err)
	}
	roles, err := svc.ListRoles()
	if err != nil {
		t.Fatalf("list roles failed: %v", err)
	}
	if strings.Join(roles, ",") != "role:auditor,role:finance,role:operations" {
		t.Fatalf("unexpected roles: %v", roles)
	}
	if err := svc.RevokeRolePermission("operations", constants.PermissionCreditGrant); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	policies, err := svc.GetRolePolicies("operations")
	if err != nil {
		t.Fatalf("get policies failed: %v", err)
	}
	if len(policies) != 1 || policies[0].Permission != constants.PermissionRedemptionIssue {
		t.Fatalf("unexpected policies: %+v", policies)
	}
	if _, err := NormalizeRole("  "); err == nil {
		t.Fatalf("empty role should fail")
	}
}
