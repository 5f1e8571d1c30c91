package service

import (
	"context"
	"testing"

	"procurement/internal/model"
	"procurement/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoleServiceForTest() (RoleService, *fakeRoleRepo, *fakeUserRepo, *fakeAuditRepo) {
	roles := newFakeRoleRepo()
	users := newFakeUserRepo()
	audit := &fakeAuditRepo{}
	svc := NewRoleService(roles, users, audit, &fakeTx{}, zerolog.Nop())
	return svc, roles, users, audit
}

func TestCreateRoleUppercasesCode(t *testing.T) {
	svc, _, _, audit := newRoleServiceForTest()

	role, err := svc.CreateRole(context.Background(), SaveRoleRequest{
		Code: " finance_manager ",
		Name: "Finance Manager",
	}, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, "FINANCE_MANAGER", role.Code)
	assert.True(t, role.IsActive)
	assert.Contains(t, audit.actions(), model.ActionCreateRole)
}

func TestCreateRoleRejectsDuplicateCode(t *testing.T) {
	svc, _, _, _ := newRoleServiceForTest()
	actor := uuid.NewString()

	_, err := svc.CreateRole(context.Background(), SaveRoleRequest{Code: "CFO", Name: "CFO"}, actor)
	require.NoError(t, err)

	_, err = svc.CreateRole(context.Background(), SaveRoleRequest{Code: "cfo", Name: "Chief Financial Officer"}, actor)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestUpdateRoleCodeIsImmutable(t *testing.T) {
	svc, _, _, _ := newRoleServiceForTest()
	actor := uuid.NewString()

	role, err := svc.CreateRole(context.Background(), SaveRoleRequest{Code: "DEPT_HEAD", Name: "Department Head"}, actor)
	require.NoError(t, err)

	updated, err := svc.UpdateRole(context.Background(), role.ID, SaveRoleRequest{
		Code: "DEPT_HEAD",
		Name: "Head of Department",
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, "Head of Department", updated.Name)

	_, err = svc.UpdateRole(context.Background(), role.ID, SaveRoleRequest{
		Code: "DIVISION_HEAD",
		Name: "Division Head",
	}, actor)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestAssignAndRevokeApprover(t *testing.T) {
	svc, roles, users, audit := newRoleServiceForTest()
	actor := uuid.NewString()

	user := &model.User{Username: "jdoe", Email: "jdoe@example.com", Password: "x", Role: model.GlobalRoleStaff}
	require.NoError(t, users.Create(context.Background(), user))
	role, err := svc.CreateRole(context.Background(), SaveRoleRequest{Code: "CFO", Name: "CFO"}, actor)
	require.NoError(t, err)

	assignment, err := svc.AssignApprover(context.Background(), AssignApproverRequest{
		UserID: user.ID.String(),
		RoleID: role.ID,
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", assignment.Username)

	approvers, err := svc.ListApprovers(context.Background(), role.ID)
	require.NoError(t, err)
	require.Len(t, approvers, 1)
	assert.Equal(t, user.ID.String(), approvers[0].UserID)

	require.NoError(t, svc.RevokeApprover(context.Background(), user.ID.String(), role.ID, actor))

	approvers, err = svc.ListApprovers(context.Background(), role.ID)
	require.NoError(t, err)
	assert.Empty(t, approvers)

	// A revoked assignment no longer grants the role.
	roleIDs, err := roles.ActiveRoleIDsForUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, roleIDs)

	actions := audit.actions()
	assert.Contains(t, actions, model.ActionAssignApprover)
	assert.Contains(t, actions, model.ActionRevokeApprover)
}

func TestAssignApproverUnknownUser(t *testing.T) {
	svc, _, _, _ := newRoleServiceForTest()
	actor := uuid.NewString()

	role, err := svc.CreateRole(context.Background(), SaveRoleRequest{Code: "CFO", Name: "CFO"}, actor)
	require.NoError(t, err)

	_, err = svc.AssignApprover(context.Background(), AssignApproverRequest{
		UserID: uuid.NewString(),
		RoleID: role.ID,
	}, actor)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
