package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"procurement/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// In-memory repository fakes. They mirror the ordering and CAS semantics the
// real postgres-backed implementations provide.

type fakeTx struct{}

func (f *fakeTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	held := &heldLocks{}
	err := fn(context.WithValue(ctx, heldLocksKey{}, held))
	held.releaseAll()
	return err
}

// heldLocks collects advisory locks taken during a fake transaction so they
// release at transaction end, matching pg_advisory_xact_lock.
type heldLocks struct {
	mu      sync.Mutex
	release []func()
}

type heldLocksKey struct{}

func (h *heldLocks) add(release func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.release = append(h.release, release)
}

func (h *heldLocks) releaseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, release := range h.release {
		release()
	}
	h.release = nil
}

type fakeRuleRepo struct {
	mu        sync.Mutex
	rules     map[uuid.UUID]*model.ApprovalRule
	approvers map[uuid.UUID][]model.RuleApprover
	snapshots []model.MatrixSnapshot
}

func newFakeRuleRepo() *fakeRuleRepo {
	return &fakeRuleRepo{
		rules:     make(map[uuid.UUID]*model.ApprovalRule),
		approvers: make(map[uuid.UUID][]model.RuleApprover),
	}
}

func (f *fakeRuleRepo) Create(_ context.Context, rule *model.ApprovalRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	rule.CreatedAt = time.Now()
	cp := *rule
	f.rules[rule.ID] = &cp
	return nil
}

func (f *fakeRuleRepo) Update(_ context.Context, rule *model.ApprovalRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rule
	f.rules[rule.ID] = &cp
	return nil
}

func (f *fakeRuleRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rules, id)
	delete(f.approvers, id)
	return nil
}

func (f *fakeRuleRepo) FindByID(_ context.Context, id uuid.UUID) (*model.ApprovalRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule, ok := f.rules[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *rule
	cp.Approvers = append([]model.RuleApprover(nil), f.approvers[id]...)
	return &cp, nil
}

func (f *fakeRuleRepo) List(_ context.Context, category string, page, limit int) ([]model.ApprovalRule, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ApprovalRule
	for _, r := range f.rules {
		if category == "" || r.Category == category {
			out = append(out, *r)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeRuleRepo) GetActiveRules(_ context.Context, category string) ([]model.ApprovalRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ApprovalRule
	for _, r := range f.rules {
		if r.IsActive && r.Category == category {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MinAmount.Equal(out[j].MinAmount) {
			return out[i].MinAmount.LessThan(out[j].MinAmount)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (f *fakeRuleRepo) GetApprovers(_ context.Context, ruleID uuid.UUID) ([]model.RuleApprover, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]model.RuleApprover(nil), f.approvers[ruleID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

func (f *fakeRuleRepo) ReplaceApprovers(_ context.Context, ruleID uuid.UUID, approvers []model.RuleApprover) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.RuleApprover, len(approvers))
	for i, a := range approvers {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.RuleID = ruleID
		out[i] = a
	}
	f.approvers[ruleID] = out
	return nil
}

func (f *fakeRuleRepo) SaveSnapshot(_ context.Context, snap *model.MatrixSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	f.snapshots = append(f.snapshots, *snap)
	return nil
}

func (f *fakeRuleRepo) ListSnapshots(_ context.Context, ruleID uuid.UUID) ([]model.MatrixSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.MatrixSnapshot
	for _, s := range f.snapshots {
		if s.RuleID == ruleID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeWorkflowRepo struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*model.Workflow
	actions   map[uuid.UUID][]*model.WorkflowAction // keyed by workflow id
	refLocks  map[uuid.UUID]*sync.Mutex

	// findDelay widens the window between the duplicate check and the
	// insert so initiation races are reproducible.
	findDelay time.Duration
}

func newFakeWorkflowRepo() *fakeWorkflowRepo {
	return &fakeWorkflowRepo{
		workflows: make(map[uuid.UUID]*model.Workflow),
		actions:   make(map[uuid.UUID][]*model.WorkflowAction),
		refLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (f *fakeWorkflowRepo) LockReference(ctx context.Context, referenceID uuid.UUID) error {
	f.mu.Lock()
	lock, ok := f.refLocks[referenceID]
	if !ok {
		lock = &sync.Mutex{}
		f.refLocks[referenceID] = lock
	}
	f.mu.Unlock()

	lock.Lock()
	if held, ok := ctx.Value(heldLocksKey{}).(*heldLocks); ok {
		held.add(lock.Unlock)
	} else {
		lock.Unlock()
	}
	return nil
}

func (f *fakeWorkflowRepo) Create(_ context.Context, wf *model.Workflow, actions []model.WorkflowAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if wf.Status == model.StatusPending {
		for _, existing := range f.workflows {
			if existing.ReferenceID == wf.ReferenceID && existing.Status == model.StatusPending {
				return errors.New(`duplicate key value violates unique constraint "idx_workflows_pending_reference"`)
			}
		}
	}
	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	wf.CreatedAt = time.Now()
	cp := *wf
	f.workflows[wf.ID] = &cp
	for i := range actions {
		a := actions[i]
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.WorkflowID = wf.ID
		f.actions[wf.ID] = append(f.actions[wf.ID], &a)
	}
	return nil
}

func (f *fakeWorkflowRepo) find(id uuid.UUID) (*model.Workflow, error) {
	wf, ok := f.workflows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *wf
	cp.Actions = f.sortedActions(id)
	return &cp, nil
}

func (f *fakeWorkflowRepo) sortedActions(id uuid.UUID) []model.WorkflowAction {
	out := make([]model.WorkflowAction, 0, len(f.actions[id]))
	for _, a := range f.actions[id] {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out
}

func (f *fakeWorkflowRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(id)
}

func (f *fakeWorkflowRepo) FindByIDForUpdate(_ context.Context, id uuid.UUID) (*model.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(id)
}

func (f *fakeWorkflowRepo) FindActiveByReference(_ context.Context, referenceID uuid.UUID) (*model.Workflow, error) {
	f.mu.Lock()
	var found *model.Workflow
	for _, wf := range f.workflows {
		if wf.ReferenceID == referenceID && wf.Status == model.StatusPending {
			cp := *wf
			found = &cp
			break
		}
	}
	delay := f.findDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return found, nil
}

func (f *fakeWorkflowRepo) GetActions(_ context.Context, workflowID uuid.UUID) ([]model.WorkflowAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedActions(workflowID), nil
}

func (f *fakeWorkflowRepo) ResolveAction(_ context.Context, actionID uuid.UUID, status string, approverID uuid.UUID, actedAt time.Time, comments string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, list := range f.actions {
		for _, a := range list {
			if a.ID == actionID {
				if a.Status != model.StatusPending {
					return false, nil
				}
				a.Status = status
				a.ApproverID = &approverID
				a.ActedAt = &actedAt
				a.Comments = comments
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeWorkflowRepo) Update(_ context.Context, wf *model.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *wf
	cp.Actions = nil
	f.workflows[wf.ID] = &cp
	return nil
}

func (f *fakeWorkflowRepo) List(_ context.Context, status, category string, page, limit int) ([]model.Workflow, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Workflow
	for id, wf := range f.workflows {
		if status != "" && wf.Status != status {
			continue
		}
		if category != "" && wf.Category != category {
			continue
		}
		cp := *wf
		cp.Actions = f.sortedActions(id)
		out = append(out, cp)
	}
	return out, int64(len(out)), nil
}

func (f *fakeWorkflowRepo) ListPendingForRoles(_ context.Context, roleIDs []uuid.UUID, page, limit int) ([]model.Workflow, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roleSet := make(map[uuid.UUID]bool, len(roleIDs))
	for _, id := range roleIDs {
		roleSet[id] = true
	}
	var out []model.Workflow
	for id, wf := range f.workflows {
		if wf.Status != model.StatusPending {
			continue
		}
		for _, a := range f.actions[id] {
			if a.SequenceOrder == wf.CurrentLevel && a.Status == model.StatusPending && roleSet[a.RoleID] {
				cp := *wf
				cp.Actions = f.sortedActions(id)
				out = append(out, cp)
				break
			}
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeWorkflowRepo) CountActiveByRule(_ context.Context, ruleID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, wf := range f.workflows {
		if wf.RuleID != nil && *wf.RuleID == ruleID && wf.Status == model.StatusPending {
			n++
		}
	}
	return n, nil
}

type fakeRoleRepo struct {
	mu          sync.Mutex
	roles       map[uuid.UUID]*model.ApprovalRole
	assignments []*model.ApproverAssignment
}

func newFakeRoleRepo() *fakeRoleRepo {
	return &fakeRoleRepo{roles: make(map[uuid.UUID]*model.ApprovalRole)}
}

func (f *fakeRoleRepo) Create(_ context.Context, role *model.ApprovalRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	cp := *role
	f.roles[role.ID] = &cp
	return nil
}

func (f *fakeRoleRepo) Update(_ context.Context, role *model.ApprovalRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *role
	f.roles[role.ID] = &cp
	return nil
}

func (f *fakeRoleRepo) FindByID(_ context.Context, id uuid.UUID) (*model.ApprovalRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *role
	return &cp, nil
}

func (f *fakeRoleRepo) FindByCode(_ context.Context, code string) (*model.ApprovalRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, role := range f.roles {
		if role.Code == code {
			cp := *role
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRoleRepo) List(_ context.Context, activeOnly bool) ([]model.ApprovalRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ApprovalRole
	for _, role := range f.roles {
		if !activeOnly || role.IsActive {
			out = append(out, *role)
		}
	}
	return out, nil
}

func (f *fakeRoleRepo) Assign(_ context.Context, assignment *model.ApproverAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if assignment.ID == uuid.Nil {
		assignment.ID = uuid.New()
	}
	cp := *assignment
	f.assignments = append(f.assignments, &cp)
	return nil
}

func (f *fakeRoleRepo) Revoke(_ context.Context, userID, roleID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			a.IsActive = false
		}
	}
	return nil
}

func (f *fakeRoleRepo) ListAssignmentsForRole(_ context.Context, roleID uuid.UUID) ([]model.ApproverAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ApproverAssignment
	for _, a := range f.assignments {
		if a.RoleID == roleID && a.IsActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRoleRepo) ActiveRoleIDsForUser(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for _, a := range f.assignments {
		if a.UserID != userID || !a.IsActive {
			continue
		}
		if role, ok := f.roles[a.RoleID]; ok && role.IsActive {
			out = append(out, a.RoleID)
		}
	}
	return out, nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *user
	return &cp, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Username == username {
			cp := *user
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUserRepo) List(_ context.Context, page, limit int) ([]model.User, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.User
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, int64(len(out)), nil
}

func (f *fakeUserRepo) Update(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) SaveRefreshToken(_ context.Context, _ *model.RefreshToken) error { return nil }
func (f *fakeUserRepo) GetRefreshToken(_ context.Context, _ string) (*model.RefreshToken, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeUserRepo) DeleteRefreshToken(_ context.Context, _ string) error { return nil }

type fakeOverrideRepo struct {
	mu        sync.Mutex
	overrides map[uuid.UUID]*model.ApprovalOverride
}

func newFakeOverrideRepo() *fakeOverrideRepo {
	return &fakeOverrideRepo{overrides: make(map[uuid.UUID]*model.ApprovalOverride)}
}

func (f *fakeOverrideRepo) Create(_ context.Context, o *model.ApprovalOverride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	cp := *o
	f.overrides[o.ID] = &cp
	return nil
}

func (f *fakeOverrideRepo) Update(_ context.Context, o *model.ApprovalOverride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.overrides[o.ID] = &cp
	return nil
}

func (f *fakeOverrideRepo) FindByID(_ context.Context, id uuid.UUID) (*model.ApprovalOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.overrides[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOverrideRepo) FindActiveByReference(_ context.Context, referenceID uuid.UUID) (*model.ApprovalOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.overrides {
		if o.ReferenceID == referenceID && o.IsActive {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeOverrideRepo) List(_ context.Context, page, limit int) ([]model.ApprovalOverride, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ApprovalOverride
	for _, o := range f.overrides {
		out = append(out, *o)
	}
	return out, int64(len(out)), nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (f *fakeAuditRepo) Append(_ context.Context, entry *model.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAuditRepo) List(_ context.Context, entityType, entityID string, page, limit int) ([]model.AuditLog, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AuditLog
	for _, e := range f.entries {
		if entityType != "" && e.EntityType != entityType {
			continue
		}
		if entityID != "" && e.EntityID != entityID {
			continue
		}
		out = append(out, e)
	}
	return out, int64(len(out)), nil
}

func (f *fakeAuditRepo) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}
