package service

import (
	"context"
	"testing"

	"procurement/internal/model"
	"procurement/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newRuleServiceForTest() (RuleService, *fakeRuleRepo, *fakeWorkflowRepo, *fakeAuditRepo) {
	rules := newFakeRuleRepo()
	workflows := newFakeWorkflowRepo()
	audit := &fakeAuditRepo{}
	svc := NewRuleService(rules, workflows, audit, &fakeTx{}, zerolog.Nop())
	return svc, rules, workflows, audit
}

func seedRule(t *testing.T, repo *fakeRuleRepo, rule model.ApprovalRule, approvers ...model.RuleApprover) uuid.UUID {
	t.Helper()
	if rule.Currency == "" {
		rule.Currency = "USD"
	}
	rule.IsActive = true
	require.NoError(t, repo.Create(context.Background(), &rule))
	require.NoError(t, repo.ReplaceApprovers(context.Background(), rule.ID, approvers))
	return rule.ID
}

func TestMatchRuleNoRulesMeansAutoApprove(t *testing.T) {
	svc, _, _, _ := newRuleServiceForTest()

	rule, err := svc.MatchRule(context.Background(), model.CategoryPurchaseRequest, dec("100"), "USD", nil)
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestMatchRuleAmountBoundaries(t *testing.T) {
	svc, rules, _, _ := newRuleServiceForTest()
	id := seedRule(t, rules, model.ApprovalRule{
		Category:  model.CategoryPurchaseRequest,
		MinAmount: dec("100"),
		MaxAmount: decPtr("1000"),
	})

	cases := []struct {
		name    string
		amount  string
		matched bool
	}{
		{"below min", "99.99", false},
		{"at min (inclusive)", "100", true},
		{"inside range", "500", true},
		{"just below max", "999.99", true},
		{"at max (exclusive)", "1000", false},
		{"above max", "1000.01", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule, err := svc.MatchRule(context.Background(), model.CategoryPurchaseRequest, dec(tc.amount), "USD", nil)
			require.NoError(t, err)
			if tc.matched {
				require.NotNil(t, rule)
				assert.Equal(t, id, rule.ID)
			} else {
				assert.Nil(t, rule)
			}
		})
	}
}

func TestMatchRuleZeroAmountMatchesZeroMinimum(t *testing.T) {
	svc, rules, _, _ := newRuleServiceForTest()
	id := seedRule(t, rules, model.ApprovalRule{
		Category:  model.CategoryPayments,
		MinAmount: dec("0"),
	})

	rule, err := svc.MatchRule(context.Background(), model.CategoryPayments, dec("0"), "USD", nil)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, id, rule.ID)
}

func TestMatchRuleNegativeAmountRejected(t *testing.T) {
	svc, _, _, _ := newRuleServiceForTest()

	_, err := svc.MatchRule(context.Background(), model.CategoryPayments, dec("-1"), "USD", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestMatchRuleUngovernedCategoryMatchesNothing(t *testing.T) {
	svc, rules, _, _ := newRuleServiceForTest()
	seedRule(t, rules, model.ApprovalRule{
		Category:  model.CategoryPurchaseOrder,
		MinAmount: dec("0"),
	})

	// No rule governs this category, so the document auto-approves.
	rule, err := svc.MatchRule(context.Background(), "rfi", dec("10"), "USD", nil)
	require.NoError(t, err)
	assert.Nil(t, rule)

	_, err = svc.MatchRule(context.Background(), "", dec("10"), "USD", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestCreateRuleRejectsUnknownCategory(t *testing.T) {
	svc, _, _, _ := newRuleServiceForTest()

	_, err := svc.CreateRule(context.Background(), SaveRuleRequest{
		Category:  "travel",
		MinAmount: "0",
	}, uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestMatchRuleSkipsOtherCurrencies(t *testing.T) {
	svc, rules, _, _ := newRuleServiceForTest()
	seedRule(t, rules, model.ApprovalRule{
		Category:  model.CategoryContracts,
		MinAmount: dec("0"),
		Currency:  "EUR",
	})

	rule, err := svc.MatchRule(context.Background(), model.CategoryContracts, dec("50"), "USD", nil)
	require.NoError(t, err)
	assert.Nil(t, rule)

	rule, err = svc.MatchRule(context.Background(), model.CategoryContracts, dec("50"), "EUR", nil)
	require.NoError(t, err)
	assert.NotNil(t, rule)
}

func TestMatchRuleDepartmentRuleWinsOverGlobal(t *testing.T) {
	svc, rules, _, _ := newRuleServiceForTest()
	dept := uuid.New()

	globalID := seedRule(t, rules, model.ApprovalRule{
		Category:  model.CategoryCapex,
		MinAmount: dec("0"),
	})
	deptID := seedRule(t, rules, model.ApprovalRule{
		Category:     model.CategoryCapex,
		MinAmount:    dec("0"),
		DepartmentID: &dept,
	})

	// With the department set, the scoped rule wins.
	rule, err := svc.MatchRule(context.Background(), model.CategoryCapex, dec("500"), "USD", &dept)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, deptID, rule.ID)

	// Without a department, only the global rule is eligible.
	rule, err = svc.MatchRule(context.Background(), model.CategoryCapex, dec("500"), "USD", nil)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, globalID, rule.ID)

	// A different department falls back to the global rule.
	other := uuid.New()
	rule, err = svc.MatchRule(context.Background(), model.CategoryCapex, dec("500"), "USD", &other)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, globalID, rule.ID)
}

func TestMatchRuleOverlappingRulesDeterministic(t *testing.T) {
	svc, rules, _, _ := newRuleServiceForTest()
	seedRule(t, rules, model.ApprovalRule{
		Category:  model.CategoryPurchaseOrder,
		MinAmount: dec("100"),
	})
	seedRule(t, rules, model.ApprovalRule{
		Category:  model.CategoryPurchaseOrder,
		MinAmount: dec("50"),
	})

	// The lowest min_amount wins, and repeated calls agree.
	first, err := svc.MatchRule(context.Background(), model.CategoryPurchaseOrder, dec("200"), "USD", nil)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.MinAmount.Equal(dec("50")))

	for i := 0; i < 5; i++ {
		again, err := svc.MatchRule(context.Background(), model.CategoryPurchaseOrder, dec("200"), "USD", nil)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestMatchRuleIgnoresInactiveRules(t *testing.T) {
	svc, rules, _, _ := newRuleServiceForTest()
	id := seedRule(t, rules, model.ApprovalRule{
		Category:  model.CategoryFloatCash,
		MinAmount: dec("0"),
	})
	rule, err := rules.FindByID(context.Background(), id)
	require.NoError(t, err)
	rule.IsActive = false
	require.NoError(t, rules.Update(context.Background(), rule))

	got, err := svc.MatchRule(context.Background(), model.CategoryFloatCash, dec("10"), "USD", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateRuleValidatesApproverSequence(t *testing.T) {
	svc, _, _, _ := newRuleServiceForTest()
	role := uuid.New().String()
	actor := uuid.New().String()

	cases := []struct {
		name      string
		approvers []RuleApproverDTO
		wantErr   bool
	}{
		{"contiguous from one", []RuleApproverDTO{
			{SequenceOrder: 1, RoleID: role},
			{SequenceOrder: 2, RoleID: role},
		}, false},
		{"duplicate order", []RuleApproverDTO{
			{SequenceOrder: 1, RoleID: role},
			{SequenceOrder: 1, RoleID: role},
		}, true},
		{"gap in sequence", []RuleApproverDTO{
			{SequenceOrder: 1, RoleID: role},
			{SequenceOrder: 3, RoleID: role},
		}, true},
		{"missing level one", []RuleApproverDTO{
			{SequenceOrder: 2, RoleID: role},
		}, true},
		{"empty sequence allowed", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateRule(context.Background(), SaveRuleRequest{
				Category:  model.CategoryPurchaseRequest,
				MinAmount: "0",
				Approvers: tc.approvers,
			}, actor)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCreateRuleRejectsInvertedRange(t *testing.T) {
	svc, _, _, _ := newRuleServiceForTest()

	_, err := svc.CreateRule(context.Background(), SaveRuleRequest{
		Category:  model.CategoryPurchaseRequest,
		MinAmount: "1000",
		MaxAmount: "100",
	}, uuid.New().String())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestUpdateRuleBumpsVersionAndSnapshots(t *testing.T) {
	svc, _, _, audit := newRuleServiceForTest()
	actor := uuid.New().String()

	created, err := svc.CreateRule(context.Background(), SaveRuleRequest{
		Category:  model.CategoryContracts,
		MinAmount: "0",
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)

	updated, err := svc.UpdateRule(context.Background(), created.ID, SaveRuleRequest{
		Category:  model.CategoryContracts,
		MinAmount: "100",
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	snaps, err := svc.ListSnapshots(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 1, snaps[0].Version)
	assert.Equal(t, 2, snaps[1].Version)

	assert.Contains(t, audit.actions(), model.ActionCreateRule)
	assert.Contains(t, audit.actions(), model.ActionUpdateRule)
}

func TestDeleteRuleBlockedByPendingWorkflows(t *testing.T) {
	svc, rules, workflows, _ := newRuleServiceForTest()
	id := seedRule(t, rules, model.ApprovalRule{
		Category:  model.CategoryPayments,
		MinAmount: dec("0"),
	})

	wf := &model.Workflow{
		ReferenceID:   uuid.New(),
		ReferenceCode: "PAY-001",
		Category:      model.CategoryPayments,
		Amount:        dec("500"),
		Currency:      "USD",
		RuleID:        &id,
		Status:        model.StatusPending,
		CurrentLevel:  1,
	}
	require.NoError(t, workflows.Create(context.Background(), wf, nil))

	err := svc.DeleteRule(context.Background(), id.String(), uuid.New().String())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	// Once the workflow reaches a terminal state the rule can go.
	wf.Status = model.StatusApproved
	require.NoError(t, workflows.Update(context.Background(), wf))
	require.NoError(t, svc.DeleteRule(context.Background(), id.String(), uuid.New().String()))
}
