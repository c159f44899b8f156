package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/gateway"
	"github.com/ayo6706/escrow-settlement/internal/notify"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectHappyPathPaysFreelancerAgreedPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	project, session := h.fundedProject(t, units(1000))
	assert.Equal(t, units(1025), session.Amount)
	assert.Equal(t, units(25), session.PlatformFee)
	require.NotNil(t, project.EscrowRecordID)

	record, err := h.store.Queries().GetEscrowRecord(ctx, *project.EscrowRecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusHeld, record.Status)
	assert.Equal(t, units(1025), record.Amount)

	submitted, err := h.projects.SubmitWork(ctx, project.ID, project.FreelancerID, "https://files.example.com/site.zip")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusPendingApproval, submitted.WorkflowStatus)
	require.NotNil(t, submitted.ApprovalDueAt)
	assert.True(t, h.clock.Now().Add(DefaultApprovalWindow).Equal(*submitted.ApprovalDueAt))

	paid, err := h.projects.ApproveWork(ctx, project.ID, project.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusPaid, paid.WorkflowStatus)

	assert.Equal(t, units(1000), h.balance(t, project.FreelancerID))
	assert.Equal(t, units(25), h.accountNet(t, domain.AccountPlatformFees))
	assert.Equal(t, int64(0), h.accountNet(t, domain.AccountEscrow))
	h.requireBalanced(t)

	notes := h.notes.Drain()
	require.Len(t, notes, 2)
	assert.Equal(t, notify.TypeWorkSubmitted, notes[0].Type)
	assert.Equal(t, project.OwnerID, notes[0].UserID)
	assert.Equal(t, notify.TypeEscrowReleased, notes[1].Type)
	assert.Equal(t, project.FreelancerID, notes[1].UserID)

	_, err = h.projects.ApproveWork(ctx, project.ID, project.OwnerID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, units(1000), h.balance(t, project.FreelancerID))
}

func TestProjectCreateValidation(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	tests := []struct {
		name  string
		req   CreateProjectRequest
		field string
	}{
		{name: "zero price", req: CreateProjectRequest{OwnerID: owner, FreelancerID: uuid.New()}, field: "agreed_price"},
		{name: "no freelancer", req: CreateProjectRequest{OwnerID: owner, AgreedPrice: 10}, field: "freelancer_id"},
		{name: "self hire", req: CreateProjectRequest{OwnerID: owner, FreelancerID: owner, AgreedPrice: 10}, field: "freelancer_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.projects.Create(context.Background(), tt.req)
			ve, ok := domain.AsValidationError(err)
			require.True(t, ok)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestProjectPlaceEscrowReusesOpenSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, freelancer := uuid.New(), uuid.New()
	project, err := h.projects.Create(ctx, CreateProjectRequest{
		OwnerID: owner, FreelancerID: freelancer, AgreedPrice: units(40), Currency: testCurrency,
	})
	require.NoError(t, err)
	req := PlaceProjectEscrowRequest{ProjectID: project.ID, ActorID: owner, Amount: units(40)}

	first, err := h.projects.PlaceEscrow(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPendingConfirmation, first.Status)
	assert.Equal(t, "esc_"+first.ID.String(), first.ProviderReference)

	second, err := h.projects.PlaceEscrow(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	h.clock.Advance(25 * time.Hour)
	third, err := h.projects.PlaceEscrow(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)

	expired, err := h.funding.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusExpired, expired.Status)

	stored, err := h.projects.Get(ctx, project.ID, owner, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusPriceAgreed, stored.WorkflowStatus)
}

func TestProjectPlaceEscrowRejectsMismatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, freelancer := uuid.New(), uuid.New()
	project, err := h.projects.Create(ctx, CreateProjectRequest{
		OwnerID: owner, FreelancerID: freelancer, AgreedPrice: units(40), Currency: testCurrency,
	})
	require.NoError(t, err)

	_, err = h.projects.PlaceEscrow(ctx, PlaceProjectEscrowRequest{ProjectID: project.ID, ActorID: owner, Amount: units(39)})
	ve, ok := domain.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "amount", ve.Field)

	_, err = h.projects.PlaceEscrow(ctx, PlaceProjectEscrowRequest{ProjectID: project.ID, ActorID: owner, FreelancerID: uuid.New(), Amount: units(40)})
	ve, ok = domain.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "freelancer_id", ve.Field)

	_, err = h.projects.PlaceEscrow(ctx, PlaceProjectEscrowRequest{ProjectID: project.ID, ActorID: freelancer, Amount: units(40)})
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.projects.PlaceEscrow(ctx, PlaceProjectEscrowRequest{ProjectID: uuid.New(), ActorID: owner, Amount: units(40)})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProjectPlaceEscrowAfterFunding(t *testing.T) {
	h := newHarness(t)
	project, _ := h.fundedProject(t, units(10))

	_, err := h.projects.PlaceEscrow(context.Background(), PlaceProjectEscrowRequest{
		ProjectID: project.ID, ActorID: project.OwnerID, Amount: units(10),
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestProjectFundingWebhookAmountMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, freelancer := uuid.New(), uuid.New()
	project, err := h.projects.Create(ctx, CreateProjectRequest{
		OwnerID: owner, FreelancerID: freelancer, AgreedPrice: units(40), Currency: testCurrency,
	})
	require.NoError(t, err)
	session, err := h.projects.PlaceEscrow(ctx, PlaceProjectEscrowRequest{ProjectID: project.ID, ActorID: owner, Amount: units(40)})
	require.NoError(t, err)

	_, err = h.deliver(t, gateway.Event{
		Reference: session.ProviderReference,
		Type:      domain.EventEscrowFunded,
		Amount:    units(40),
		Currency:  testCurrency,
	})
	ve, ok := domain.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "amount", ve.Field)

	stored, err := h.projects.Get(ctx, project.ID, owner, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusPriceAgreed, stored.WorkflowStatus)
	assert.Equal(t, int64(0), h.accountNet(t, domain.AccountEscrow))
}

func TestProjectSubmitWorkRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project, _ := h.fundedProject(t, units(10))

	_, err := h.projects.SubmitWork(ctx, project.ID, project.FreelancerID, "  ")
	_, ok := domain.AsValidationError(err)
	require.True(t, ok)

	_, err = h.projects.SubmitWork(ctx, project.ID, project.OwnerID, "done")
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.projects.ApproveWork(ctx, project.ID, project.OwnerID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestProjectApproveRequiresOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project, _ := h.fundedProject(t, units(10))
	_, err := h.projects.SubmitWork(ctx, project.ID, project.FreelancerID, "done")
	require.NoError(t, err)

	_, err = h.projects.ApproveWork(ctx, project.ID, project.FreelancerID)
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, int64(0), h.balance(t, project.FreelancerID))
}

func TestProjectDisputeResolvedWithRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project, session := h.fundedProject(t, units(100))
	_, err := h.projects.SubmitWork(ctx, project.ID, project.FreelancerID, "draft")
	require.NoError(t, err)

	dispute, err := h.projects.Dispute(ctx, project.ID, project.OwnerID, "work incomplete")
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusOpen, dispute.Status)

	_, err = h.projects.Dispute(ctx, project.ID, project.FreelancerID, "me too")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.projects.ApproveWork(ctx, project.ID, project.OwnerID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	admin := uuid.New()
	resolved, err := h.disputes.Resolve(ctx, ResolveDisputeRequest{
		DisputeID:  dispute.ID,
		Resolution: domain.DisputeResolutionRefund,
		Note:       "deliverables missing",
		AdminID:    admin,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, domain.DisputeResolutionRefund, *resolved.Resolution)

	stored, err := h.projects.Get(ctx, project.ID, admin, true)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusRefunded, stored.WorkflowStatus)
	assert.Equal(t, session.Amount, h.balance(t, project.OwnerID))
	assert.Equal(t, int64(0), h.balance(t, project.FreelancerID))
	h.requireBalanced(t)

	_, err = h.disputes.Resolve(ctx, ResolveDisputeRequest{DisputeID: dispute.ID, Resolution: domain.DisputeResolutionRelease, AdminID: admin})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestProjectDisputeResolvedWithRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project, _ := h.fundedProject(t, units(100))

	dispute, err := h.projects.Dispute(ctx, project.ID, project.FreelancerID, "owner unresponsive")
	require.NoError(t, err)

	_, err = h.disputes.Resolve(ctx, ResolveDisputeRequest{DisputeID: dispute.ID, Resolution: domain.DisputeResolutionRelease, AdminID: uuid.New()})
	require.NoError(t, err)

	stored, err := h.projects.Get(ctx, project.ID, project.OwnerID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusPaid, stored.WorkflowStatus)
	assert.Equal(t, units(100), h.balance(t, project.FreelancerID))
	h.requireBalanced(t)
}

func TestProjectDisputeRequiresParty(t *testing.T) {
	h := newHarness(t)
	project, _ := h.fundedProject(t, units(10))

	_, err := h.projects.Dispute(context.Background(), project.ID, uuid.New(), "who am i")
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.projects.Dispute(context.Background(), project.ID, project.OwnerID, "")
	_, ok := domain.AsValidationError(err)
	require.True(t, ok)
}

func TestProjectGetHidesFromStrangers(t *testing.T) {
	h := newHarness(t)
	project, _ := h.fundedProject(t, units(10))

	_, err := h.projects.Get(context.Background(), project.ID, uuid.New(), false)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.projects.Get(context.Background(), project.ID, uuid.New(), true)
	require.NoError(t, err)
}

func TestProjectAutoApproveDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	due, _ := h.fundedProject(t, units(10))
	_, err := h.projects.SubmitWork(ctx, due.ID, due.FreelancerID, "done")
	require.NoError(t, err)

	h.clock.Advance(DefaultApprovalWindow - time.Hour)
	notYet, _ := h.fundedProject(t, units(20))
	_, err = h.projects.SubmitWork(ctx, notYet.ID, notYet.FreelancerID, "done")
	require.NoError(t, err)

	approved, err := h.projects.AutoApproveDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, approved)

	h.clock.Advance(time.Hour)
	approved, err = h.projects.AutoApproveDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, approved)
	assert.Equal(t, units(10), h.balance(t, due.FreelancerID))
	assert.Equal(t, int64(0), h.balance(t, notYet.FreelancerID))

	approved, err = h.projects.AutoApproveDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, approved)
	h.requireBalanced(t)
}
