package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/utils"
)

func TestInvitationToPaidJob(t *testing.T) {
	h := newActiveHarness(t)
	ctx := context.Background()

	inv := h.invite(t, "P1", "W1")
	res := h.accept(t, inv, workerW1)
	if jobs := h.jobsForInvitation(t, inv.ID); len(jobs) != 1 {
		t.Fatalf("expected exactly one job record, got %d", len(jobs))
	}
	jobId := res.JobRecord.ID

	h.clock.Advance(8 * time.Hour)
	job, err := h.engine.Jobs.MarkComplete(ctx, jobId, workerW1)
	if err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if job.Status != models.JobRecordStatusCompleted || job.CompleteTime == nil || !job.CompleteTime.Equal(h.clock.Now()) {
		t.Fatalf("unexpected job after complete: %+v", job)
	}

	_, err = h.engine.Jobs.Confirm(ctx, jobId, companyC2)
	expectKind(t, err, utils.KindForbidden, "")
	stored, _ := h.store.GetJobRecord(ctx, jobId)
	if stored.Status != models.JobRecordStatusCompleted || stored.ConfirmTime != nil {
		t.Fatalf("forbidden confirm must not change the job, got %+v", stored)
	}

	job, err = h.engine.Jobs.Confirm(ctx, jobId, companyC1)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if job.Status != models.JobRecordStatusConfirmed || job.ConfirmTime == nil {
		t.Fatalf("unexpected job after confirm: %+v", job)
	}

	job, err = h.engine.Jobs.MarkPaid(ctx, jobId, companyC1)
	if err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if job.Status != models.JobRecordStatusPaid || job.PaidTime == nil {
		t.Fatalf("unexpected job after pay: %+v", job)
	}

	// Paid is terminal.
	_, err = h.engine.Jobs.MarkComplete(ctx, jobId, workerW1)
	expectKind(t, err, utils.KindInvalidState, string(models.JobRecordStatusPaid))
	_, err = h.engine.Jobs.Dispute(ctx, jobId, companyC1, &models.NewDispute{Reason: "late"})
	expectKind(t, err, utils.KindInvalidState, string(models.JobRecordStatusPaid))

	events, err := h.engine.Jobs.Events(ctx, companyC1, jobId)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var types []models.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []models.EventType{models.EventJobAssigned, models.EventJobCompleted, models.EventJobConfirmed, models.EventJobPaid}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	seen := map[models.EventType]bool{}
	for _, ty := range types {
		seen[ty] = true
	}
	for _, w := range want {
		if !seen[w] {
			t.Fatalf("missing event %s in %v", w, types)
		}
	}
}

func TestJobTransitionsAreMonotonic(t *testing.T) {
	h := newActiveHarness(t)
	ctx := context.Background()
	res := h.accept(t, h.invite(t, "P1", "W1"), workerW1)
	jobId := res.JobRecord.ID

	if _, err := h.engine.Jobs.Confirm(ctx, jobId, companyC1); err == nil {
		t.Fatalf("confirm before complete must fail")
	} else {
		expectKind(t, err, utils.KindInvalidState, string(models.JobRecordStatusAssigned))
	}
	if _, err := h.engine.Jobs.MarkPaid(ctx, jobId, companyC1); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("pay before confirm must fail with InvalidState, got %v", err)
	}

	if _, err := h.engine.Jobs.MarkComplete(ctx, jobId, workerW1); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	_, err := h.engine.Jobs.MarkComplete(ctx, jobId, workerW1)
	expectKind(t, err, utils.KindInvalidState, string(models.JobRecordStatusCompleted))

	if _, err := h.engine.Jobs.Confirm(ctx, jobId, companyC1); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	before, _ := h.store.GetJobRecord(ctx, jobId)
	_, err = h.engine.Jobs.MarkComplete(ctx, jobId, workerW1)
	expectKind(t, err, utils.KindInvalidState, string(models.JobRecordStatusConfirmed))
	after, _ := h.store.GetJobRecord(ctx, jobId)
	if after.Status != before.Status || !after.CompleteTime.Equal(*before.CompleteTime) {
		t.Fatalf("failed transition mutated the job: before=%+v after=%+v", before, after)
	}
}

func TestJobChecksRunInOrder(t *testing.T) {
	h := newActiveHarness(t)
	ctx := context.Background()
	res := h.accept(t, h.invite(t, "P1", "W1"), workerW1)

	_, err := h.engine.Jobs.MarkComplete(ctx, "missing", workerW1)
	expectKind(t, err, utils.KindNotFound, "")

	// Wrong actor on a job that is also in the wrong state reports Forbidden.
	_, err = h.engine.Jobs.Confirm(ctx, res.JobRecord.ID, companyC2)
	expectKind(t, err, utils.KindForbidden, "")
	_, err = h.engine.Jobs.MarkComplete(ctx, res.JobRecord.ID, workerW2)
	expectKind(t, err, utils.KindForbidden, "")
	_, err = h.engine.Jobs.MarkComplete(ctx, res.JobRecord.ID, companyC1)
	expectKind(t, err, utils.KindForbidden, "")
}

func TestDispute(t *testing.T) {
	h := newActiveHarness(t)
	ctx := context.Background()
	jobId := h.accept(t, h.invite(t, "P1", "W1"), workerW1).JobRecord.ID

	_, err := h.engine.Jobs.Dispute(ctx, jobId, workerW1, &models.NewDispute{Reason: "not started"})
	expectKind(t, err, utils.KindInvalidState, string(models.JobRecordStatusAssigned))
	_, err = h.engine.Jobs.Dispute(ctx, jobId, workerW1, &models.NewDispute{Reason: "  "})
	expectKind(t, err, utils.KindValidation, "")

	if _, err := h.engine.Jobs.MarkComplete(ctx, jobId, workerW1); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	_, err = h.engine.Jobs.Dispute(ctx, jobId, workerW2, &models.NewDispute{Reason: "hours"})
	expectKind(t, err, utils.KindForbidden, "")

	job, err := h.engine.Jobs.Dispute(ctx, jobId, companyC1, &models.NewDispute{Reason: "hours do not match"})
	if err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	if job.Status != models.JobRecordStatusDisputed || *job.DisputeReason != "hours do not match" || *job.DisputedBy != "C1" {
		t.Fatalf("unexpected disputed job %+v", job)
	}

	_, err = h.engine.Jobs.Confirm(ctx, jobId, companyC1)
	expectKind(t, err, utils.KindInvalidState, string(models.JobRecordStatusDisputed))
}

func TestCreateDirectJob(t *testing.T) {
	h := newActiveHarness(t)
	ctx := context.Background()

	job, err := h.engine.Jobs.CreateDirect(ctx, companyC1, &models.NewDirectJob{ProjectId: "P1", WorkerId: "W2", CompanyId: "C1"})
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}
	if job.InvitationId != nil || job.Status != models.JobRecordStatusAssigned {
		t.Fatalf("unexpected direct job %+v", job)
	}

	_, err = h.engine.Jobs.CreateDirect(ctx, companyC1, &models.NewDirectJob{ProjectId: "P9", WorkerId: "W2", CompanyId: "C1"})
	expectKind(t, err, utils.KindForbidden, "")
	_, err = h.engine.Jobs.CreateDirect(ctx, workerW2, &models.NewDirectJob{ProjectId: "P1", WorkerId: "W2", CompanyId: "C1"})
	expectKind(t, err, utils.KindForbidden, "")
	_, err = h.engine.Jobs.CreateDirect(ctx, companyC1, &models.NewDirectJob{ProjectId: "P1", WorkerId: "W404", CompanyId: "C1"})
	expectKind(t, err, utils.KindValidation, "")
}

func TestJobReadsAreScoped(t *testing.T) {
	h := newActiveHarness(t)
	ctx := context.Background()
	jobId := h.accept(t, h.invite(t, "P1", "W1"), workerW1).JobRecord.ID
	h.accept(t, h.invite(t, "P2", "W2"), workerW2)

	_, err := h.engine.Jobs.Get(ctx, workerW2, jobId)
	expectKind(t, err, utils.KindNotFound, "")

	page, err := h.engine.Jobs.List(ctx, workerW1, models.JobRecordFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != jobId {
		t.Fatalf("worker must only see own jobs, got %+v", page)
	}

	all, err := h.engine.Jobs.ListAll(ctx, companyC1, "C1", "")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both company jobs, got %d", len(all))
	}
	_, err = h.engine.Jobs.ListAll(ctx, companyC2, "C1", "")
	expectKind(t, err, utils.KindForbidden, "")
}

func TestIdempotentRespondReplays(t *testing.T) {
	h := newActiveHarness(t)
	inv := h.invite(t, "P1", "W1")
	ctx := utils.SetIdempotencyKeyInContext(context.Background(), "respond-1")

	first, err := h.engine.Invitations.Respond(ctx, inv.ID, workerW1, &models.InvitationResponse{Decision: models.DecisionAccepted})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if first.Replayed {
		t.Fatalf("first call must not be a replay")
	}

	again, err := h.engine.Invitations.Respond(ctx, inv.ID, workerW1, &models.InvitationResponse{Decision: models.DecisionAccepted})
	if err != nil {
		t.Fatalf("replayed Respond: %v", err)
	}
	if !again.Replayed || again.JobRecord == nil || again.JobRecord.ID != first.JobRecord.ID {
		t.Fatalf("expected replay of the first result, got %+v", again)
	}
	if jobs := h.jobsForInvitation(t, inv.ID); len(jobs) != 1 {
		t.Fatalf("replay must not create another job, got %d", len(jobs))
	}

	other := utils.SetIdempotencyKeyInContext(context.Background(), "respond-2")
	_, err = h.engine.Invitations.Respond(other, inv.ID, workerW1, &models.InvitationResponse{Decision: models.DecisionAccepted})
	expectKind(t, err, utils.KindInvalidState, string(models.InvitationStatusAccepted))
}

func TestIdempotencyKeyReusedWithDifferentBody(t *testing.T) {
	h := newActiveHarness(t)
	ctx := utils.SetIdempotencyKeyInContext(context.Background(), "create-1")

	first, err := h.engine.Invitations.Create(ctx, companyC1, invitationInput("P1", "W1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	same, err := h.engine.Invitations.Create(ctx, companyC1, invitationInput("P1", "W1"))
	if err != nil || same.ID != first.ID {
		t.Fatalf("same body must replay the first invitation, got %+v, %v", same, err)
	}

	changed := invitationInput("P1", "W2")
	_, err = h.engine.Invitations.Create(ctx, companyC1, changed)
	expectKind(t, err, utils.KindConflict, "")
	if n := h.activeCount(t, "P1", "W2"); n != 0 {
		t.Fatalf("a rejected replay must not create an invitation, got %d", n)
	}

	higher := invitationInput("P1", "W1")
	higher.WageOffer = higher.WageOffer.Add(higher.WageOffer)
	_, err = h.engine.Invitations.Create(ctx, companyC1, higher)
	expectKind(t, err, utils.KindConflict, "")
}

func TestFailedOperationDoesNotBurnIdempotencyKey(t *testing.T) {
	h := newActiveHarness(t)
	ctx := utils.SetIdempotencyKeyInContext(context.Background(), "complete-1")
	jobId := h.accept(t, h.invite(t, "P1", "W1"), workerW1).JobRecord.ID

	_, err := h.engine.Jobs.MarkComplete(ctx, jobId, workerW2)
	expectKind(t, err, utils.KindForbidden, "")

	job, err := h.engine.Jobs.MarkComplete(ctx, jobId, workerW1)
	if err != nil {
		t.Fatalf("MarkComplete with same key after failure: %v", err)
	}
	if job.Status != models.JobRecordStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
}

func TestTransitionTablesAreTotal(t *testing.T) {
	invStatuses := []models.InvitationStatus{
		models.InvitationStatusPending, models.InvitationStatusAccepted, models.InvitationStatusRejected,
		models.InvitationStatusExpired, models.InvitationStatusCancelled,
	}
	for _, from := range invStatuses {
		for _, to := range invStatuses {
			want := from == models.InvitationStatusPending && to != models.InvitationStatusPending
			if got := CanTransitionInvitation(from, to); got != want {
				t.Fatalf("CanTransitionInvitation(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}

	allowed := map[[2]models.JobRecordStatus]bool{
		{models.JobRecordStatusAssigned, models.JobRecordStatusCompleted}:  true,
		{models.JobRecordStatusCompleted, models.JobRecordStatusConfirmed}: true,
		{models.JobRecordStatusConfirmed, models.JobRecordStatusPaid}:      true,
		{models.JobRecordStatusCompleted, models.JobRecordStatusDisputed}:  true,
		{models.JobRecordStatusConfirmed, models.JobRecordStatusDisputed}:  true,
	}
	jobStatuses := []models.JobRecordStatus{
		models.JobRecordStatusAssigned, models.JobRecordStatusCompleted, models.JobRecordStatusConfirmed,
		models.JobRecordStatusPaid, models.JobRecordStatusDisputed,
	}
	for _, from := range jobStatuses {
		for _, to := range jobStatuses {
			if got := CanTransitionJob(from, to); got != allowed[[2]models.JobRecordStatus{from, to}] {
				t.Fatalf("CanTransitionJob(%s, %s) = %v", from, to, got)
			}
		}
	}
}
