package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/repository"
	"github.com/shiftcrew/dispatch_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// JobMaterializer owns job records once created, independent of the
// invitation they came from.
type JobMaterializer struct {
	*lifecycle
}

// createFromInvitation is called by the ledger inside the accepting
// transaction. The unique index on job_records.invitation_id keeps it at one
// job per invitation.
func (m *JobMaterializer) createFromInvitation(ctx context.Context, tx repository.Tx, inv *models.Invitation, actor models.Actor, now time.Time) (*models.JobRecord, error) {
	if inv.Status != models.InvitationStatusAccepted {
		return nil, utils.NewInvalidStateError("invitation", inv.ID, string(inv.Status), "only accepted invitations become job records")
	}
	if existing, err := tx.FindJobRecordByInvitation(ctx, inv.ID); err == nil {
		return nil, utils.NewConflictError("job_record", existing.ID, string(existing.Status), "invitation already has a job record")
	} else if !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, err
	}

	invitationId := inv.ID
	job := &models.JobRecord{
		ID:           m.newId(),
		ProjectId:    inv.ProjectId,
		WorkerId:     inv.WorkerId,
		CompanyId:    inv.CompanyId,
		InvitationId: &invitationId,
		Status:       models.JobRecordStatusAssigned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.insert(ctx, tx, job, actor, now, nil); err != nil {
		return nil, err
	}
	return job, nil
}

func (m *JobMaterializer) insert(ctx context.Context, tx repository.Tx, job *models.JobRecord, actor models.Actor, now time.Time, payload any) error {
	if err := tx.CreateJobRecord(ctx, job); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateKey):
			return utils.NewConflictError("job_record", job.ID, "", "invitation already has a job record")
		case errors.Is(err, repository.ErrForeignKey):
			return utils.NewValidationError("invitation %s does not exist", utils.DereferencePtr(job.InvitationId))
		}
		return err
	}
	return m.appendEvent(ctx, tx, eventSpec{
		Type:         models.EventJobAssigned,
		Entity:       models.EntityJobRecord,
		InvitationId: job.InvitationId,
		JobId:        &job.ID,
		Actor:        actor,
		To:           string(job.Status),
		Payload:      payload,
	}, now)
}

// CreateDirect records a job that was assigned without an invitation.
func (m *JobMaterializer) CreateDirect(ctx context.Context, actor models.Actor, input *models.NewDirectJob) (job *models.JobRecord, err error) {
	ctx, finish := m.startSpan(ctx, "JobMaterializer.CreateDirect",
		attribute.String("project_id", input.ProjectId), attribute.String("worker_id", input.WorkerId))
	defer finish(&err)

	if err := input.Validate(); err != nil {
		return nil, err
	}
	if err := requireRole(actor, models.ActorRoleCompany, "project", input.ProjectId); err != nil {
		return nil, err
	}
	if actor.Id != input.CompanyId {
		return nil, utils.NewForbiddenError("company", input.CompanyId, "", "cannot assign work on behalf of another company")
	}
	parties, err := m.parties(ctx, input.ProjectId, input.WorkerId, input.CompanyId)
	if err != nil {
		return nil, err
	}

	err = m.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var txErr error
		job, _, txErr = runIdempotent(ctx, tx, actor, "job.create_direct", input, func() (*models.JobRecord, error) {
			now := m.timestamp()
			created := &models.JobRecord{
				ID:        m.newId(),
				ProjectId: input.ProjectId,
				WorkerId:  input.WorkerId,
				CompanyId: input.CompanyId,
				Status:    models.JobRecordStatusAssigned,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := m.insert(ctx, tx, created, actor, now, parties); err != nil {
				return nil, err
			}
			return created, nil
		})
		return txErr
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"field":      "JobMaterializer",
		"job_id":     job.ID,
		"project_id": job.ProjectId,
		"worker_id":  job.WorkerId,
	}).Info("direct job assigned")
	return job, nil
}

// step describes one forward or sideways move of a job record.
type step struct {
	op        string
	to        models.JobRecordStatus
	event     models.EventType
	authorize func(job *models.JobRecord, actor models.Actor) error
	change    func(now time.Time) models.JobRecordChange
	payload   any
}

func ownedByWorker(job *models.JobRecord, actor models.Actor) error {
	if !actor.IsWorker() || job.WorkerId != actor.Id {
		return utils.NewForbiddenError("job_record", job.ID, string(job.Status), "only the assigned worker may do this")
	}
	return nil
}

func ownedByCompany(job *models.JobRecord, actor models.Actor) error {
	if !actor.IsCompany() || job.CompanyId != actor.Id {
		return utils.NewForbiddenError("job_record", job.ID, string(job.Status), "only the owning company may do this")
	}
	return nil
}

func ownedByEitherParty(job *models.JobRecord, actor models.Actor) error {
	if ownedByWorker(job, actor) == nil || ownedByCompany(job, actor) == nil {
		return nil
	}
	return utils.NewForbiddenError("job_record", job.ID, string(job.Status), "only the worker or the company of this job may dispute it")
}

// advance runs one step under a row lock. Checks happen in order: existence,
// authority, then the source status.
func (m *JobMaterializer) advance(ctx context.Context, jobId string, actor models.Actor, s step) (job *models.JobRecord, err error) {
	ctx, finish := m.startSpan(ctx, "JobMaterializer."+s.op, attribute.String("job_id", jobId))
	defer finish(&err)

	if actor.Id == "" {
		return nil, utils.NewForbiddenError("job_record", jobId, "", "an authenticated actor is required")
	}

	err = m.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var txErr error
		job, _, txErr = runIdempotent(ctx, tx, actor, "job."+s.op+":"+jobId, s.payload, func() (*models.JobRecord, error) {
			current, err := tx.LockJobRecord(ctx, jobId)
			if err != nil {
				if errors.Is(err, utils.ErrorRecordNotFound) {
					return nil, utils.NewNotFoundError("job_record", jobId)
				}
				return nil, err
			}
			if err := s.authorize(current, actor); err != nil {
				return nil, err
			}
			if err := checkJobTransition(current, s.to); err != nil {
				return nil, err
			}

			from := current.Status
			now := m.timestamp()
			change := s.change(now)
			change.Status = s.to
			change.UpdatedAt = now
			ok, err := tx.TransitionJobRecord(ctx, current.ID, from, change)
			if err != nil {
				return nil, err
			}
			if !ok {
				latest, err := tx.GetJobRecord(ctx, current.ID)
				if err != nil {
					return nil, err
				}
				return nil, utils.NewInvalidStateError("job_record", current.ID, string(latest.Status),
					"job record changed concurrently from "+string(from))
			}
			change.Apply(current)

			if err := m.appendEvent(ctx, tx, eventSpec{
				Type:         s.event,
				Entity:       models.EntityJobRecord,
				InvitationId: current.InvitationId,
				JobId:        &current.ID,
				Actor:        actor,
				From:         string(from),
				To:           string(s.to),
				Payload:      s.payload,
			}, now); err != nil {
				return nil, err
			}
			return current, nil
		})
		return txErr
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"field":    "JobMaterializer",
		"job_id":   job.ID,
		"status":   job.Status,
		"actor_id": actor.Id,
	}).Info("job record " + s.op)
	return job, nil
}

// MarkComplete is the assigned worker reporting the work done.
func (m *JobMaterializer) MarkComplete(ctx context.Context, jobId string, actor models.Actor) (*models.JobRecord, error) {
	return m.advance(ctx, jobId, actor, step{
		op:        "complete",
		to:        models.JobRecordStatusCompleted,
		event:     models.EventJobCompleted,
		authorize: ownedByWorker,
		change: func(now time.Time) models.JobRecordChange {
			return models.JobRecordChange{CompleteTime: &now}
		},
	})
}

// Confirm is the owning company accepting the completed work.
func (m *JobMaterializer) Confirm(ctx context.Context, jobId string, actor models.Actor) (*models.JobRecord, error) {
	return m.advance(ctx, jobId, actor, step{
		op:        "confirm",
		to:        models.JobRecordStatusConfirmed,
		event:     models.EventJobConfirmed,
		authorize: ownedByCompany,
		change: func(now time.Time) models.JobRecordChange {
			return models.JobRecordChange{ConfirmTime: &now}
		},
	})
}

// MarkPaid is terminal: a paid job never moves again.
func (m *JobMaterializer) MarkPaid(ctx context.Context, jobId string, actor models.Actor) (*models.JobRecord, error) {
	return m.advance(ctx, jobId, actor, step{
		op:        "pay",
		to:        models.JobRecordStatusPaid,
		event:     models.EventJobPaid,
		authorize: ownedByCompany,
		change: func(now time.Time) models.JobRecordChange {
			return models.JobRecordChange{PaidTime: &now}
		},
	})
}

// Dispute halts a completed or confirmed job. Resolution happens outside the
// engine.
func (m *JobMaterializer) Dispute(ctx context.Context, jobId string, actor models.Actor, input *models.NewDispute) (*models.JobRecord, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	reason := input.Reason
	by := actor.Id
	role := actor.Role
	return m.advance(ctx, jobId, actor, step{
		op:        "dispute",
		to:        models.JobRecordStatusDisputed,
		event:     models.EventJobDisputed,
		authorize: ownedByEitherParty,
		change: func(now time.Time) models.JobRecordChange {
			return models.JobRecordChange{
				DisputeReason: &reason,
				DisputedBy:    &by,
				DisputedRole:  &role,
				DisputedAt:    &now,
			}
		},
		payload: map[string]string{"reason": reason},
	})
}

func (m *JobMaterializer) Get(ctx context.Context, actor models.Actor, id string) (*models.JobRecord, error) {
	job, err := m.store.GetJobRecord(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.NewNotFoundError("job_record", id)
		}
		return nil, err
	}
	if !canSeeJob(actor, job) {
		return nil, utils.NewNotFoundError("job_record", id)
	}
	return job, nil
}

func canSeeJob(actor models.Actor, job *models.JobRecord) bool {
	switch {
	case actor.IsWorker():
		return job.WorkerId == actor.Id
	case actor.IsCompany():
		return job.CompanyId == actor.Id
	}
	return false
}

// List returns job records scoped to actor.
func (m *JobMaterializer) List(ctx context.Context, actor models.Actor, filter models.JobRecordFilter) (*models.Page[*models.JobRecord], error) {
	switch actor.Role {
	case models.ActorRoleWorker:
		filter.WorkerId = actor.Id
	case models.ActorRoleCompany:
		filter.CompanyId = actor.Id
	default:
		return nil, utils.NewForbiddenError("job_record", "", "", "unknown actor role")
	}
	if err := filter.Normalize(); err != nil {
		return nil, err
	}
	items, total, err := m.store.ListJobRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &models.Page[*models.JobRecord]{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// ListAll pages through every job record of a company, for exports.
func (m *JobMaterializer) ListAll(ctx context.Context, actor models.Actor, companyId string, status models.JobRecordStatus) ([]*models.JobRecord, error) {
	if !actor.IsCompany() || actor.Id != companyId {
		return nil, utils.NewForbiddenError("company", companyId, "", "only the company may export its job records")
	}
	var all []*models.JobRecord
	filter := models.JobRecordFilter{CompanyId: companyId, Status: status, Pagination: models.Pagination{Limit: models.MaxPageLimit}}
	for {
		page, err := m.List(ctx, actor, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		filter.Offset += len(page.Items)
		if len(page.Items) == 0 || int64(filter.Offset) >= page.Total {
			break
		}
	}
	return all, nil
}

func (m *JobMaterializer) Events(ctx context.Context, actor models.Actor, id string) ([]*models.LifecycleEvent, error) {
	if _, err := m.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return m.store.ListEvents(ctx, models.EntityJobRecord, id)
}
