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

// InvitationLedger owns invitations for their whole lifetime.
type InvitationLedger struct {
	*lifecycle
	jobs *JobMaterializer
}

// RespondResult carries the responded invitation and, on acceptance, the job
// record materialized in the same transaction.
type RespondResult struct {
	Invitation *models.Invitation `json:"invitation"`
	JobRecord  *models.JobRecord  `json:"job_record,omitempty"`
	Replayed   bool               `json:"-"`
}

type ExpireResult struct {
	Cutoff  time.Time `json:"cutoff"`
	Expired []string  `json:"expired"`
}

func (l *InvitationLedger) activeKey(projectId, workerId string) *string {
	key := models.ActivePairKey(projectId, workerId)
	return &key
}

// releasesPair reports whether moving to status frees the (project, worker)
// pair for a new invitation.
func (l *InvitationLedger) releasesPair(status models.InvitationStatus) bool {
	return !l.globalUnique && !status.IsActive()
}

func (l *InvitationLedger) Create(ctx context.Context, actor models.Actor, input *models.NewInvitation) (inv *models.Invitation, err error) {
	ctx, finish := l.startSpan(ctx, "InvitationLedger.Create",
		attribute.String("project_id", input.ProjectId), attribute.String("worker_id", input.WorkerId))
	defer finish(&err)

	if err := input.Validate(); err != nil {
		return nil, err
	}
	if err := requireRole(actor, models.ActorRoleCompany, "project", input.ProjectId); err != nil {
		return nil, err
	}
	if actor.Id != input.CompanyId {
		return nil, utils.NewForbiddenError("company", input.CompanyId, "", "cannot invite on behalf of another company")
	}
	parties, err := l.parties(ctx, input.ProjectId, input.WorkerId, input.CompanyId)
	if err != nil {
		return nil, err
	}

	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var txErr error
		inv, _, txErr = runIdempotent(ctx, tx, actor, "invitation.create", input, func() (*models.Invitation, error) {
			now := l.timestamp()
			created := &models.Invitation{
				ID:        l.newId(),
				ProjectId: input.ProjectId,
				CompanyId: input.CompanyId,
				WorkerId:  input.WorkerId,
				Status:    models.InvitationStatusPending,
				WageOffer: input.WageOffer,
				WageType:  input.WageType,
				Message:   input.Message,
				ActiveKey: l.activeKey(input.ProjectId, input.WorkerId),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.CreateInvitation(ctx, created); err != nil {
				if errors.Is(err, repository.ErrDuplicateKey) {
					return nil, l.pairConflict(ctx, tx, *created.ActiveKey)
				}
				return nil, err
			}
			payload := struct {
				*partiesPayload
				WageOffer string          `json:"wage_offer"`
				WageType  models.WageType `json:"wage_type"`
				Message   string          `json:"message,omitempty"`
			}{parties, created.WageOffer.String(), created.WageType, created.Message}
			if err := l.appendEvent(ctx, tx, eventSpec{
				Type:         models.EventInvitationCreated,
				Entity:       models.EntityInvitation,
				InvitationId: &created.ID,
				Actor:        actor,
				To:           string(created.Status),
				Payload:      payload,
			}, now); err != nil {
				return nil, err
			}
			return created, nil
		})
		return txErr
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"field":         "InvitationLedger",
		"invitation_id": inv.ID,
		"project_id":    inv.ProjectId,
		"worker_id":     inv.WorkerId,
	}).Info("invitation created")
	return inv, nil
}

// pairConflict builds the ConflictError for a violated active-pair index,
// naming the invitation that holds the pair when it can be found.
func (l *InvitationLedger) pairConflict(ctx context.Context, tx repository.Tx, activeKey string) error {
	const msg = "an active invitation already exists for this project and worker"
	holder, err := tx.FindInvitationByActiveKey(ctx, activeKey)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return utils.NewConflictError("invitation", "", "", msg)
		}
		return err
	}
	return utils.NewConflictError("invitation", holder.ID, string(holder.Status), msg)
}

// Respond records the targeted worker's decision. Accepting materializes the
// job record in the same transaction, so an accepted invitation without a job
// is never committed.
func (l *InvitationLedger) Respond(ctx context.Context, invitationId string, actor models.Actor, input *models.InvitationResponse) (res *RespondResult, err error) {
	ctx, finish := l.startSpan(ctx, "InvitationLedger.Respond", attribute.String("invitation_id", invitationId))
	defer finish(&err)

	if err := input.Validate(); err != nil {
		return nil, err
	}
	if err := requireRole(actor, models.ActorRoleWorker, "invitation", invitationId); err != nil {
		return nil, err
	}

	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var txErr error
		var replayed bool
		res, replayed, txErr = runIdempotent(ctx, tx, actor, "invitation.respond:"+invitationId, input, func() (*RespondResult, error) {
			inv, err := tx.LockInvitation(ctx, invitationId)
			if err != nil {
				if errors.Is(err, utils.ErrorRecordNotFound) {
					return nil, utils.NewNotFoundError("invitation", invitationId)
				}
				return nil, err
			}
			// Another worker's invitation is indistinguishable from a missing one.
			if inv.WorkerId != actor.Id {
				return nil, utils.NewNotFoundError("invitation", invitationId)
			}

			to := input.Decision.Status()
			if err := checkInvitationTransition(inv, to); err != nil {
				return nil, err
			}

			now := l.timestamp()
			change := models.InvitationChange{
				Status:          to,
				RespondedAt:     &now,
				ResponseMessage: input.ResponseMessage,
				ClearActiveKey:  l.releasesPair(to),
				UpdatedAt:       now,
			}
			if err := l.transition(ctx, tx, inv, change); err != nil {
				return nil, err
			}

			if err := l.appendEvent(ctx, tx, eventSpec{
				Type:         models.EventInvitationResponded,
				Entity:       models.EntityInvitation,
				InvitationId: &inv.ID,
				Actor:        actor,
				From:         string(models.InvitationStatusPending),
				To:           string(to),
				Payload: map[string]interface{}{
					"decision":         input.Decision,
					"response_message": input.ResponseMessage,
				},
			}, now); err != nil {
				return nil, err
			}

			out := &RespondResult{Invitation: inv}
			if to == models.InvitationStatusAccepted {
				job, err := l.jobs.createFromInvitation(ctx, tx, inv, actor, now)
				if err != nil {
					return nil, err
				}
				out.JobRecord = job
			}
			return out, nil
		})
		if res != nil {
			res.Replayed = replayed
		}
		return txErr
	})
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"field":         "InvitationLedger",
		"invitation_id": invitationId,
		"status":        res.Invitation.Status,
		"replayed":      res.Replayed,
	}
	if res.JobRecord != nil {
		fields["job_id"] = res.JobRecord.ID
	}
	l.logger.WithFields(fields).Info("invitation responded")
	return res, nil
}

// transition applies change with a conditional update on the invitation's
// current status. When the row moved underneath us the error reports the
// status it moved to.
func (l *InvitationLedger) transition(ctx context.Context, tx repository.Tx, inv *models.Invitation, change models.InvitationChange) error {
	from := inv.Status
	ok, err := tx.TransitionInvitation(ctx, inv.ID, from, change)
	if err != nil {
		return err
	}
	if !ok {
		current, err := tx.GetInvitation(ctx, inv.ID)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return utils.NewNotFoundError("invitation", inv.ID)
			}
			return err
		}
		return utils.NewInvalidStateError("invitation", inv.ID, string(current.Status),
			"invitation changed concurrently from "+string(from))
	}
	change.Apply(inv)
	return nil
}

// Cancel withdraws a pending invitation. Only the inviting company may cancel.
func (l *InvitationLedger) Cancel(ctx context.Context, invitationId string, actor models.Actor) (inv *models.Invitation, err error) {
	ctx, finish := l.startSpan(ctx, "InvitationLedger.Cancel", attribute.String("invitation_id", invitationId))
	defer finish(&err)

	if err := requireRole(actor, models.ActorRoleCompany, "invitation", invitationId); err != nil {
		return nil, err
	}

	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var txErr error
		inv, _, txErr = runIdempotent(ctx, tx, actor, "invitation.cancel:"+invitationId, nil, func() (*models.Invitation, error) {
			current, err := tx.LockInvitation(ctx, invitationId)
			if err != nil {
				if errors.Is(err, utils.ErrorRecordNotFound) {
					return nil, utils.NewNotFoundError("invitation", invitationId)
				}
				return nil, err
			}
			if current.CompanyId != actor.Id {
				return nil, utils.NewForbiddenError("invitation", current.ID, string(current.Status), "only the inviting company may cancel")
			}
			if err := checkInvitationTransition(current, models.InvitationStatusCancelled); err != nil {
				return nil, err
			}

			now := l.timestamp()
			change := models.InvitationChange{
				Status:         models.InvitationStatusCancelled,
				ClearActiveKey: l.releasesPair(models.InvitationStatusCancelled),
				UpdatedAt:      now,
			}
			if err := l.transition(ctx, tx, current, change); err != nil {
				return nil, err
			}
			if err := l.appendEvent(ctx, tx, eventSpec{
				Type:         models.EventInvitationCancelled,
				Entity:       models.EntityInvitation,
				InvitationId: &current.ID,
				Actor:        actor,
				From:         string(models.InvitationStatusPending),
				To:           string(models.InvitationStatusCancelled),
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
	return inv, nil
}

// Expire moves every pending invitation created at or before now-TTL to
// expired, in batches of one transaction each. Running it again with the same
// now finds nothing left to expire.
func (l *InvitationLedger) Expire(ctx context.Context, now time.Time) (res *ExpireResult, err error) {
	ctx, finish := l.startSpan(ctx, "InvitationLedger.Expire")
	defer finish(&err)

	res = &ExpireResult{Cutoff: now.UTC().Add(-l.ttl), Expired: []string{}}
	for {
		var batch []string
		err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			batch = batch[:0]
			due, err := tx.PendingInvitationsCreatedBefore(ctx, res.Cutoff, l.expiryBatch)
			if err != nil {
				return err
			}
			at := l.timestamp()
			for _, inv := range due {
				change := models.InvitationChange{
					Status:         models.InvitationStatusExpired,
					ClearActiveKey: l.releasesPair(models.InvitationStatusExpired),
					UpdatedAt:      at,
				}
				ok, err := tx.TransitionInvitation(ctx, inv.ID, models.InvitationStatusPending, change)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if err := l.appendEvent(ctx, tx, eventSpec{
					Type:         models.EventInvitationExpired,
					Entity:       models.EntityInvitation,
					InvitationId: &inv.ID,
					Actor:        models.SystemActor,
					From:         string(models.InvitationStatusPending),
					To:           string(models.InvitationStatusExpired),
					Payload:      map[string]interface{}{"deadline": inv.CreatedAt.Add(l.ttl)},
				}, at); err != nil {
					return err
				}
				batch = append(batch, inv.ID)
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		res.Expired = append(res.Expired, batch...)
		if len(batch) < l.expiryBatch {
			break
		}
	}

	if len(res.Expired) > 0 {
		l.logger.WithFields(logrus.Fields{
			"field":   "InvitationLedger",
			"cutoff":  res.Cutoff.Format(time.RFC3339),
			"expired": len(res.Expired),
		}).Info("expired pending invitations")
	}
	return res, nil
}

// Get returns an invitation visible to actor: its worker or its company.
func (l *InvitationLedger) Get(ctx context.Context, actor models.Actor, id string) (*models.Invitation, error) {
	inv, err := l.store.GetInvitation(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.NewNotFoundError("invitation", id)
		}
		return nil, err
	}
	if !canSeeInvitation(actor, inv) {
		return nil, utils.NewNotFoundError("invitation", id)
	}
	return inv, nil
}

func canSeeInvitation(actor models.Actor, inv *models.Invitation) bool {
	switch {
	case actor.IsWorker():
		return inv.WorkerId == actor.Id
	case actor.IsCompany():
		return inv.CompanyId == actor.Id
	}
	return false
}

// List returns invitations scoped to actor. Workers only see their own
// invitations and companies only the ones they sent.
func (l *InvitationLedger) List(ctx context.Context, actor models.Actor, filter models.InvitationFilter) (*models.Page[*models.Invitation], error) {
	switch actor.Role {
	case models.ActorRoleWorker:
		filter.WorkerId = actor.Id
	case models.ActorRoleCompany:
		filter.CompanyId = actor.Id
	default:
		return nil, utils.NewForbiddenError("invitation", "", "", "unknown actor role")
	}
	if err := filter.Normalize(); err != nil {
		return nil, err
	}
	items, total, err := l.store.ListInvitations(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &models.Page[*models.Invitation]{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (l *InvitationLedger) Events(ctx context.Context, actor models.Actor, id string) ([]*models.LifecycleEvent, error) {
	if _, err := l.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return l.store.ListEvents(ctx, models.EntityInvitation, id)
}
