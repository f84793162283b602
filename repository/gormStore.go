package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the MySQL backed Store.
type GormStore struct {
	gormReader
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{gormReader{db: db}}
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	// READ COMMITTED so a locking read after a blocked conditional update sees
	// the winner's committed status.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &gormTx{gormReader{db: tx}})
	}, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

func (s *GormStore) ClaimEvents(ctx context.Context, claim models.OutboxClaim) ([]*models.LifecycleEvent, error) {
	var claimed []*models.LifecycleEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []*models.LifecycleEvent
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING with a stale lock (dispatcher died mid-batch)
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, claim.Now,
				models.OutboxPublishStatusProcessing, claim.StaleBefore).
			Order("id ASC").
			Limit(claim.Limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&rows).Error; err != nil {
			return err
		}

		for _, row := range rows {
			if claim.MaxAttempts > 0 && row.PublishAttempts >= claim.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", claim.MaxAttempts)
				if err := tx.Model(&models.LifecycleEvent{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			now := claim.Now
			dispatcher := claim.DispatcherId
			if err := tx.Model(&models.LifecycleEvent{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          &now,
				"locked_by":          &dispatcher,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
			row.PublishStatus = models.OutboxPublishStatusProcessing
			row.LockedAt = &now
			row.LockedBy = &dispatcher
			row.PublishAttempts++
			row.LastPublishError = nil
			row.NextAttemptAt = nil
			claimed = append(claimed, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *GormStore) MarkEventPublished(ctx context.Context, id int, messageId string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.LifecycleEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"publish_status":  models.OutboxPublishStatusSent,
			"published_at":    &at,
			"message_id":      &messageId,
			"locked_at":       nil,
			"locked_by":       nil,
			"next_attempt_at": nil,
		}).Error
}

func (s *GormStore) MarkEventFailed(ctx context.Context, id int, errMsg string, next *time.Time) error {
	status := models.OutboxPublishStatusFailed
	if next == nil {
		status = models.OutboxPublishStatusDead
	}
	return s.db.WithContext(ctx).Model(&models.LifecycleEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"publish_status":     status,
			"last_publish_error": &errMsg,
			"next_attempt_at":    next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
}

type gormReader struct {
	db *gorm.DB
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorRecordNotFound
	}
	return err
}

func (r gormReader) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	var inv models.Invitation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&inv).Error; err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (r gormReader) ListInvitations(ctx context.Context, filter models.InvitationFilter) ([]*models.Invitation, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Invitation{})
	if filter.ProjectId != "" {
		q = q.Where("project_id = ?", filter.ProjectId)
	}
	if filter.CompanyId != "" {
		q = q.Where("company_id = ?", filter.CompanyId)
	}
	if filter.WorkerId != "" {
		q = q.Where("worker_id = ?", filter.WorkerId)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var results []*models.Invitation
	if err := q.Order("created_at DESC, id DESC").Limit(filter.Limit).Offset(filter.Offset).Find(&results).Error; err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (r gormReader) GetJobRecord(ctx context.Context, id string) (*models.JobRecord, error) {
	var job models.JobRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (r gormReader) ListJobRecords(ctx context.Context, filter models.JobRecordFilter) ([]*models.JobRecord, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.JobRecord{})
	if filter.CompanyId != "" {
		q = q.Where("company_id = ?", filter.CompanyId)
	}
	if filter.WorkerId != "" {
		q = q.Where("worker_id = ?", filter.WorkerId)
	}
	if filter.ProjectId != "" {
		q = q.Where("project_id = ?", filter.ProjectId)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var results []*models.JobRecord
	if err := q.Order("created_at DESC, id DESC").Limit(filter.Limit).Offset(filter.Offset).Find(&results).Error; err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (r gormReader) ListEvents(ctx context.Context, entity models.EntityType, id string) ([]*models.LifecycleEvent, error) {
	column := "invitation_id"
	if entity == models.EntityJobRecord {
		column = "job_id"
	}
	var results []*models.LifecycleEvent
	if err := r.db.WithContext(ctx).Where(column+" = ?", id).Order("id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type gormTx struct {
	gormReader
}

func (t *gormTx) locking() *gorm.DB {
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *gormTx) LockInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	var inv models.Invitation
	if err := t.locking().WithContext(ctx).Where("id = ?", id).First(&inv).Error; err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (t *gormTx) LockJobRecord(ctx context.Context, id string) (*models.JobRecord, error) {
	var job models.JobRecord
	if err := t.locking().WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (t *gormTx) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	if err := t.db.WithContext(ctx).Create(inv).Error; err != nil {
		if IsDuplicateKey(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		if IsValueOutOfRange(err) {
			return utils.NewValidationError("invitation does not fit its columns: %v", err)
		}
		return err
	}
	return nil
}

func (t *gormTx) FindInvitationByActiveKey(ctx context.Context, activeKey string) (*models.Invitation, error) {
	var inv models.Invitation
	if err := t.db.WithContext(ctx).Where("active_key = ?", activeKey).First(&inv).Error; err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (t *gormTx) TransitionInvitation(ctx context.Context, id string, from models.InvitationStatus, change models.InvitationChange) (bool, error) {
	res := t.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(change.Columns())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *gormTx) PendingInvitationsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Invitation, error) {
	var results []*models.Invitation
	err := t.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.InvitationStatusPending, cutoff).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (t *gormTx) CreateJobRecord(ctx context.Context, job *models.JobRecord) error {
	if err := t.db.WithContext(ctx).Omit(clause.Associations).Create(job).Error; err != nil {
		switch {
		case IsDuplicateKey(err):
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		case IsForeignKeyViolation(err):
			return fmt.Errorf("%w: %v", ErrForeignKey, err)
		}
		return err
	}
	return nil
}

func (t *gormTx) FindJobRecordByInvitation(ctx context.Context, invitationId string) (*models.JobRecord, error) {
	var job models.JobRecord
	if err := t.db.WithContext(ctx).Where("invitation_id = ?", invitationId).First(&job).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (t *gormTx) TransitionJobRecord(ctx context.Context, id string, from models.JobRecordStatus, change models.JobRecordChange) (bool, error) {
	res := t.db.WithContext(ctx).Model(&models.JobRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(change.Columns())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *gormTx) AppendEvent(ctx context.Context, ev *models.LifecycleEvent) error {
	if ev.PublishStatus == "" {
		ev.PublishStatus = models.OutboxPublishStatusPending
	}
	return t.db.WithContext(ctx).Create(ev).Error
}

func (t *gormTx) CreateIdempotencyKey(ctx context.Context, key *models.IdempotencyKey) error {
	if err := t.db.WithContext(ctx).Create(key).Error; err != nil {
		if IsDuplicateKey(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		return err
	}
	return nil
}

func (t *gormTx) GetIdempotencyKey(ctx context.Context, actorId, operation, key string) (*models.IdempotencyKey, error) {
	var existing models.IdempotencyKey
	err := t.db.WithContext(ctx).
		Where("actor_id = ? AND operation = ? AND idempotency_key = ?", actorId, operation, key).
		First(&existing).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &existing, nil
}

func (t *gormTx) CompleteIdempotencyKey(ctx context.Context, id int, response string) error {
	return t.db.WithContext(ctx).Model(&models.IdempotencyKey{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   models.IdempotencyStatusSucceeded,
			"response": &response,
		}).Error
}
