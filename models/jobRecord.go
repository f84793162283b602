package models

import (
	"strings"
	"time"

	"github.com/shiftcrew/dispatch_backend/utils"
)

// JobRecord is the billable unit of work. InvitationId is nil for direct
// assignments and is set to NULL by the database if the invitation is deleted.
type JobRecord struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	ProjectId    string          `gorm:"size:64;not null;index" json:"project_id"`
	WorkerId     string          `gorm:"size:64;not null;index:idx_job_records_worker_status,priority:1" json:"worker_id"`
	CompanyId    string          `gorm:"size:64;not null;index:idx_job_records_company_status,priority:1" json:"company_id"`
	InvitationId *string         `gorm:"size:36;uniqueIndex:uniq_job_records_invitation" json:"invitation_id"`
	Invitation   *Invitation     `gorm:"foreignKey:InvitationId;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
	Status       JobRecordStatus `gorm:"size:20;not null;index:idx_job_records_worker_status,priority:2;index:idx_job_records_company_status,priority:2" json:"status"`
	CompleteTime *time.Time      `json:"complete_time"`
	ConfirmTime  *time.Time      `json:"confirm_time"`
	PaidTime     *time.Time      `json:"paid_time"`

	DisputeReason *string    `gorm:"type:text" json:"dispute_reason,omitempty"`
	DisputedBy    *string    `gorm:"size:64" json:"disputed_by,omitempty"`
	DisputedRole  *ActorRole `gorm:"size:20" json:"disputed_role,omitempty"`
	DisputedAt    *time.Time `json:"disputed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// JobRecordChange is the set of columns a job transition writes. Nil fields are
// left untouched.
type JobRecordChange struct {
	Status        JobRecordStatus
	CompleteTime  *time.Time
	ConfirmTime   *time.Time
	PaidTime      *time.Time
	DisputeReason *string
	DisputedBy    *string
	DisputedRole  *ActorRole
	DisputedAt    *time.Time
	UpdatedAt     time.Time
}

func (c JobRecordChange) Apply(job *JobRecord) {
	job.Status = c.Status
	if c.CompleteTime != nil {
		job.CompleteTime = c.CompleteTime
	}
	if c.ConfirmTime != nil {
		job.ConfirmTime = c.ConfirmTime
	}
	if c.PaidTime != nil {
		job.PaidTime = c.PaidTime
	}
	if c.DisputeReason != nil {
		job.DisputeReason = c.DisputeReason
	}
	if c.DisputedBy != nil {
		job.DisputedBy = c.DisputedBy
	}
	if c.DisputedRole != nil {
		job.DisputedRole = c.DisputedRole
	}
	if c.DisputedAt != nil {
		job.DisputedAt = c.DisputedAt
	}
	job.UpdatedAt = c.UpdatedAt
}

// Columns returns the update map for a conditional UPDATE.
func (c JobRecordChange) Columns() map[string]interface{} {
	cols := map[string]interface{}{
		"status":     c.Status,
		"updated_at": c.UpdatedAt,
	}
	if c.CompleteTime != nil {
		cols["complete_time"] = c.CompleteTime
	}
	if c.ConfirmTime != nil {
		cols["confirm_time"] = c.ConfirmTime
	}
	if c.PaidTime != nil {
		cols["paid_time"] = c.PaidTime
	}
	if c.DisputeReason != nil {
		cols["dispute_reason"] = c.DisputeReason
	}
	if c.DisputedBy != nil {
		cols["disputed_by"] = c.DisputedBy
	}
	if c.DisputedRole != nil {
		cols["disputed_role"] = c.DisputedRole
	}
	if c.DisputedAt != nil {
		cols["disputed_at"] = c.DisputedAt
	}
	return cols
}

type NewDirectJob struct {
	ProjectId string `json:"project_id" validate:"required,max=64"`
	WorkerId  string `json:"worker_id" validate:"required,max=64"`
	CompanyId string `json:"company_id" validate:"required,max=64"`
}

func (input *NewDirectJob) Validate() error {
	input.ProjectId = strings.TrimSpace(input.ProjectId)
	input.WorkerId = strings.TrimSpace(input.WorkerId)
	input.CompanyId = strings.TrimSpace(input.CompanyId)
	return utils.ValidateStruct(input)
}

type NewDispute struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

func (input *NewDispute) Validate() error {
	input.Reason = strings.TrimSpace(input.Reason)
	return utils.ValidateStruct(input)
}
