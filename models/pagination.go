package models

import (
	"strings"

	"github.com/shiftcrew/dispatch_backend/utils"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

type Pagination struct {
	Limit  int `form:"limit" json:"limit"`
	Offset int `form:"offset" json:"offset"`
}

// Normalize applies the default limit and caps it at MaxPageLimit.
func (p *Pagination) Normalize() error {
	if p.Limit < 0 {
		return utils.NewValidationError("limit must not be negative, got %d", p.Limit)
	}
	if p.Offset < 0 {
		return utils.NewValidationError("offset must not be negative, got %d", p.Offset)
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return nil
}

// InvitationFilter selects invitations; empty fields are not filtered on.
type InvitationFilter struct {
	ProjectId string           `form:"project_id"`
	CompanyId string           `form:"company_id"`
	WorkerId  string           `form:"worker_id"`
	Status    InvitationStatus `form:"status"`
	Pagination
}

func (f *InvitationFilter) Normalize() error {
	f.ProjectId = strings.TrimSpace(f.ProjectId)
	f.CompanyId = strings.TrimSpace(f.CompanyId)
	f.WorkerId = strings.TrimSpace(f.WorkerId)
	if f.Status != "" && !f.Status.IsValid() {
		return utils.NewValidationError("unknown invitation status %q", f.Status)
	}
	if f.ProjectId == "" && f.CompanyId == "" && f.WorkerId == "" {
		return utils.NewValidationError("one of project_id, company_id or worker_id is required")
	}
	return f.Pagination.Normalize()
}

func (f InvitationFilter) Matches(inv *Invitation) bool {
	if f.ProjectId != "" && inv.ProjectId != f.ProjectId {
		return false
	}
	if f.CompanyId != "" && inv.CompanyId != f.CompanyId {
		return false
	}
	if f.WorkerId != "" && inv.WorkerId != f.WorkerId {
		return false
	}
	if f.Status != "" && inv.Status != f.Status {
		return false
	}
	return true
}

type JobRecordFilter struct {
	CompanyId string          `form:"company_id"`
	WorkerId  string          `form:"worker_id"`
	ProjectId string          `form:"project_id"`
	Status    JobRecordStatus `form:"status"`
	Pagination
}

func (f *JobRecordFilter) Normalize() error {
	f.CompanyId = strings.TrimSpace(f.CompanyId)
	f.WorkerId = strings.TrimSpace(f.WorkerId)
	f.ProjectId = strings.TrimSpace(f.ProjectId)
	if f.Status != "" && !f.Status.IsValid() {
		return utils.NewValidationError("unknown job record status %q", f.Status)
	}
	if f.CompanyId == "" && f.WorkerId == "" {
		return utils.NewValidationError("one of company_id or worker_id is required")
	}
	return f.Pagination.Normalize()
}

func (f JobRecordFilter) Matches(job *JobRecord) bool {
	if f.CompanyId != "" && job.CompanyId != f.CompanyId {
		return false
	}
	if f.WorkerId != "" && job.WorkerId != f.WorkerId {
		return false
	}
	if f.ProjectId != "" && job.ProjectId != f.ProjectId {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	return true
}
