package models

import (
	"strings"
	"time"

	"github.com/shiftcrew/dispatch_backend/utils"
	"github.com/shopspring/decimal"
)

// Invitation is a company's offer of work on a project to one worker.
//
// ActiveKey holds "project_id|worker_id" while the invitation is pending or
// accepted and is NULL otherwise, so the unique index on it only covers active
// rows (MySQL has no partial indexes and allows repeated NULLs).
type Invitation struct {
	ID              string           `gorm:"primaryKey;size:36" json:"id"`
	ProjectId       string           `gorm:"size:64;not null;index:idx_invitations_project_status,priority:1" json:"project_id"`
	CompanyId       string           `gorm:"size:64;not null;index:idx_invitations_company_status,priority:1" json:"company_id"`
	WorkerId        string           `gorm:"size:64;not null;index:idx_invitations_worker_status,priority:1" json:"worker_id"`
	Status          InvitationStatus `gorm:"size:20;not null;index:idx_invitations_project_status,priority:2;index:idx_invitations_company_status,priority:2;index:idx_invitations_worker_status,priority:2;index:idx_invitations_status_created,priority:1" json:"status"`
	WageOffer       decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"wage_offer"`
	WageType        WageType         `gorm:"size:10;not null" json:"wage_type"`
	Message         string           `gorm:"type:text" json:"message"`
	ResponseMessage *string          `gorm:"type:text" json:"response_message"`
	ActiveKey       *string          `gorm:"size:160;uniqueIndex:uniq_invitations_active_pair" json:"-"`
	CreatedAt       time.Time        `gorm:"not null;index:idx_invitations_status_created,priority:2" json:"created_at"`
	RespondedAt     *time.Time       `json:"responded_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// Bounds of the wage_offer decimal(20,4) column.
const wageOfferScale = 4

var wageOfferLimit = decimal.New(1, 20-wageOfferScale)

func ActivePairKey(projectId, workerId string) string {
	return projectId + "|" + workerId
}

// InvitationChange is the set of columns a status transition writes.
type InvitationChange struct {
	Status          InvitationStatus
	RespondedAt     *time.Time
	ResponseMessage *string
	// ClearActiveKey releases the (project, worker) pair.
	ClearActiveKey bool
	UpdatedAt      time.Time
}

// Apply copies the change onto an in-memory invitation.
func (c InvitationChange) Apply(inv *Invitation) {
	inv.Status = c.Status
	if c.RespondedAt != nil {
		inv.RespondedAt = c.RespondedAt
	}
	if c.ResponseMessage != nil {
		inv.ResponseMessage = c.ResponseMessage
	}
	if c.ClearActiveKey {
		inv.ActiveKey = nil
	}
	inv.UpdatedAt = c.UpdatedAt
}

// Columns returns the update map for a conditional UPDATE.
func (c InvitationChange) Columns() map[string]interface{} {
	cols := map[string]interface{}{
		"status":     c.Status,
		"updated_at": c.UpdatedAt,
	}
	if c.RespondedAt != nil {
		cols["responded_at"] = c.RespondedAt
	}
	if c.ResponseMessage != nil {
		cols["response_message"] = c.ResponseMessage
	}
	if c.ClearActiveKey {
		cols["active_key"] = nil
	}
	return cols
}

type NewInvitation struct {
	ProjectId string          `json:"project_id" validate:"required,max=64"`
	CompanyId string          `json:"company_id" validate:"required,max=64"`
	WorkerId  string          `json:"worker_id" validate:"required,max=64"`
	WageOffer decimal.Decimal `json:"wage_offer"`
	WageType  WageType        `json:"wage_type" validate:"required,oneof=hourly daily"`
	Message   string          `json:"message" validate:"max=2000"`
}

// Validate trims the identifiers in place and rejects malformed input.
func (input *NewInvitation) Validate() error {
	input.ProjectId = strings.TrimSpace(input.ProjectId)
	input.CompanyId = strings.TrimSpace(input.CompanyId)
	input.WorkerId = strings.TrimSpace(input.WorkerId)
	input.Message = strings.TrimSpace(input.Message)

	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.WageOffer.IsPositive() {
		return utils.NewValidationError("wage_offer must be greater than zero, got %s", input.WageOffer.String())
	}
	if !input.WageOffer.Round(wageOfferScale).Equal(input.WageOffer) {
		return utils.NewValidationError("wage_offer allows at most %d decimal places, got %s", wageOfferScale, input.WageOffer.String())
	}
	if input.WageOffer.GreaterThanOrEqual(wageOfferLimit) {
		return utils.NewValidationError("wage_offer must be less than %s, got %s", wageOfferLimit.String(), input.WageOffer.String())
	}
	return nil
}

type InvitationResponse struct {
	Decision        Decision `json:"decision" validate:"required,oneof=accepted rejected"`
	ResponseMessage *string  `json:"response_message" validate:"omitempty,max=2000"`
}

func (input *InvitationResponse) Validate() error {
	input.ResponseMessage = utils.TrimmedPtr(input.ResponseMessage)
	return utils.ValidateStruct(input)
}
