package workflow

import (
	"fmt"

	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/utils"
)

// Only pending invitations move; every other status is terminal for the
// ledger. accepted stays accepted after its job is paid.
var invitationTransitions = map[models.InvitationStatus][]models.InvitationStatus{
	models.InvitationStatusPending: {
		models.InvitationStatusAccepted,
		models.InvitationStatusRejected,
		models.InvitationStatusExpired,
		models.InvitationStatusCancelled,
	},
}

// assigned -> completed -> confirmed -> paid, with completed|confirmed -> disputed.
var jobTransitions = map[models.JobRecordStatus][]models.JobRecordStatus{
	models.JobRecordStatusAssigned:  {models.JobRecordStatusCompleted},
	models.JobRecordStatusCompleted: {models.JobRecordStatusConfirmed, models.JobRecordStatusDisputed},
	models.JobRecordStatusConfirmed: {models.JobRecordStatusPaid, models.JobRecordStatusDisputed},
}

func CanTransitionInvitation(from, to models.InvitationStatus) bool {
	for _, s := range invitationTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanTransitionJob(from, to models.JobRecordStatus) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkInvitationTransition(inv *models.Invitation, to models.InvitationStatus) error {
	if CanTransitionInvitation(inv.Status, to) {
		return nil
	}
	return utils.NewInvalidStateError("invitation", inv.ID, string(inv.Status),
		fmt.Sprintf("cannot move invitation from %s to %s", inv.Status, to))
}

func checkJobTransition(job *models.JobRecord, to models.JobRecordStatus) error {
	if CanTransitionJob(job.Status, to) {
		return nil
	}
	return utils.NewInvalidStateError("job_record", job.ID, string(job.Status),
		fmt.Sprintf("cannot move job record from %s to %s", job.Status, to))
}
