package models

type InvitationStatus string

const (
	InvitationStatusPending   InvitationStatus = "pending"
	InvitationStatusAccepted  InvitationStatus = "accepted"
	InvitationStatusRejected  InvitationStatus = "rejected"
	InvitationStatusExpired   InvitationStatus = "expired"
	InvitationStatusCancelled InvitationStatus = "cancelled"
)

func (s InvitationStatus) IsValid() bool {
	switch s {
	case InvitationStatusPending, InvitationStatusAccepted, InvitationStatusRejected,
		InvitationStatusExpired, InvitationStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the status holds the (project, worker) pair.
func (s InvitationStatus) IsActive() bool {
	return s == InvitationStatusPending || s == InvitationStatusAccepted
}

type WageType string

const (
	WageTypeHourly WageType = "hourly"
	WageTypeDaily  WageType = "daily"
)

func (w WageType) IsValid() bool {
	return w == WageTypeHourly || w == WageTypeDaily
}

// Decision is a worker's answer to a pending invitation.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

func (d Decision) IsValid() bool {
	return d == DecisionAccepted || d == DecisionRejected
}

func (d Decision) Status() InvitationStatus {
	if d == DecisionAccepted {
		return InvitationStatusAccepted
	}
	return InvitationStatusRejected
}

type JobRecordStatus string

const (
	JobRecordStatusAssigned  JobRecordStatus = "assigned"
	JobRecordStatusCompleted JobRecordStatus = "completed"
	JobRecordStatusConfirmed JobRecordStatus = "confirmed"
	JobRecordStatusPaid      JobRecordStatus = "paid"
	JobRecordStatusDisputed  JobRecordStatus = "disputed"
)

func (s JobRecordStatus) IsValid() bool {
	switch s {
	case JobRecordStatusAssigned, JobRecordStatusCompleted, JobRecordStatusConfirmed,
		JobRecordStatusPaid, JobRecordStatusDisputed:
		return true
	}
	return false
}

type ActorRole string

const (
	ActorRoleWorker  ActorRole = "worker"
	ActorRoleCompany ActorRole = "company"
	// ActorRoleSystem is used for time-based transitions such as expiry.
	ActorRoleSystem ActorRole = "system"
)

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	Id   string    `json:"id"`
	Role ActorRole `json:"role"`
}

func (a Actor) IsWorker() bool  { return a.Role == ActorRoleWorker }
func (a Actor) IsCompany() bool { return a.Role == ActorRoleCompany }

var SystemActor = Actor{Id: "system", Role: ActorRoleSystem}

type EventType string

const (
	EventInvitationCreated   EventType = "invitation.created"
	EventInvitationResponded EventType = "invitation.responded"
	EventInvitationCancelled EventType = "invitation.cancelled"
	EventInvitationExpired   EventType = "invitation.expired"
	EventJobAssigned         EventType = "job.assigned"
	EventJobCompleted        EventType = "job.completed"
	EventJobConfirmed        EventType = "job.confirmed"
	EventJobPaid             EventType = "job.paid"
	EventJobDisputed         EventType = "job.disputed"
)

type EntityType string

const (
	EntityInvitation EntityType = "invitation"
	EntityJobRecord  EntityType = "job_record"
)
