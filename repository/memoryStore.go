package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/utils"
)

// MemoryStore keeps everything in process. It enforces the same unique and
// foreign key constraints as the MySQL schema. Transactions are serialized and
// work on a copy that replaces the committed state only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState

	// Fault, when set, is called before every operation with the operation
	// name. A non-nil result is returned instead of running it.
	Fault func(op string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memState struct {
	invitations map[string]*models.Invitation
	jobs        map[string]*models.JobRecord
	events      []*models.LifecycleEvent
	idem        map[int]*models.IdempotencyKey
	lastEventId int
	lastIdemId  int
}

func newMemState() *memState {
	return &memState{
		invitations: map[string]*models.Invitation{},
		jobs:        map[string]*models.JobRecord{},
		idem:        map[int]*models.IdempotencyKey{},
	}
}

// clone copies the maps and slices. Records are copied on write, so sharing
// the pointers here is safe.
func (s *memState) clone() *memState {
	c := &memState{
		invitations: make(map[string]*models.Invitation, len(s.invitations)),
		jobs:        make(map[string]*models.JobRecord, len(s.jobs)),
		events:      make([]*models.LifecycleEvent, len(s.events)),
		idem:        make(map[int]*models.IdempotencyKey, len(s.idem)),
		lastEventId: s.lastEventId,
		lastIdemId:  s.lastIdemId,
	}
	for k, v := range s.invitations {
		c.invitations[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	copy(c.events, s.events)
	for k, v := range s.idem {
		c.idem[k] = v
	}
	return c
}

func (s *MemoryStore) fault(op string) error {
	if s.Fault == nil {
		return nil
	}
	return s.Fault(op)
}

func (s *MemoryStore) read(ctx context.Context, op string) (*memState, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := s.fault(op); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	return s.state, s.mu.Unlock, nil
}

func (s *MemoryStore) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	st, unlock, err := s.read(ctx, "GetInvitation")
	if err != nil {
		return nil, err
	}
	defer unlock()
	return st.getInvitation(id)
}

func (s *MemoryStore) ListInvitations(ctx context.Context, filter models.InvitationFilter) ([]*models.Invitation, int64, error) {
	st, unlock, err := s.read(ctx, "ListInvitations")
	if err != nil {
		return nil, 0, err
	}
	defer unlock()
	return st.listInvitations(filter)
}

func (s *MemoryStore) GetJobRecord(ctx context.Context, id string) (*models.JobRecord, error) {
	st, unlock, err := s.read(ctx, "GetJobRecord")
	if err != nil {
		return nil, err
	}
	defer unlock()
	return st.getJobRecord(id)
}

func (s *MemoryStore) ListJobRecords(ctx context.Context, filter models.JobRecordFilter) ([]*models.JobRecord, int64, error) {
	st, unlock, err := s.read(ctx, "ListJobRecords")
	if err != nil {
		return nil, 0, err
	}
	defer unlock()
	return st.listJobRecords(filter)
}

func (s *MemoryStore) ListEvents(ctx context.Context, entity models.EntityType, id string) ([]*models.LifecycleEvent, error) {
	st, unlock, err := s.read(ctx, "ListEvents")
	if err != nil {
		return nil, err
	}
	defer unlock()
	return st.listEvents(entity, id), nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fault("WithinTx"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memTx{state: work, store: s}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) ClaimEvents(ctx context.Context, claim models.OutboxClaim) ([]*models.LifecycleEvent, error) {
	st, unlock, err := s.read(ctx, "ClaimEvents")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var claimed []*models.LifecycleEvent
	for i, ev := range st.events {
		if claim.Limit > 0 && len(claimed) >= claim.Limit {
			break
		}
		ready := (ev.PublishStatus == models.OutboxPublishStatusPending || ev.PublishStatus == models.OutboxPublishStatusFailed) &&
			(ev.NextAttemptAt == nil || !ev.NextAttemptAt.After(claim.Now))
		stale := ev.PublishStatus == models.OutboxPublishStatusProcessing &&
			ev.LockedAt != nil && !ev.LockedAt.After(claim.StaleBefore)
		if !ready && !stale {
			continue
		}

		row := *ev
		if claim.MaxAttempts > 0 && row.PublishAttempts >= claim.MaxAttempts {
			msg := fmt.Sprintf("max publish attempts exceeded (%d)", claim.MaxAttempts)
			row.PublishStatus = models.OutboxPublishStatusDead
			row.LastPublishError = &msg
			row.NextAttemptAt, row.LockedAt, row.LockedBy = nil, nil, nil
			st.events[i] = &row
			continue
		}

		now := claim.Now
		dispatcher := claim.DispatcherId
		row.PublishStatus = models.OutboxPublishStatusProcessing
		row.LockedAt = &now
		row.LockedBy = &dispatcher
		row.PublishAttempts++
		row.LastPublishError = nil
		row.NextAttemptAt = nil
		st.events[i] = &row
		out := row
		claimed = append(claimed, &out)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkEventPublished(ctx context.Context, id int, messageId string, at time.Time) error {
	st, unlock, err := s.read(ctx, "MarkEventPublished")
	if err != nil {
		return err
	}
	defer unlock()
	return st.updateEvent(id, func(ev *models.LifecycleEvent) {
		ev.PublishStatus = models.OutboxPublishStatusSent
		ev.PublishedAt = &at
		ev.MessageId = &messageId
		ev.LockedAt, ev.LockedBy, ev.NextAttemptAt = nil, nil, nil
	})
}

func (s *MemoryStore) MarkEventFailed(ctx context.Context, id int, errMsg string, next *time.Time) error {
	st, unlock, err := s.read(ctx, "MarkEventFailed")
	if err != nil {
		return err
	}
	defer unlock()
	return st.updateEvent(id, func(ev *models.LifecycleEvent) {
		ev.PublishStatus = models.OutboxPublishStatusFailed
		if next == nil {
			ev.PublishStatus = models.OutboxPublishStatusDead
		}
		ev.LastPublishError = &errMsg
		ev.NextAttemptAt = next
		ev.LockedAt, ev.LockedBy = nil, nil
	})
}

type memTx struct {
	state *memState
	store *MemoryStore
}

func (t *memTx) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.store.fault(op)
}

func (t *memTx) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	if err := t.check(ctx, "GetInvitation"); err != nil {
		return nil, err
	}
	return t.state.getInvitation(id)
}

func (t *memTx) ListInvitations(ctx context.Context, filter models.InvitationFilter) ([]*models.Invitation, int64, error) {
	if err := t.check(ctx, "ListInvitations"); err != nil {
		return nil, 0, err
	}
	return t.state.listInvitations(filter)
}

func (t *memTx) GetJobRecord(ctx context.Context, id string) (*models.JobRecord, error) {
	if err := t.check(ctx, "GetJobRecord"); err != nil {
		return nil, err
	}
	return t.state.getJobRecord(id)
}

func (t *memTx) ListJobRecords(ctx context.Context, filter models.JobRecordFilter) ([]*models.JobRecord, int64, error) {
	if err := t.check(ctx, "ListJobRecords"); err != nil {
		return nil, 0, err
	}
	return t.state.listJobRecords(filter)
}

func (t *memTx) ListEvents(ctx context.Context, entity models.EntityType, id string) ([]*models.LifecycleEvent, error) {
	if err := t.check(ctx, "ListEvents"); err != nil {
		return nil, err
	}
	return t.state.listEvents(entity, id), nil
}

// Transactions are already serialized, so the locking reads are plain reads.
func (t *memTx) LockInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	if err := t.check(ctx, "LockInvitation"); err != nil {
		return nil, err
	}
	return t.state.getInvitation(id)
}

func (t *memTx) LockJobRecord(ctx context.Context, id string) (*models.JobRecord, error) {
	if err := t.check(ctx, "LockJobRecord"); err != nil {
		return nil, err
	}
	return t.state.getJobRecord(id)
}

func (t *memTx) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	if err := t.check(ctx, "CreateInvitation"); err != nil {
		return err
	}
	if _, ok := t.state.invitations[inv.ID]; ok {
		return fmt.Errorf("%w: invitations.PRIMARY %s", ErrDuplicateKey, inv.ID)
	}
	if inv.ActiveKey != nil {
		for _, existing := range t.state.invitations {
			if existing.ActiveKey != nil && *existing.ActiveKey == *inv.ActiveKey {
				return fmt.Errorf("%w: uniq_invitations_active_pair %s", ErrDuplicateKey, *inv.ActiveKey)
			}
		}
	}
	c := *inv
	t.state.invitations[inv.ID] = &c
	return nil
}

func (t *memTx) FindInvitationByActiveKey(ctx context.Context, activeKey string) (*models.Invitation, error) {
	if err := t.check(ctx, "FindInvitationByActiveKey"); err != nil {
		return nil, err
	}
	for _, inv := range t.state.invitations {
		if inv.ActiveKey != nil && *inv.ActiveKey == activeKey {
			c := *inv
			return &c, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (t *memTx) TransitionInvitation(ctx context.Context, id string, from models.InvitationStatus, change models.InvitationChange) (bool, error) {
	if err := t.check(ctx, "TransitionInvitation"); err != nil {
		return false, err
	}
	inv, ok := t.state.invitations[id]
	if !ok || inv.Status != from {
		return false, nil
	}
	c := *inv
	change.Apply(&c)
	t.state.invitations[id] = &c
	return true, nil
}

func (t *memTx) PendingInvitationsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Invitation, error) {
	if err := t.check(ctx, "PendingInvitationsCreatedBefore"); err != nil {
		return nil, err
	}
	var results []*models.Invitation
	for _, inv := range t.state.invitations {
		if inv.Status == models.InvitationStatusPending && !inv.CreatedAt.After(cutoff) {
			c := *inv
			results = append(results, &c)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (t *memTx) CreateJobRecord(ctx context.Context, job *models.JobRecord) error {
	if err := t.check(ctx, "CreateJobRecord"); err != nil {
		return err
	}
	if _, ok := t.state.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job_records.PRIMARY %s", ErrDuplicateKey, job.ID)
	}
	if job.InvitationId != nil {
		if _, ok := t.state.invitations[*job.InvitationId]; !ok {
			return fmt.Errorf("%w: job_records.invitation_id %s", ErrForeignKey, *job.InvitationId)
		}
		for _, existing := range t.state.jobs {
			if existing.InvitationId != nil && *existing.InvitationId == *job.InvitationId {
				return fmt.Errorf("%w: uniq_job_records_invitation %s", ErrDuplicateKey, *job.InvitationId)
			}
		}
	}
	c := *job
	c.Invitation = nil
	t.state.jobs[job.ID] = &c
	return nil
}

func (t *memTx) FindJobRecordByInvitation(ctx context.Context, invitationId string) (*models.JobRecord, error) {
	if err := t.check(ctx, "FindJobRecordByInvitation"); err != nil {
		return nil, err
	}
	for _, job := range t.state.jobs {
		if job.InvitationId != nil && *job.InvitationId == invitationId {
			c := *job
			return &c, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (t *memTx) TransitionJobRecord(ctx context.Context, id string, from models.JobRecordStatus, change models.JobRecordChange) (bool, error) {
	if err := t.check(ctx, "TransitionJobRecord"); err != nil {
		return false, err
	}
	job, ok := t.state.jobs[id]
	if !ok || job.Status != from {
		return false, nil
	}
	c := *job
	change.Apply(&c)
	t.state.jobs[id] = &c
	return true, nil
}

func (t *memTx) AppendEvent(ctx context.Context, ev *models.LifecycleEvent) error {
	if err := t.check(ctx, "AppendEvent"); err != nil {
		return err
	}
	for _, existing := range t.state.events {
		if existing.EventId == ev.EventId {
			return fmt.Errorf("%w: lifecycle_events.event_id %s", ErrDuplicateKey, ev.EventId)
		}
	}
	if ev.PublishStatus == "" {
		ev.PublishStatus = models.OutboxPublishStatusPending
	}
	t.state.lastEventId++
	ev.ID = t.state.lastEventId
	c := *ev
	t.state.events = append(t.state.events, &c)
	return nil
}

func (t *memTx) CreateIdempotencyKey(ctx context.Context, key *models.IdempotencyKey) error {
	if err := t.check(ctx, "CreateIdempotencyKey"); err != nil {
		return err
	}
	for _, existing := range t.state.idem {
		if existing.ActorId == key.ActorId && existing.Operation == key.Operation && existing.Key == key.Key {
			return fmt.Errorf("%w: uniq_idem %s/%s", ErrDuplicateKey, key.Operation, key.Key)
		}
	}
	t.state.lastIdemId++
	key.ID = t.state.lastIdemId
	now := time.Now().UTC()
	key.CreatedAt, key.UpdatedAt = now, now
	c := *key
	t.state.idem[key.ID] = &c
	return nil
}

func (t *memTx) GetIdempotencyKey(ctx context.Context, actorId, operation, key string) (*models.IdempotencyKey, error) {
	if err := t.check(ctx, "GetIdempotencyKey"); err != nil {
		return nil, err
	}
	for _, existing := range t.state.idem {
		if existing.ActorId == actorId && existing.Operation == operation && existing.Key == key {
			c := *existing
			return &c, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (t *memTx) CompleteIdempotencyKey(ctx context.Context, id int, response string) error {
	if err := t.check(ctx, "CompleteIdempotencyKey"); err != nil {
		return err
	}
	existing, ok := t.state.idem[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	c := *existing
	c.Status = models.IdempotencyStatusSucceeded
	c.Response = &response
	c.UpdatedAt = time.Now().UTC()
	t.state.idem[id] = &c
	return nil
}

func (s *memState) getInvitation(id string) (*models.Invitation, error) {
	inv, ok := s.invitations[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	c := *inv
	return &c, nil
}

func (s *memState) getJobRecord(id string) (*models.JobRecord, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	c := *job
	return &c, nil
}

func (s *memState) listInvitations(filter models.InvitationFilter) ([]*models.Invitation, int64, error) {
	var matched []*models.Invitation
	for _, inv := range s.invitations {
		if filter.Matches(inv) {
			c := *inv
			matched = append(matched, &c)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return paginate(matched, filter.Limit, filter.Offset), int64(len(matched)), nil
}

func (s *memState) listJobRecords(filter models.JobRecordFilter) ([]*models.JobRecord, int64, error) {
	var matched []*models.JobRecord
	for _, job := range s.jobs {
		if filter.Matches(job) {
			c := *job
			matched = append(matched, &c)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return paginate(matched, filter.Limit, filter.Offset), int64(len(matched)), nil
}

func (s *memState) listEvents(entity models.EntityType, id string) []*models.LifecycleEvent {
	var results []*models.LifecycleEvent
	for _, ev := range s.events {
		ref := ev.InvitationId
		if entity == models.EntityJobRecord {
			ref = ev.JobId
		}
		if ref != nil && *ref == id {
			c := *ev
			results = append(results, &c)
		}
	}
	return results
}

func (s *memState) updateEvent(id int, mutate func(*models.LifecycleEvent)) error {
	for i, ev := range s.events {
		if ev.ID == id {
			c := *ev
			mutate(&c)
			s.events[i] = &c
			return nil
		}
	}
	return utils.ErrorRecordNotFound
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
