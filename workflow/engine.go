// Package workflow implements the invitation to job lifecycle: the invitation
// ledger, the job materializer, the outbox dispatcher that feeds the
// notification emitter, and the periodic expiry sweep.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shiftcrew/dispatch_backend/config"
	"github.com/shiftcrew/dispatch_backend/identity"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/repository"
	"github.com/shiftcrew/dispatch_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultInvitationTTL = 7 * 24 * time.Hour
	defaultExpiryBatch   = 200
)

type Options struct {
	// InvitationTTL is how long a pending invitation waits for a response
	// before the sweep expires it.
	InvitationTTL time.Duration
	// UniqueScope is config.UniqueScopeActive or config.UniqueScopeGlobal.
	UniqueScope string
	ExpiryBatch int

	Now    func() time.Time
	NewId  func() string
	Logger *logrus.Logger
	Tracer trace.Tracer
}

// Engine groups the two lifecycle components over one store.
type Engine struct {
	Invitations *InvitationLedger
	Jobs        *JobMaterializer
}

// lifecycle holds what both components share.
type lifecycle struct {
	store        repository.Store
	identity     identity.Resolver
	ttl          time.Duration
	globalUnique bool
	expiryBatch  int
	now          func() time.Time
	newId        func() string
	logger       *logrus.Logger
	tracer       trace.Tracer
}

func NewEngine(store repository.Store, resolver identity.Resolver, opts Options) *Engine {
	lc := &lifecycle{
		store:        store,
		identity:     resolver,
		ttl:          opts.InvitationTTL,
		globalUnique: opts.UniqueScope == config.UniqueScopeGlobal,
		expiryBatch:  opts.ExpiryBatch,
		now:          opts.Now,
		newId:        opts.NewId,
		logger:       opts.Logger,
		tracer:       opts.Tracer,
	}
	if lc.ttl <= 0 {
		lc.ttl = DefaultInvitationTTL
	}
	if lc.expiryBatch <= 0 {
		lc.expiryBatch = defaultExpiryBatch
	}
	if lc.now == nil {
		lc.now = func() time.Time { return time.Now().UTC() }
	}
	if lc.newId == nil {
		lc.newId = uuid.NewString
	}
	if lc.logger == nil {
		lc.logger = logrus.StandardLogger()
	}
	if lc.tracer == nil {
		lc.tracer = otel.Tracer("dispatch-lifecycle")
	}

	jobs := &JobMaterializer{lc}
	return &Engine{
		Invitations: &InvitationLedger{lifecycle: lc, jobs: jobs},
		Jobs:        jobs,
	}
}

// startSpan opens a span and returns a finisher that records err on it.
func (lc *lifecycle) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := lc.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, string(utils.KindOf(*errp)))
		}
		span.End()
	}
}

func (lc *lifecycle) timestamp() time.Time {
	// MySQL DATETIME keeps microseconds at most.
	return lc.now().UTC().Truncate(time.Microsecond)
}

type eventSpec struct {
	Type         models.EventType
	Entity       models.EntityType
	InvitationId *string
	JobId        *string
	Actor        models.Actor
	From         string
	To           string
	Payload      any
}

func (lc *lifecycle) appendEvent(ctx context.Context, tx repository.Tx, spec eventSpec, at time.Time) error {
	ev := &models.LifecycleEvent{
		EventId:       lc.newId(),
		Type:          spec.Type,
		EntityType:    spec.Entity,
		InvitationId:  spec.InvitationId,
		JobId:         spec.JobId,
		ActorId:       spec.Actor.Id,
		ActorRole:     spec.Actor.Role,
		ToStatus:      spec.To,
		OccurredAt:    at,
		PublishStatus: models.OutboxPublishStatusPending,
	}
	if spec.From != "" {
		from := spec.From
		ev.FromStatus = &from
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && cid != "" {
		ev.CorrelationId = &cid
	}
	if spec.Payload != nil {
		b, err := json.Marshal(spec.Payload)
		if err != nil {
			return err
		}
		s := string(b)
		ev.Payload = &s
	}
	return tx.AppendEvent(ctx, ev)
}

// resolveIdentityErr maps identity store failures onto lifecycle errors. An
// unknown id is the caller's mistake, anything else is an outage.
func resolveIdentityErr(kind identity.Kind, id string, err error) error {
	if errors.Is(err, identity.ErrNotFound) {
		return utils.NewValidationError("unknown %s %q", kind, id)
	}
	return utils.NewStorageUnavailable(err)
}

// parties resolves the project, worker and company of a new invitation or
// direct job and checks that the project belongs to the company.
func (lc *lifecycle) parties(ctx context.Context, projectId, workerId, companyId string) (*partiesPayload, error) {
	project, err := lc.identity.ResolveProject(ctx, projectId)
	if err != nil {
		return nil, resolveIdentityErr(identity.KindProject, projectId, err)
	}
	worker, err := lc.identity.ResolveWorker(ctx, workerId)
	if err != nil {
		return nil, resolveIdentityErr(identity.KindWorker, workerId, err)
	}
	company, err := lc.identity.ResolveCompany(ctx, companyId)
	if err != nil {
		return nil, resolveIdentityErr(identity.KindCompany, companyId, err)
	}
	if project.CompanyId != "" && project.CompanyId != companyId {
		return nil, utils.NewForbiddenError("project", projectId, "", "project belongs to another company")
	}
	return &partiesPayload{Project: *project, Worker: *worker, Company: *company}, nil
}

type partiesPayload struct {
	Project identity.Record `json:"project"`
	Worker  identity.Record `json:"worker"`
	Company identity.Record `json:"company"`
}

func requireRole(actor models.Actor, role models.ActorRole, entity, id string) error {
	if actor.Id == "" || actor.Role != role {
		return utils.NewForbiddenError(entity, id, "", "only a "+string(role)+" may perform this action")
	}
	return nil
}
