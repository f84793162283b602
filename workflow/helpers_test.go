package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shiftcrew/dispatch_backend/config"
	"github.com/shiftcrew/dispatch_backend/identity"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/repository"
	"github.com/shiftcrew/dispatch_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
)

var (
	companyC1 = models.Actor{Id: "C1", Role: models.ActorRoleCompany}
	companyC2 = models.Actor{Id: "C2", Role: models.ActorRoleCompany}
	workerW1  = models.Actor{Id: "W1", Role: models.ActorRoleWorker}
	workerW2  = models.Actor{Id: "W2", Role: models.ActorRoleWorker}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store  *repository.MemoryStore
	engine *Engine
	clock  *fakeClock
}

func testResolver() *identity.StaticResolver {
	r := identity.NewStaticResolver()
	r.AddCompany(identity.Record{Id: "C1", Name: "Acme Builders"})
	r.AddCompany(identity.Record{Id: "C2", Name: "Other Co"})
	r.AddProject(identity.Record{Id: "P1", Name: "Riverside Tower", CompanyId: "C1"})
	r.AddProject(identity.Record{Id: "P2", Name: "Harbor Yard", CompanyId: "C1"})
	r.AddProject(identity.Record{Id: "P9", Name: "Elsewhere", CompanyId: "C2"})
	r.AddWorker(identity.Record{Id: "W1", Name: "Aung Aung"})
	r.AddWorker(identity.Record{Id: "W2", Name: "Su Su"})
	return r
}

func newHarness(t *testing.T, scope string) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryStore()
	engine := NewEngine(store, testResolver(), Options{
		InvitationTTL: 7 * 24 * time.Hour,
		UniqueScope:   scope,
		Now:           clock.Now,
		Logger:        logger,
	})
	return &harness{store: store, engine: engine, clock: clock}
}

func newActiveHarness(t *testing.T) *harness {
	return newHarness(t, config.UniqueScopeActive)
}

func invitationInput(project, worker string) *models.NewInvitation {
	return &models.NewInvitation{
		ProjectId: project,
		CompanyId: "C1",
		WorkerId:  worker,
		WageOffer: decimal.NewFromInt(100),
		WageType:  models.WageTypeHourly,
		Message:   "Scaffolding, 3 days",
	}
}

func (h *harness) invite(t *testing.T, project, worker string) *models.Invitation {
	t.Helper()
	inv, err := h.engine.Invitations.Create(context.Background(), companyC1, invitationInput(project, worker))
	if err != nil {
		t.Fatalf("Create(%s, %s): %v", project, worker, err)
	}
	return inv
}

func (h *harness) accept(t *testing.T, inv *models.Invitation, worker models.Actor) *RespondResult {
	t.Helper()
	res, err := h.engine.Invitations.Respond(context.Background(), inv.ID, worker, &models.InvitationResponse{Decision: models.DecisionAccepted})
	if err != nil {
		t.Fatalf("Respond(accept): %v", err)
	}
	return res
}

func (h *harness) jobsForInvitation(t *testing.T, invitationId string) []*models.JobRecord {
	t.Helper()
	items, _, err := h.store.ListJobRecords(context.Background(), models.JobRecordFilter{CompanyId: "C1", Pagination: models.Pagination{Limit: 1000}})
	if err != nil {
		t.Fatalf("ListJobRecords: %v", err)
	}
	var out []*models.JobRecord
	for _, j := range items {
		if j.InvitationId != nil && *j.InvitationId == invitationId {
			out = append(out, j)
		}
	}
	return out
}

func (h *harness) activeCount(t *testing.T, project, worker string) int {
	t.Helper()
	items, _, err := h.store.ListInvitations(context.Background(), models.InvitationFilter{ProjectId: project, WorkerId: worker, Pagination: models.Pagination{Limit: 1000}})
	if err != nil {
		t.Fatalf("ListInvitations: %v", err)
	}
	n := 0
	for _, inv := range items {
		if inv.Status.IsActive() {
			n++
		}
	}
	return n
}

// expectKind asserts err is a LifecycleError of kind and, when status is not
// empty, that it reports that current status.
func expectKind(t *testing.T, err error, kind utils.ErrorKind, status string) *utils.LifecycleError {
	t.Helper()
	var le *utils.LifecycleError
	if !errors.As(err, &le) {
		t.Fatalf("expected %s, got %v", kind, err)
	}
	if le.Kind != kind {
		t.Fatalf("expected %s, got %s: %v", kind, le.Kind, err)
	}
	if status != "" && le.CurrentStatus != status {
		t.Fatalf("expected current status %q, got %q", status, le.CurrentStatus)
	}
	return le
}
