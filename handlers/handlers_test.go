package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shiftcrew/dispatch_backend/identity"
	"github.com/shiftcrew/dispatch_backend/middlewares"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/repository"
	"github.com/shiftcrew/dispatch_backend/utils"
	"github.com/shiftcrew/dispatch_backend/workflow"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/xuri/excelize/v2"
)

var testSecret = []byte("test-secret")

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()

	resolver := identity.NewStaticResolver()
	resolver.AddCompany(identity.Record{Id: "C1", Name: "Acme Builders"})
	resolver.AddCompany(identity.Record{Id: "C2", Name: "Other Co"})
	resolver.AddProject(identity.Record{Id: "P1", Name: "Riverside Tower", CompanyId: "C1"})
	resolver.AddWorker(identity.Record{Id: "W1", Name: "Aung Aung"})

	engine := workflow.NewEngine(repository.NewMemoryStore(), resolver, workflow.Options{Logger: logger})
	r := gin.New()
	r.Use(middlewares.RequestMiddleware(logger), middlewares.AuthMiddleware(testSecret))
	New(engine, logger).Register(r)
	return r
}

func token(t *testing.T, id string, role models.ActorRole) string {
	t.Helper()
	tok, err := utils.JwtGenerate(testSecret, id, string(role), time.Hour)
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	return tok
}

type call struct {
	method string
	path   string
	token  string
	body   any
	header map[string]string
}

func do(t *testing.T, r http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&body).Encode(c.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

var invitationBody = map[string]any{
	"project_id": "P1",
	"company_id": "C1",
	"worker_id":  "W1",
	"wage_offer": "100",
	"wage_type":  "hourly",
	"message":    "Scaffolding, 3 days",
}

func TestInvitationToPaidOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	c1 := token(t, "C1", models.ActorRoleCompany)
	c2 := token(t, "C2", models.ActorRoleCompany)
	w1 := token(t, "W1", models.ActorRoleWorker)

	w := do(t, r, call{method: http.MethodPost, path: "/v1/invitations", token: c1, body: invitationBody})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get(middlewares.HeaderCorrelationId) == "" {
		t.Fatalf("expected a correlation id header")
	}
	inv := decode[models.Invitation](t, w)

	w = do(t, r, call{method: http.MethodPost, path: "/v1/invitations", token: c1, body: invitationBody})
	if w.Code != http.StatusConflict {
		t.Fatalf("second create: expected 409, got %d", w.Code)
	}
	conflict := decode[errorResponse](t, w)
	if conflict.Error != string(utils.KindConflict) || conflict.EntityId != inv.ID || conflict.CurrentStatus != "pending" {
		t.Fatalf("unexpected conflict body %+v", conflict)
	}

	w = do(t, r, call{method: http.MethodPost, path: "/v1/invitations/" + inv.ID + "/respond", token: w1, body: map[string]any{"decision": "accepted"}})
	if w.Code != http.StatusOK {
		t.Fatalf("respond: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[workflow.RespondResult](t, w)
	if res.JobRecord == nil {
		t.Fatalf("expected job record in respond result")
	}
	jobPath := "/v1/job-records/" + res.JobRecord.ID

	w = do(t, r, call{method: http.MethodPost, path: "/v1/invitations/" + inv.ID + "/respond", token: w1, body: map[string]any{"decision": "rejected"}})
	if w.Code != http.StatusConflict || decode[errorResponse](t, w).CurrentStatus != "accepted" {
		t.Fatalf("double respond: expected 409 with current status accepted, got %d: %s", w.Code, w.Body.String())
	}

	if w = do(t, r, call{method: http.MethodPost, path: jobPath + "/complete", token: w1}); w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w = do(t, r, call{method: http.MethodPost, path: jobPath + "/confirm", token: c2}); w.Code != http.StatusForbidden {
		t.Fatalf("confirm by other company: expected 403, got %d", w.Code)
	}
	if w = do(t, r, call{method: http.MethodPost, path: jobPath + "/confirm", token: c1}); w.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, r, call{method: http.MethodPost, path: jobPath + "/pay", token: c1})
	if w.Code != http.StatusOK {
		t.Fatalf("pay: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if job := decode[models.JobRecord](t, w); job.Status != models.JobRecordStatusPaid || job.PaidTime == nil {
		t.Fatalf("unexpected paid job %+v", job)
	}

	w = do(t, r, call{method: http.MethodGet, path: jobPath + "/events", token: w1})
	if w.Code != http.StatusOK {
		t.Fatalf("events: expected 200, got %d", w.Code)
	}
	events := decode[struct {
		Items []models.LifecycleEvent `json:"items"`
	}](t, w)
	if len(events.Items) != 4 {
		t.Fatalf("expected 4 job events, got %d", len(events.Items))
	}
}

func TestAuthAndRoles(t *testing.T) {
	r := newTestRouter(t)
	w1 := token(t, "W1", models.ActorRoleWorker)

	if w := do(t, r, call{method: http.MethodGet, path: "/v1/invitations"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", w.Code)
	}
	if w := do(t, r, call{method: http.MethodGet, path: "/v1/invitations", token: "garbage"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", w.Code)
	}
	system := token(t, "S", models.ActorRoleSystem)
	if w := do(t, r, call{method: http.MethodGet, path: "/v1/invitations", token: system}); w.Code != http.StatusUnauthorized {
		t.Fatalf("system token: expected 401, got %d", w.Code)
	}
	if w := do(t, r, call{method: http.MethodPost, path: "/v1/invitations", token: w1, body: invitationBody}); w.Code != http.StatusForbidden {
		t.Fatalf("worker create: expected 403, got %d", w.Code)
	}
	if w := do(t, r, call{method: http.MethodGet, path: "/v1/invitations/missing", token: w1}); w.Code != http.StatusNotFound {
		t.Fatalf("missing invitation: expected 404, got %d", w.Code)
	}
}

func TestValidationErrors(t *testing.T) {
	r := newTestRouter(t)
	c1 := token(t, "C1", models.ActorRoleCompany)

	bad := map[string]any{}
	for k, v := range invitationBody {
		bad[k] = v
	}
	bad["wage_offer"] = "0"
	w := do(t, r, call{method: http.MethodPost, path: "/v1/invitations", token: c1, body: bad})
	if w.Code != http.StatusBadRequest || decode[errorResponse](t, w).Error != string(utils.KindValidation) {
		t.Fatalf("zero wage: expected 400 ValidationError, got %d: %s", w.Code, w.Body.String())
	}

	if w := do(t, r, call{method: http.MethodGet, path: "/v1/invitations?offset=-1", token: c1}); w.Code != http.StatusBadRequest {
		t.Fatalf("negative offset: expected 400, got %d", w.Code)
	}
	if w := do(t, r, call{method: http.MethodGet, path: "/v1/job-records?status=lost", token: c1}); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %d", w.Code)
	}
}

func TestIdempotencyKeyHeader(t *testing.T) {
	r := newTestRouter(t)
	c1 := token(t, "C1", models.ActorRoleCompany)
	w1 := token(t, "W1", models.ActorRoleWorker)

	inv := decode[models.Invitation](t, do(t, r, call{method: http.MethodPost, path: "/v1/invitations", token: c1, body: invitationBody}))
	respond := call{
		method: http.MethodPost,
		path:   "/v1/invitations/" + inv.ID + "/respond",
		token:  w1,
		body:   map[string]any{"decision": "accepted"},
		header: map[string]string{middlewares.HeaderIdempotencyKey: "abc-123"},
	}
	first := do(t, r, respond)
	second := do(t, r, respond)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected both calls to succeed, got %d and %d", first.Code, second.Code)
	}
	if second.Header().Get(headerReplayed) != "true" {
		t.Fatalf("expected replay header on the second call")
	}
	a, b := decode[workflow.RespondResult](t, first), decode[workflow.RespondResult](t, second)
	if a.JobRecord.ID != b.JobRecord.ID {
		t.Fatalf("replay returned a different job: %s vs %s", a.JobRecord.ID, b.JobRecord.ID)
	}
}

func TestExportJobRecords(t *testing.T) {
	r := newTestRouter(t)
	c1 := token(t, "C1", models.ActorRoleCompany)
	c2 := token(t, "C2", models.ActorRoleCompany)

	w := do(t, r, call{method: http.MethodPost, path: "/v1/job-records", token: c1, body: map[string]any{"project_id": "P1", "worker_id": "W1", "company_id": "C1"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("direct job: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	job := decode[models.JobRecord](t, w)

	if w := do(t, r, call{method: http.MethodGet, path: "/v1/companies/C1/job-records/export", token: c2}); w.Code != http.StatusForbidden {
		t.Fatalf("export by other company: expected 403, got %d", w.Code)
	}

	w = do(t, r, call{method: http.MethodGet, path: "/v1/companies/C1/job-records/export", token: c1})
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("export: expected xlsx, got %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("JobRecords")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != job.ID {
		t.Fatalf("expected heading plus one row for %s, got %v", job.ID, rows)
	}
}
