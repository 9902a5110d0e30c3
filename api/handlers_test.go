package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskdeck-api/domain"
)

type mockEngine struct {
	task        domain.Task
	result      domain.QueryResult
	stats       domain.Stats
	completions []domain.CompletionRecord
	tags        []domain.TagCount
	err         error

	lastDraft   domain.Draft
	lastPatch   domain.TaskPatch
	lastQuery   domain.Query
	lastTaskID  string
	lastPrefix  string
	lastExclude []string
	deleted     []string
}

func (m *mockEngine) Create(_ context.Context, _ string, d domain.Draft) (domain.Task, error) {
	m.lastDraft = d
	return m.task, m.err
}

func (m *mockEngine) Get(_ context.Context, _, taskID string) (domain.Task, error) {
	m.lastTaskID = taskID
	return m.task, m.err
}

func (m *mockEngine) Update(_ context.Context, _, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	m.lastTaskID = taskID
	m.lastPatch = patch
	return m.task, m.err
}

func (m *mockEngine) Complete(_ context.Context, _, taskID string) (domain.Task, error) {
	m.lastTaskID = taskID
	return m.task, m.err
}

func (m *mockEngine) Reopen(_ context.Context, _, taskID string) (domain.Task, error) {
	m.lastTaskID = taskID
	return m.task, m.err
}

func (m *mockEngine) Delete(_ context.Context, _, taskID string) error {
	m.deleted = append(m.deleted, taskID)
	return m.err
}

func (m *mockEngine) List(_ context.Context, _ string, q domain.Query) (domain.QueryResult, error) {
	m.lastQuery = q
	return m.result, m.err
}

func (m *mockEngine) Stats(context.Context, string) (domain.Stats, error) {
	return m.stats, m.err
}

func (m *mockEngine) Completions(_ context.Context, _, taskID string) ([]domain.CompletionRecord, error) {
	m.lastTaskID = taskID
	return m.completions, m.err
}

func (m *mockEngine) TagSuggestions(_ context.Context, _, prefix string, exclude []string) ([]domain.TagCount, error) {
	m.lastPrefix = prefix
	m.lastExclude = exclude
	return m.tags, m.err
}

type mockAuth struct{ err error }

func (a mockAuth) UserIDFromAuthHeader(string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "user", nil
}

func newTestServer(engine Engine, auth Authenticator) *echo.Echo {
	e := echo.New()
	logger := log.New()
	logger.SetOutput(io.Discard)
	Register(e, engine, auth, logger)
	return e
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateTask(t *testing.T) {
	engine := &mockEngine{task: domain.Task{ID: "t1", Title: "Walk dog"}}
	e := newTestServer(engine, mockAuth{})

	body := `{"title":"Walk dog","priority":"high","tags":["pets"],"is_recurring":true,"due_date":"2024-06-01T08:00:00Z","recurrence_pattern":{"type":"daily"}}`
	rec := doRequest(e, http.MethodPost, "/api/tasks", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	if engine.lastDraft.Title != "Walk dog" || engine.lastDraft.Priority != domain.PriorityHigh {
		t.Fatalf("draft not passed through: %+v", engine.lastDraft)
	}
	if !engine.lastDraft.IsRecurring || engine.lastDraft.RecurrencePattern == nil {
		t.Fatalf("recurrence not passed through: %+v", engine.lastDraft)
	}
	var got domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "t1" {
		t.Fatalf("unexpected task in response: %+v", got)
	}
}

func TestCreateTaskRejectsMalformedBody(t *testing.T) {
	e := newTestServer(&mockEngine{}, mockAuth{})
	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title": 42}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestCreateTaskRejectsUnknownFields(t *testing.T) {
	e := newTestServer(&mockEngine{}, mockAuth{})
	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":"x","bogus":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestCreateTaskValidationError(t *testing.T) {
	engine := &mockEngine{err: &domain.ValidationError{Field: "title", Reason: "empty"}}
	e := newTestServer(engine, mockAuth{})
	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestListTasksParsesQuery(t *testing.T) {
	engine := &mockEngine{result: domain.QueryResult{
		Tasks: []domain.Task{{ID: "t1"}}, Total: 1, Page: 2, PageSize: 5,
	}}
	e := newTestServer(engine, mockAuth{})

	target := "/api/tasks?q=dog&status=pending&priority=high&tags=pets&tags=walks" +
		"&due_from=2024-01-01T00:00:00Z&due_to=2024-12-31T23:59:59Z" +
		"&sort_by=due_date&sort_order=asc&page=2&page_size=5"
	rec := doRequest(e, http.MethodGet, target, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	q := engine.lastQuery
	if q.Text != "dog" || q.Status != domain.StatusPending || q.Priority != domain.PriorityHigh {
		t.Fatalf("scalar filters not parsed: %+v", q)
	}
	if len(q.Tags) != 2 || q.Tags[0] != "pets" || q.Tags[1] != "walks" {
		t.Fatalf("repeated tags not parsed: %v", q.Tags)
	}
	if q.DueFrom == nil || q.DueTo == nil {
		t.Fatalf("due range not parsed: %+v", q)
	}
	if q.SortBy != domain.SortByDueDate || q.SortOrder != domain.SortAsc {
		t.Fatalf("sort not parsed: %+v", q)
	}
	if q.Page != 2 || q.PageSize != 5 {
		t.Fatalf("pagination not parsed: %+v", q)
	}

	var result domain.QueryResult
	if err := sonic.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Total != 1 || result.Page != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestListTasksRejectsBadParams(t *testing.T) {
	e := newTestServer(&mockEngine{}, mockAuth{})
	for _, target := range []string{
		"/api/tasks?page=zero",
		"/api/tasks?page_size=-1",
		"/api/tasks?due_from=yesterday",
	} {
		rec := doRequest(e, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: unexpected status %d", target, rec.Code)
		}
	}
}

func TestUnauthorizedRequests(t *testing.T) {
	e := newTestServer(&mockEngine{}, mockAuth{err: errors.New("bad token")})
	for _, target := range []string{"/api/tasks", "/api/tasks/dashboard", "/api/tags"} {
		rec := doRequest(e, http.MethodGet, target, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: unexpected status %d", target, rec.Code)
		}
	}
}

func TestPatchTaskPreservesNullVersusAbsent(t *testing.T) {
	engine := &mockEngine{task: domain.Task{ID: "t1"}}
	e := newTestServer(engine, mockAuth{})

	rec := doRequest(e, http.MethodPatch, "/api/tasks/t1", `{"due_date":null,"title":"New"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	if engine.lastTaskID != "t1" {
		t.Fatalf("unexpected task id: %s", engine.lastTaskID)
	}
	p := engine.lastPatch
	if !p.DueDate.Set || p.DueDate.Value != nil {
		t.Fatalf("null due_date must arrive as explicit clear: %+v", p.DueDate)
	}
	if !p.Title.Set || p.Title.Value == nil || *p.Title.Value != "New" {
		t.Fatalf("title not decoded: %+v", p.Title)
	}
	if p.Priority.Set || p.Tags.Set {
		t.Fatalf("absent fields must stay unset: %+v", p)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	engine := &mockEngine{err: domain.ErrNotFound}
	e := newTestServer(engine, mockAuth{})
	rec := doRequest(e, http.MethodGet, "/api/tasks/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestCompleteTaskConflict(t *testing.T) {
	engine := &mockEngine{err: domain.ErrConflict}
	e := newTestServer(engine, mockAuth{})
	rec := doRequest(e, http.MethodPost, "/api/tasks/t1/complete", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestStorageUnavailableMapsTo503(t *testing.T) {
	engine := &mockEngine{err: domain.ErrUnavailable}
	e := newTestServer(engine, mockAuth{})
	rec := doRequest(e, http.MethodGet, "/api/tasks/dashboard", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	engine := &mockEngine{}
	e := newTestServer(engine, mockAuth{})
	rec := doRequest(e, http.MethodDelete, "/api/tasks/t1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(engine.deleted) != 1 || engine.deleted[0] != "t1" {
		t.Fatalf("delete not forwarded: %v", engine.deleted)
	}
}

func TestReopenTask(t *testing.T) {
	engine := &mockEngine{task: domain.Task{ID: "t1", Status: domain.StatusPending}}
	e := newTestServer(engine, mockAuth{})
	rec := doRequest(e, http.MethodPost, "/api/tasks/t1/reopen", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestGetCompletionsEmptyList(t *testing.T) {
	e := newTestServer(&mockEngine{}, mockAuth{})
	rec := doRequest(e, http.MethodGet, "/api/tasks/t1/completions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != `{"completions":[]}` {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestGetCompletions(t *testing.T) {
	at := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	engine := &mockEngine{completions: []domain.CompletionRecord{
		{ID: "r1", TaskID: "t1", CompletedAt: at, CompletedBy: "user"},
	}}
	e := newTestServer(engine, mockAuth{})
	rec := doRequest(e, http.MethodGet, "/api/tasks/t1/completions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp completionsResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Completions) != 1 || resp.Completions[0].ID != "r1" {
		t.Fatalf("unexpected completions: %+v", resp.Completions)
	}
}

func TestDashboard(t *testing.T) {
	engine := &mockEngine{stats: domain.Stats{Total: 5, Pending: 3, Completed: 2, Overdue: 1, HighPriority: 1}}
	e := newTestServer(engine, mockAuth{})
	rec := doRequest(e, http.MethodGet, "/api/tasks/dashboard", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var got domain.Stats
	if err := sonic.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got != engine.stats {
		t.Fatalf("unexpected stats: %+v", got)
	}
}

func TestTagSuggestions(t *testing.T) {
	engine := &mockEngine{tags: []domain.TagCount{{Name: "work", TaskCount: 3}}}
	e := newTestServer(engine, mockAuth{})
	rec := doRequest(e, http.MethodGet, "/api/tags?q=wo&exclude=home&exclude=urgent", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if engine.lastPrefix != "wo" {
		t.Fatalf("prefix not forwarded: %s", engine.lastPrefix)
	}
	if len(engine.lastExclude) != 2 || engine.lastExclude[0] != "home" {
		t.Fatalf("exclude params not forwarded: %v", engine.lastExclude)
	}
	var resp tagsResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Tags) != 1 || resp.Tags[0].TaskCount != 3 {
		t.Fatalf("unexpected tags: %+v", resp.Tags)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestServer(&mockEngine{}, mockAuth{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
