package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"leadrelay/internal/config"
	"leadrelay/internal/model"
)

func apiTestApp(st *fakeStore) *Server {
	cfg := &config.Config{
		Auth: config.AuthConfig{Enabled: true, APIKey: "lr_admin_key"},
	}
	return NewServer(cfg, st, nil)
}

func apiGet(t *testing.T, srv *Server, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer lr_admin_key")
	resp, err := srv.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func TestLeadsListRequiresAuth(t *testing.T) {
	srv := apiTestApp(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/v1/leads", nil)
	resp, err := srv.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLeadsListWrongKey(t *testing.T) {
	srv := apiTestApp(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/v1/leads", nil)
	req.Header.Set("Authorization", "Bearer nope")
	resp, err := srv.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLeadDetailIncludesJobs(t *testing.T) {
	st := newFakeStore()
	lead := &model.Lead{ID: uuid.New(), Source: "meta", Status: model.LeadQueued, Payload: json.RawMessage(`{}`)}
	st.leads[lead.ID] = lead
	st.EnqueueJobs(nil, lead.ID, model.AllJobTypes())

	srv := apiTestApp(st)
	resp := apiGet(t, srv, "/v1/leads/"+lead.ID.String())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body LeadDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.ID != lead.ID.String() {
		t.Errorf("lead id = %q", body.Data.ID)
	}
	if len(body.Data.Jobs) != len(model.AllJobTypes()) {
		t.Errorf("detail has %d jobs, want %d", len(body.Data.Jobs), len(model.AllJobTypes()))
	}
}

func TestLeadDetailNotFound(t *testing.T) {
	srv := apiTestApp(newFakeStore())
	resp := apiGet(t, srv, "/v1/leads/"+uuid.New().String())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLeadDetailInvalidID(t *testing.T) {
	srv := apiTestApp(newFakeStore())
	resp := apiGet(t, srv, "/v1/leads/not-a-uuid")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLeadRetry(t *testing.T) {
	st := newFakeStore()
	lead := &model.Lead{ID: uuid.New(), Source: "meta", Status: model.LeadFailed}
	st.leads[lead.ID] = lead
	st.resetJobs = 2

	srv := apiTestApp(st)
	req := httptest.NewRequest(http.MethodPost, "/v1/leads/"+lead.ID.String()+"/retry", nil)
	req.Header.Set("Authorization", "Bearer lr_admin_key")
	resp, err := srv.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body RetryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.JobsReset != 2 {
		t.Errorf("jobs_reset = %d, want 2", body.JobsReset)
	}
	if len(st.retried) != 1 || st.retried[0] != lead.ID {
		t.Errorf("retry calls = %v", st.retried)
	}
}

func TestJobsListFilterByLead(t *testing.T) {
	st := newFakeStore()
	leadA := uuid.New()
	leadB := uuid.New()
	st.leads[leadA] = &model.Lead{ID: leadA, Status: model.LeadQueued}
	st.leads[leadB] = &model.Lead{ID: leadB, Status: model.LeadQueued}
	st.EnqueueJobs(nil, leadA, model.AllJobTypes())
	st.EnqueueJobs(nil, leadB, model.AllJobTypes())

	srv := apiTestApp(st)
	resp := apiGet(t, srv, "/v1/jobs?lead_id="+leadA.String())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body JobListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Data) != len(model.AllJobTypes()) {
		t.Errorf("filtered list has %d jobs, want %d", len(body.Data), len(model.AllJobTypes()))
	}
	for _, j := range body.Data {
		if j.LeadID != leadA.String() {
			t.Errorf("job %s belongs to lead %s", j.ID, j.LeadID)
		}
	}
}

func TestHealthzShallow(t *testing.T) {
	srv := apiTestApp(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := srv.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := apiTestApp(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := srv.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
