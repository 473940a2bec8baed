package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"linkwatch/internal/queue"
	"linkwatch/internal/store"

	"go.uber.org/zap"
)

type fakeEnqueuer struct {
	jobs     []queue.HealthCheckJob
	critical []bool
	err      error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job queue.HealthCheckJob, critical bool) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	f.critical = append(f.critical, critical)
	return nil
}

func newTestAPI(secret string) (*API, *store.MemoryStore, *fakeEnqueuer) {
	st := store.NewMemoryStore()
	enq := &fakeEnqueuer{}
	return New(st, enq, nil, secret, zap.NewNop().Sugar()), st, enq
}

func doRequest(t *testing.T, a *API, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

const registerBody = `{"convexUrlId":"cvx-1","convexUserId":"user-1","longUrl":"https://example.com","shortUrl":"https://sho.rt/a"}`

func TestHealthUnauthenticated(t *testing.T) {
	a, _, _ := newTestAPI("secret")

	rec := doRequest(t, a, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 without auth", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["service"] != "linkwatch" || body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	a, _, _ := newTestAPI("secret")

	rec := doRequest(t, a, http.MethodPost, "/monitors/register", registerBody, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, a, http.MethodPost, "/monitors/register", registerBody, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, a, http.MethodPost, "/monitors/register", registerBody, "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("good token: status = %d, want 200", rec.Code)
	}
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	a, _, _ := newTestAPI("")

	rec := doRequest(t, a, http.MethodPost, "/monitors/register", registerBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when no secret configured", rec.Code)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	a, _, _ := newTestAPI("")

	rec := doRequest(t, a, http.MethodPost, "/monitors/register", registerBody, "")
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("first register body = %v", body)
	}
	if id, _ := body["linkId"].(string); id == "" {
		t.Fatal("first register returned no linkId")
	}

	rec = doRequest(t, a, http.MethodPost, "/monitors/register", registerBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate register status = %d, want 200", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["success"] != true || body["message"] != "Already registered" {
		t.Errorf("duplicate register body = %v", body)
	}
	if _, ok := body["linkId"]; ok {
		t.Error("duplicate register must not mint a new id")
	}
}

func TestRegisterValidation(t *testing.T) {
	a, _, _ := newTestAPI("")

	tests := []struct {
		name string
		body string
	}{
		{"missing convexUrlId", `{"convexUserId":"u","longUrl":"https://x"}`},
		{"missing longUrl", `{"convexUrlId":"c","convexUserId":"u"}`},
		{"interval too small", registerBody[:len(registerBody)-1] + `,"intervalMs":500}`},
		{"bad environment", registerBody[:len(registerBody)-1] + `,"environment":"staging"}`},
		{"not json", `{{`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, a, http.MethodPost, "/monitors/register", tc.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestRegisterDefaults(t *testing.T) {
	a, st, _ := newTestAPI("")

	rec := doRequest(t, a, http.MethodPost, "/monitors/register", registerBody, "")
	id := decodeBody(t, rec)["linkId"].(string)

	m, err := st.GetMonitor(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if m.IntervalMS != 60000 {
		t.Errorf("IntervalMS = %d, want default 60000", m.IntervalMS)
	}
	if m.Environment != store.EnvProd {
		t.Errorf("Environment = %q, want default prod", m.Environment)
	}
	if m.CurrentStatus != store.StatusPending || !m.IsActive {
		t.Errorf("new monitor = %+v, want active pending", m)
	}
}

func TestBatchRegister(t *testing.T) {
	a, _, _ := newTestAPI("")

	body := `[
		{"convexUrlId":"cvx-1","convexUserId":"u","longUrl":"https://a"},
		{"convexUrlId":"","convexUserId":"u","longUrl":"https://b"},
		{"convexUrlId":"cvx-1","convexUserId":"u","longUrl":"https://a"}
	]`
	rec := doRequest(t, a, http.MethodPost, "/monitors/batch", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	results := decodeBody(t, rec)["results"].([]any)
	if len(results) != 3 {
		t.Fatalf("results = %d entries, want 3", len(results))
	}
	first := results[0].(map[string]any)
	second := results[1].(map[string]any)
	third := results[2].(map[string]any)
	if first["success"] != true {
		t.Errorf("valid item failed: %v", first)
	}
	if second["success"] != false {
		t.Errorf("invalid item succeeded: %v", second)
	}
	if third["message"] != "Already registered" {
		t.Errorf("duplicate item = %v", third)
	}
}

func TestForceCheck(t *testing.T) {
	a, st, enq := newTestAPI("")

	rec := doRequest(t, a, http.MethodPost, "/monitors/register", registerBody, "")
	id := decodeBody(t, rec)["linkId"].(string)

	before, _ := st.GetMonitor(context.Background(), id)

	rec = doRequest(t, a, http.MethodPost, "/monitors/"+id+"/force-check", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(enq.jobs) != 1 || enq.jobs[0].LinkID != id {
		t.Fatalf("enqueued jobs = %+v", enq.jobs)
	}
	if !enq.critical[0] {
		t.Error("force-check must enqueue at critical priority")
	}

	// The scheduled cadence is untouched by a manual check.
	after, _ := st.GetMonitor(context.Background(), id)
	if !after.NextCheckAt.Equal(before.NextCheckAt) {
		t.Errorf("NextCheckAt moved from %v to %v", before.NextCheckAt, after.NextCheckAt)
	}
}

func TestForceCheckNotFound(t *testing.T) {
	a, _, _ := newTestAPI("")
	rec := doRequest(t, a, http.MethodPost, "/monitors/nope/force-check", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestForceCheckInactive(t *testing.T) {
	a, st, enq := newTestAPI("")

	rec := doRequest(t, a, http.MethodPost, "/monitors/register", registerBody, "")
	id := decodeBody(t, rec)["linkId"].(string)
	st.DeactivateMonitor(context.Background(), id)

	rec = doRequest(t, a, http.MethodPost, "/monitors/"+id+"/force-check", "", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if len(enq.jobs) != 0 {
		t.Error("inactive monitor was enqueued")
	}
}

func TestGetMonitor(t *testing.T) {
	a, _, _ := newTestAPI("")

	rec := doRequest(t, a, http.MethodPost, "/monitors/register", registerBody, "")
	id := decodeBody(t, rec)["linkId"].(string)

	rec = doRequest(t, a, http.MethodGet, "/monitors/"+id, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var m store.Monitor
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	if m.ID != id || m.ConvexURLID != "cvx-1" {
		t.Errorf("monitor = %+v", m)
	}

	rec = doRequest(t, a, http.MethodGet, "/monitors/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing monitor status = %d, want 404", rec.Code)
	}
}

func TestDeleteMonitor(t *testing.T) {
	a, st, _ := newTestAPI("")

	rec := doRequest(t, a, http.MethodPost, "/monitors/register", registerBody, "")
	id := decodeBody(t, rec)["linkId"].(string)

	rec = doRequest(t, a, http.MethodDelete, "/monitors/"+id, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Soft delete: the row survives but leaves the scheduling pool.
	m, err := st.GetMonitor(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if m.IsActive {
		t.Error("monitor still active after delete")
	}
	due, _ := st.SelectDueMonitors(context.Background(), time.Now().Add(time.Hour), 10)
	if len(due) != 0 {
		t.Errorf("deleted monitor still scheduled: %v", due)
	}

	rec = doRequest(t, a, http.MethodDelete, "/monitors/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing monitor status = %d, want 404", rec.Code)
	}
}
