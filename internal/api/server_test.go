package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jordanhubbard/venture/internal/eventbus"
	"github.com/jordanhubbard/venture/internal/venture"
	"github.com/jordanhubbard/venture/pkg/config"
	"github.com/jordanhubbard/venture/pkg/models"
)

func testServerConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "venture.db")
	cfg.Channels.SimSeed = 7
	cfg.Channels.SimFailureRate = 0
	cfg.Channels.SocialStagger = time.Millisecond
	cfg.Scheduler.CycleDeadline = 5 * time.Second
	cfg.Security.EnableAuth = false
	cfg.Security.JWTSecret = "test-secret"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (http.Handler, *venture.Venture) {
	t.Helper()
	app, err := venture.New(cfg)
	if err != nil {
		t.Fatalf("venture.New() error = %v", err)
	}
	t.Cleanup(app.Shutdown)
	return NewServer(app, cfg).SetupRoutes(), app
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func doAuthJSON(t *testing.T, handler http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	w := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	decodeJSON(t, w, &login)
	if login.Token == "" {
		t.Fatal("login returned no token")
	}
	return login.Token
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// createTestTenant creates a tenant with a sky-high reinvestment threshold
// so simulated cycles never mint directives mid-test.
func createTestTenant(t *testing.T, handler http.Handler, id string) models.Tenant {
	t.Helper()
	w := doJSON(t, handler, http.MethodPost, "/api/v1/tenants", CreateTenantRequest{
		ID:       id,
		Name:     "Test Venture",
		Niche:    "fitness",
		Keywords: []string{"home workouts"},
		Persona:  models.PersonaHustler,
		Plan:     models.PlanStarter,
		Policy:   &models.TenantPolicy{ReinvestThreshold: 5000},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create tenant status = %d, body %s", w.Code, w.Body.String())
	}
	var tenant models.Tenant
	decodeJSON(t, w, &tenant)
	return tenant
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))

	w := doJSON(t, handler, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp map[string]string
	decodeJSON(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestCreateTenantValidation(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))

	tests := []struct {
		name           string
		requestBody    interface{}
		expectedStatus int
	}{
		{
			name:           "valid tenant",
			requestBody:    CreateTenantRequest{Name: "Valid", Niche: "fitness"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing name",
			requestBody:    CreateTenantRequest{Niche: "fitness"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing niche",
			requestBody:    CreateTenantRequest{Name: "No Niche"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown persona",
			requestBody:    CreateTenantRequest{Name: "Bad", Niche: "fitness", Persona: "wizard"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown plan",
			requestBody:    CreateTenantRequest{Name: "Bad", Niche: "fitness", Plan: "platinum"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			requestBody:    "not an object",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, handler, http.MethodPost, "/api/v1/tenants", tt.requestBody)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d (body %s)", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestCreateTenantDefaultsAndConflict(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))

	w := doJSON(t, handler, http.MethodPost, "/api/v1/tenants", CreateTenantRequest{
		ID:    "t-defaults",
		Name:  "Defaulted",
		Niche: "fitness",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var tenant models.Tenant
	decodeJSON(t, w, &tenant)

	if tenant.Persona != models.PersonaCoach {
		t.Errorf("persona = %s, want %s", tenant.Persona, models.PersonaCoach)
	}
	if tenant.Plan != models.PlanStarter {
		t.Errorf("plan = %s, want %s", tenant.Plan, models.PlanStarter)
	}
	if tenant.AutopilotEnabled {
		t.Error("autopilot enabled on a fresh tenant")
	}
	if tenant.Policy.ReinvestThreshold != 1.0 {
		t.Errorf("reinvest threshold = %v, want configured default 1.0", tenant.Policy.ReinvestThreshold)
	}
	if tenant.Policy.WindowDays != 30 {
		t.Errorf("window days = %d, want 30", tenant.Policy.WindowDays)
	}
	if len(tenant.Policy.Channels) != len(models.AllChannels()) {
		t.Errorf("channels = %v, want all channels", tenant.Policy.Channels)
	}

	w = doJSON(t, handler, http.MethodPost, "/api/v1/tenants", CreateTenantRequest{
		ID:    "t-defaults",
		Name:  "Duplicate",
		Niche: "fitness",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestListTenants(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))
	createTestTenant(t, handler, "t-list-1")
	createTestTenant(t, handler, "t-list-2")

	w := doJSON(t, handler, http.MethodGet, "/api/v1/tenants", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var tenants []*models.Tenant
	decodeJSON(t, w, &tenants)
	if len(tenants) != 2 {
		t.Errorf("listed %d tenants, want 2", len(tenants))
	}
}

func TestUpdateAndArchiveTenant(t *testing.T) {
	handler, app := newTestServer(t, testServerConfig(t))
	tenant := createTestTenant(t, handler, "t-update")

	newName := "Renamed Venture"
	enabled := true
	w := doJSON(t, handler, http.MethodPut, "/api/v1/tenants/"+tenant.ID, UpdateTenantRequest{
		Name:      &newName,
		Autopilot: &enabled,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}
	var updated models.Tenant
	decodeJSON(t, w, &updated)
	if updated.Name != newName {
		t.Errorf("name = %q, want %q", updated.Name, newName)
	}
	if !updated.AutopilotEnabled {
		t.Error("autopilot not enabled after update")
	}

	w = doJSON(t, handler, http.MethodDelete, "/api/v1/tenants/"+tenant.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("archive status = %d", w.Code)
	}
	var archived models.Tenant
	decodeJSON(t, w, &archived)
	if archived.Status != models.TenantStatusArchived {
		t.Errorf("status = %s, want %s", archived.Status, models.TenantStatusArchived)
	}
	if archived.AutopilotEnabled {
		t.Error("autopilot still enabled after archive")
	}

	stored, err := app.GetDatabase().GetTenant(tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant() error = %v", err)
	}
	if stored.Status != models.TenantStatusArchived {
		t.Errorf("stored status = %s, want archived", stored.Status)
	}
}

func TestTenantNotFound(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))

	paths := []string{
		"/api/v1/tenants/missing",
		"/api/v1/tenants/missing/status",
		"/api/v1/tenants/missing/kpis",
		"/api/v1/tenants/missing/strategies",
		"/api/v1/tenants/missing/events",
	}
	for _, path := range paths {
		if w := doJSON(t, handler, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusNotFound)
		}
	}
}

func TestAutopilotEndpoint(t *testing.T) {
	handler, app := newTestServer(t, testServerConfig(t))
	tenant := createTestTenant(t, handler, "t-pilot")

	w := doJSON(t, handler, http.MethodPut, "/api/v1/tenants/"+tenant.ID+"/autopilot",
		map[string]bool{"enabled": true})
	if w.Code != http.StatusOK {
		t.Fatalf("autopilot status = %d, body %s", w.Code, w.Body.String())
	}
	stored, err := app.GetDatabase().GetTenant(tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant() error = %v", err)
	}
	if !stored.AutopilotEnabled {
		t.Error("autopilot flag not persisted")
	}

	doJSON(t, handler, http.MethodDelete, "/api/v1/tenants/"+tenant.ID, nil)
	w = doJSON(t, handler, http.MethodPut, "/api/v1/tenants/"+tenant.ID+"/autopilot",
		map[string]bool{"enabled": true})
	if w.Code != http.StatusConflict {
		t.Errorf("enable on archived tenant status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestPolicyEndpoint(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))
	tenant := createTestTenant(t, handler, "t-policy")

	w := doJSON(t, handler, http.MethodPut, "/api/v1/tenants/"+tenant.ID+"/policy",
		models.TenantPolicy{ReinvestThreshold: 2500, ReinvestRate: 0.7})
	if w.Code != http.StatusOK {
		t.Fatalf("put policy status = %d", w.Code)
	}

	w = doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/policy", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get policy status = %d", w.Code)
	}
	var policy models.TenantPolicy
	decodeJSON(t, w, &policy)
	if policy.ReinvestThreshold != 2500 {
		t.Errorf("threshold = %v, want 2500", policy.ReinvestThreshold)
	}
	if policy.ReinvestRate != 0.7 {
		t.Errorf("rate = %v, want 0.7", policy.ReinvestRate)
	}
	if policy.WindowDays != 30 {
		t.Errorf("window days = %d, want normalized 30", policy.WindowDays)
	}
}

func TestManualCycleEndpoints(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))
	tenant := createTestTenant(t, handler, "t-cycle")

	w := doJSON(t, handler, http.MethodPost, "/api/v1/tenants/"+tenant.ID+"/cycle", struct{}{})
	if w.Code != http.StatusOK {
		t.Fatalf("start cycle status = %d, body %s", w.Code, w.Body.String())
	}
	var rec models.CycleRecord
	decodeJSON(t, w, &rec)
	if rec.Status != models.CycleStatusCompleted {
		t.Fatalf("cycle status = %s, want %s", rec.Status, models.CycleStatusCompleted)
	}

	w = doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/cycles", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list cycles status = %d", w.Code)
	}
	var cycles []*models.CycleRecord
	decodeJSON(t, w, &cycles)
	if len(cycles) != 1 {
		t.Fatalf("listed %d cycles, want 1", len(cycles))
	}

	w = doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/cycles/latest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("latest cycle status = %d", w.Code)
	}
	var latest models.CycleRecord
	decodeJSON(t, w, &latest)
	if latest.ID != rec.ID {
		t.Errorf("latest cycle = %s, want %s", latest.ID, rec.ID)
	}

	w = doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/cycles/"+rec.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get cycle status = %d", w.Code)
	}
	w = doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/cycles/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get missing cycle status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = doJSON(t, handler, http.MethodDelete, "/api/v1/tenants/"+tenant.ID+"/cycle", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("cancel with no running cycle status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tenant status = %d", w.Code)
	}
	var status map[string]interface{}
	decodeJSON(t, w, &status)
	if running, _ := status["running"].(bool); running {
		t.Error("running = true after the cycle finished")
	}
	if status["cycle"] == nil {
		t.Error("status is missing the latest cycle")
	}
}

func TestCycleOverrideEndpoint(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))
	tenant := createTestTenant(t, handler, "t-override")

	w := doJSON(t, handler, http.MethodPost, "/api/v1/tenants/"+tenant.ID+"/cycle", StartCycleRequest{
		Strategy: &models.Strategy{
			Name:     "hand picked",
			Kind:     models.KindEbook,
			Niche:    "fitness",
			Price:    12,
			AdBudget: 5,
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("override cycle status = %d, body %s", w.Code, w.Body.String())
	}
	var rec models.CycleRecord
	decodeJSON(t, w, &rec)
	if rec.Mode != models.ModeOverride {
		t.Errorf("mode = %s, want %s", rec.Mode, models.ModeOverride)
	}
	if rec.Strategy != "hand picked" {
		t.Errorf("strategy = %q, want %q", rec.Strategy, "hand picked")
	}

	w = doJSON(t, handler, http.MethodPost, "/api/v1/tenants/"+tenant.ID+"/cycle", StartCycleRequest{
		Strategy: &models.Strategy{Kind: models.KindEbook},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("nameless override status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = doJSON(t, handler, http.MethodPost, "/api/v1/tenants/"+tenant.ID+"/cycle", StartCycleRequest{
		Strategy: &models.Strategy{Name: "bad", Kind: "hologram"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad kind override status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// runTestCycle triggers a manual cycle and fails the test unless it completes.
func runTestCycle(t *testing.T, handler http.Handler, tenantID string) models.CycleRecord {
	t.Helper()
	w := doJSON(t, handler, http.MethodPost, "/api/v1/tenants/"+tenantID+"/cycle", struct{}{})
	if w.Code != http.StatusOK {
		t.Fatalf("start cycle status = %d, body %s", w.Code, w.Body.String())
	}
	var rec models.CycleRecord
	decodeJSON(t, w, &rec)
	if rec.Status != models.CycleStatusCompleted {
		t.Fatalf("cycle status = %s, want %s", rec.Status, models.CycleStatusCompleted)
	}
	return rec
}

func TestKPIAndProfitEndpoints(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))
	tenant := createTestTenant(t, handler, "t-kpi")
	runTestCycle(t, handler, tenant.ID)

	w := doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/kpis", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("kpis status = %d, body %s", w.Code, w.Body.String())
	}
	var report models.KPIReport
	decodeJSON(t, w, &report)
	if report.TenantID != tenant.ID {
		t.Errorf("report tenant = %s, want %s", report.TenantID, tenant.ID)
	}
	if report.CyclesRun < 1 {
		t.Errorf("cycles run = %d, want >= 1", report.CyclesRun)
	}

	w = doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/profit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("profit status = %d", w.Code)
	}
	var profit struct {
		TenantID     string              `json:"tenant_id"`
		TotalRevenue float64             `json:"total_revenue"`
		WindowDays   int                 `json:"window_days"`
		BySource     map[string]float64  `json:"by_source"`
		Entries      []*models.ProfitLog `json:"entries"`
	}
	decodeJSON(t, w, &profit)
	if profit.TenantID != tenant.ID {
		t.Errorf("profit tenant = %s, want %s", profit.TenantID, tenant.ID)
	}
	if profit.TotalRevenue <= 0 {
		t.Errorf("total revenue = %v, want > 0 after a completed cycle", profit.TotalRevenue)
	}
	if len(profit.Entries) == 0 {
		t.Error("no profit entries after a completed cycle")
	}

	w = doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/directives", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("directives status = %d", w.Code)
	}
	var directives []*models.ReinvestmentDirective
	decodeJSON(t, w, &directives)
	if len(directives) != 0 {
		t.Errorf("got %d directives, want 0 under the test threshold", len(directives))
	}
}

func TestStrategyEndpoints(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))
	tenant := createTestTenant(t, handler, "t-strat")
	runTestCycle(t, handler, tenant.ID)

	w := doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/strategies", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list strategies status = %d", w.Code)
	}
	var entries []*models.StrategyCacheEntry
	decodeJSON(t, w, &entries)
	if len(entries) == 0 {
		t.Fatal("no strategy entries after a completed cycle")
	}

	var target *models.StrategyCacheEntry
	for _, e := range entries {
		if !e.Key.Global {
			target = e
			break
		}
	}
	if target == nil {
		t.Fatal("no tenant-scoped strategy entry found")
	}

	keyReq := ScopeKeyRequest{
		TenantID: target.Key.TenantID,
		Niche:    target.Key.Niche,
		Channel:  target.Key.Channel,
		Kind:     target.Key.Kind,
	}

	w = doJSON(t, handler, http.MethodPost, "/api/v1/strategies/evict", keyReq)
	if w.Code != http.StatusOK {
		t.Fatalf("evict status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/strategies", nil)
	decodeJSON(t, w, &entries)
	for _, e := range entries {
		if e.Key == target.Key {
			t.Fatalf("evicted key %s still listed", e.Key.String())
		}
	}

	w = doJSON(t, handler, http.MethodPost, "/api/v1/strategies/rebuild", keyReq)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild status = %d, body %s", w.Code, w.Body.String())
	}
	var rebuilt models.StrategyCacheEntry
	decodeJSON(t, w, &rebuilt)
	if rebuilt.UsageCount == 0 {
		t.Error("rebuilt entry has zero usage, want ledger replay")
	}
}

func TestStrategyKeyValidation(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))

	tests := []struct {
		name        string
		requestBody interface{}
	}{
		{
			name:        "missing niche",
			requestBody: ScopeKeyRequest{TenantID: "t", Channel: models.ChannelContent, Kind: models.KindEbook},
		},
		{
			name:        "unknown kind",
			requestBody: ScopeKeyRequest{TenantID: "t", Niche: "fitness", Channel: models.ChannelContent, Kind: "hologram"},
		},
		{
			name:        "non-global without tenant",
			requestBody: ScopeKeyRequest{Niche: "fitness", Channel: models.ChannelContent, Kind: models.KindEbook},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, handler, http.MethodPost, "/api/v1/strategies/rebuild", tt.requestBody)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestEventEndpoints(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))
	tenant := createTestTenant(t, handler, "t-events")
	rec := runTestCycle(t, handler, tenant.ID)

	w := doJSON(t, handler, http.MethodGet, "/api/v1/tenants/"+tenant.ID+"/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tenant events status = %d", w.Code)
	}
	var audit []*models.AIEvent
	decodeJSON(t, w, &audit)
	if len(audit) == 0 {
		t.Fatal("no audit events after a completed cycle")
	}

	w = doJSON(t, handler, http.MethodGet,
		"/api/v1/tenants/"+tenant.ID+"/events?cycle_id="+rec.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cycle events status = %d", w.Code)
	}
	var cycleEvents []*models.AIEvent
	decodeJSON(t, w, &cycleEvents)
	if len(cycleEvents) == 0 {
		t.Fatal("no events for the cycle")
	}
	for _, ev := range cycleEvents {
		if ev.CycleID != rec.ID {
			t.Errorf("event %s has cycle %s, want %s", ev.ID, ev.CycleID, rec.ID)
		}
	}

	// The ring fills asynchronously behind the bus goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = doJSON(t, handler, http.MethodGet, "/api/v1/events?tenant_id="+tenant.ID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("recent events status = %d", w.Code)
		}
		var page struct {
			Count int `json:"count"`
		}
		decodeJSON(t, w, &page)
		if page.Count > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ring buffer never saw the cycle's events")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w = doJSON(t, handler, http.MethodGet, "/api/v1/events/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("event stats status = %d", w.Code)
	}
}

func TestSystemStatusEndpoint(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))
	createTestTenant(t, handler, "t-sys")

	w := doJSON(t, handler, http.MethodGet, "/api/v1/system/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("system status = %d", w.Code)
	}
	var status struct {
		Status       string                 `json:"status"`
		TenantsTotal int                    `json:"tenants_total"`
		Holder       string                 `json:"scheduler_holder"`
		NATS         map[string]interface{} `json:"nats"`
	}
	decodeJSON(t, w, &status)
	if status.Status != "running" {
		t.Errorf("status = %q, want running", status.Status)
	}
	if status.TenantsTotal != 1 {
		t.Errorf("tenants_total = %d, want 1", status.TenantsTotal)
	}
	if status.Holder == "" {
		t.Error("scheduler_holder is empty")
	}
	if enabled, _ := status.NATS["enabled"].(bool); enabled {
		t.Error("nats reported enabled without configuration")
	}
}

func TestAuthEnforcement(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.Security.EnableAuth = true
	handler, _ := newTestServer(t, cfg)

	// Health stays open.
	if w := doJSON(t, handler, http.MethodGet, "/api/v1/health", nil); w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want open access", w.Code)
	}

	// Everything else needs credentials.
	if w := doJSON(t, handler, http.MethodGet, "/api/v1/tenants", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	token := loginAs(t, handler, "admin", "admin")

	if w := doAuthJSON(t, handler, http.MethodGet, "/api/v1/tenants", token, nil); w.Code != http.StatusOK {
		t.Fatalf("authenticated list status = %d, body %s", w.Code, w.Body.String())
	}
	if w := doAuthJSON(t, handler, http.MethodGet, "/api/v1/tenants", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestTenantScopedAccount(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.Security.EnableAuth = true
	handler, _ := newTestServer(t, cfg)

	admin := loginAs(t, handler, "admin", "admin")
	for _, id := range []string{"t-east", "t-west"} {
		w := doAuthJSON(t, handler, http.MethodPost, "/api/v1/tenants", admin, CreateTenantRequest{
			ID:    id,
			Name:  "Scoped " + id,
			Niche: "fitness",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("create %s status = %d, body %s", id, w.Code, w.Body.String())
		}
	}

	w := doAuthJSON(t, handler, http.MethodPost, "/api/v1/auth/users", admin, map[string]interface{}{
		"username":   "regional",
		"role":       "operator",
		"password":   "pw",
		"tenant_ids": []string{"t-east"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user status = %d, body %s", w.Code, w.Body.String())
	}

	regional := loginAs(t, handler, "regional", "pw")

	if w := doAuthJSON(t, handler, http.MethodGet, "/api/v1/tenants/t-east", regional, nil); w.Code != http.StatusOK {
		t.Errorf("in-scope tenant status = %d, body %s", w.Code, w.Body.String())
	}
	if w := doAuthJSON(t, handler, http.MethodGet, "/api/v1/tenants/t-west", regional, nil); w.Code != http.StatusForbidden {
		t.Errorf("out-of-scope tenant status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if w := doAuthJSON(t, handler, http.MethodPost, "/api/v1/tenants/t-west/cycle", regional, nil); w.Code != http.StatusForbidden {
		t.Errorf("out-of-scope cycle status = %d, want %d", w.Code, http.StatusForbidden)
	}

	// The list is filtered down to the account's scope.
	w = doAuthJSON(t, handler, http.MethodGet, "/api/v1/tenants", regional, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("scoped list status = %d", w.Code)
	}
	var visible []models.Tenant
	decodeJSON(t, w, &visible)
	if len(visible) != 1 || visible[0].ID != "t-east" {
		t.Errorf("scoped list = %v, want just t-east", visible)
	}

	// The unscoped admin still sees both.
	if w := doAuthJSON(t, handler, http.MethodGet, "/api/v1/tenants/t-west", admin, nil); w.Code != http.StatusOK {
		t.Errorf("admin tenant status = %d, body %s", w.Code, w.Body.String())
	}
	w = doAuthJSON(t, handler, http.MethodGet, "/api/v1/tenants", admin, nil)
	var all []models.Tenant
	decodeJSON(t, w, &all)
	if len(all) != 2 {
		t.Errorf("admin list = %d tenants, want 2", len(all))
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.Security.EnableAuth = true
	handler, _ := newTestServer(t, cfg)

	token := loginAs(t, handler, "admin", "admin")
	if w := doAuthJSON(t, handler, http.MethodGet, "/api/v1/tenants", token, nil); w.Code != http.StatusOK {
		t.Fatalf("pre-logout status = %d", w.Code)
	}

	if w := doAuthJSON(t, handler, http.MethodPost, "/api/v1/auth/logout", token, nil); w.Code != http.StatusOK {
		t.Fatalf("logout status = %d, body %s", w.Code, w.Body.String())
	}

	if w := doAuthJSON(t, handler, http.MethodGet, "/api/v1/tenants", token, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("post-logout status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// A fresh login opens a new session.
	fresh := loginAs(t, handler, "admin", "admin")
	if w := doAuthJSON(t, handler, http.MethodGet, "/api/v1/tenants", fresh, nil); w.Code != http.StatusOK {
		t.Errorf("fresh session status = %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _ := newTestServer(t, testServerConfig(t))
	createTestTenant(t, handler, "t-methods")

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/api/v1/tenants"},
		{http.MethodPost, "/api/v1/tenants/t-methods/kpis"},
		{http.MethodPut, "/api/v1/events"},
		{http.MethodGet, "/api/v1/strategies/rebuild"},
		{http.MethodPost, "/api/v1/system/status"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			w := doJSON(t, handler, tt.method, tt.path, nil)
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
			}
		})
	}
}

func TestEventFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stream?tenant_id=t-1&type=cycle.completed", nil)
	filter := eventFilter(req)

	cases := []struct {
		name  string
		event *eventbus.Event
		want  bool
	}{
		{"both match", &eventbus.Event{TenantID: "t-1", Type: eventbus.EventTypeCycleCompleted}, true},
		{"wrong tenant", &eventbus.Event{TenantID: "t-2", Type: eventbus.EventTypeCycleCompleted}, false},
		{"wrong type", &eventbus.Event{TenantID: "t-1", Type: eventbus.EventTypeCycleStarted}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := filter(tc.event); got != tc.want {
				t.Errorf("filter = %v, want %v", got, tc.want)
			}
		})
	}
}
