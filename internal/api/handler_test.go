package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/mr1hm/campus-alert-relay/internal/alerts"
	"github.com/mr1hm/campus-alert-relay/internal/enrichment"
	"github.com/mr1hm/campus-alert-relay/internal/fanout"
	"github.com/mr1hm/campus-alert-relay/internal/metrics"
	"github.com/mr1hm/campus-alert-relay/internal/models"
	"github.com/mr1hm/campus-alert-relay/internal/profiles"
	"github.com/mr1hm/campus-alert-relay/internal/repository"
	"github.com/mr1hm/campus-alert-relay/internal/users"
)

const testAPIKey = "admin-secret-key"

// brokenRepo implements repository.AlertRepository and fails every call.
type brokenRepo struct{}

var errBroken = errors.New("disk I/O error")

func (brokenRepo) Add(ctx context.Context, a *models.Alert) error { return errBroken }
func (brokenRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	return nil, errBroken
}
func (brokenRepo) ListAlerts(ctx context.Context, opts repository.Filter) ([]models.Alert, error) {
	return nil, errBroken
}
func (brokenRepo) Count(ctx context.Context, status *string) (int, error) { return 0, errBroken }
func (brokenRepo) RecentActive(ctx context.Context, n int) ([]models.Alert, error) {
	return nil, errBroken
}
func (brokenRepo) UpdateResponse(ctx context.Context, id, status string, at time.Time, by string) error {
	return errBroken
}

type testServer struct {
	router      *gin.Engine
	db          *repository.SQLiteDB
	broadcaster *fanout.Broadcaster
	mgr         *alerts.Manager
	users       *users.Service
}

func setupTestServer(t *testing.T, alertRepo repository.AlertRepository, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	b := fanout.NewBroadcaster(16)
	t.Cleanup(func() {
		b.Close()
		db.Close()
	})
	if alertRepo == nil {
		alertRepo = db
	}

	m := metrics.New()
	enr := enrichment.New(db, enrichment.WithMetrics(m))
	mgr := alerts.NewManager(alertRepo, enr, b, m, alerts.Config{})
	userSvc, err := users.NewService(db, users.Config{
		Admin:      users.AdminAccount{Username: "rhs_clinic", Password: "clinic2024", Name: "RHS Clinic"},
		Secret:     []byte("test-secret"),
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}

	if opts.AdminAPIKey == "" {
		opts.AdminAPIKey = testAPIKey
	}
	opts.Metrics = m

	router := gin.New()
	NewHandler(mgr, userSvc, profiles.NewService(db, enr), opts).RegisterRoutes(router)

	return &testServer{router: router, db: db, broadcaster: b, mgr: mgr, users: userSvc}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var r *bytes.Reader
	switch v := body.(type) {
	case nil:
		r = bytes.NewReader(nil)
	case string:
		r = bytes.NewReader([]byte(v))
	default:
		data, _ := json.Marshal(v)
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
	}
	return resp
}

type listResponse struct {
	Success      bool           `json:"success"`
	Alerts       []models.Alert `json:"alerts"`
	Total        int            `json:"total"`
	ActiveAlerts int            `json:"activeAlerts"`
}

func (s *testServer) list(t *testing.T, query string) listResponse {
	t.Helper()
	w := s.do("GET", "/api/alerts"+query, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp listResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return resp
}

func alertBody(lat, lng float64) map[string]any {
	return map[string]any{
		"location":    map[string]any{"latitude": lat, "longitude": lng, "accuracy": 12.5},
		"studentName": "Jordan",
	}
}

func TestCreateAlert(t *testing.T) {
	s := setupTestServer(t, nil, Options{})

	w := s.do("POST", "/api/emergency-alert", alertBody(34.05, -118.24), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := decode(t, w)
	if resp["success"] != true {
		t.Errorf("expected success true, got %v", resp["success"])
	}
	if resp["message"] != "Emergency alert sent successfully" {
		t.Errorf("unexpected message %v", resp["message"])
	}
	if id, _ := resp["alertId"].(string); id == "" {
		t.Error("expected alertId")
	}
	if ts, _ := resp["timestamp"].(string); ts == "" {
		t.Error("expected timestamp")
	}

	listed := s.list(t, "")
	if len(listed.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(listed.Alerts))
	}
	a := listed.Alerts[0]
	if a.ID != resp["alertId"] || a.StudentInfo.Name != "Jordan" || a.Location.Accuracy != 12.5 {
		t.Errorf("unexpected stored alert %+v", a)
	}
	if a.Status != models.StatusActive || a.AlertType != models.DefaultAlertType {
		t.Errorf("unexpected defaults: status %s type %s", a.Status, a.AlertType)
	}
}

func TestCreateAlert_AliasRoute(t *testing.T) {
	s := setupTestServer(t, nil, Options{})

	w := s.do("POST", "/api/alerts/create", alertBody(1, 2), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", w.Code)
	}
	if got := s.list(t, "").Total; got != 1 {
		t.Errorf("expected 1 alert, got %d", got)
	}
}

func TestCreateAlert_MissingLocation(t *testing.T) {
	s := setupTestServer(t, nil, Options{})

	bodies := map[string]any{
		"no body":          nil,
		"no location":      map[string]any{"studentName": "Jordan"},
		"missing latitude": map[string]any{"location": map[string]any{"longitude": 10}},
		"string latitude":  map[string]any{"location": map[string]any{"latitude": "x", "longitude": 2}},
		"location string":  map[string]any{"location": "library"},
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			w := s.do("POST", "/api/emergency-alert", body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
			resp := decode(t, w)
			if resp["success"] != false || resp["error"] != "Location data is required" {
				t.Errorf("unexpected body %v", resp)
			}
		})
	}

	if got := s.list(t, "").Total; got != 0 {
		t.Errorf("expected empty store, got %d", got)
	}
}

func TestCreateAlert_MalformedBody(t *testing.T) {
	s := setupTestServer(t, nil, Options{})

	w := s.do("POST", "/api/emergency-alert", `{"location":`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestCreateAlert_StoreFailure(t *testing.T) {
	s := setupTestServer(t, brokenRepo{}, Options{})

	w := s.do("POST", "/api/emergency-alert", alertBody(1, 2), nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
	resp := decode(t, w)
	if resp["success"] != false || !strings.Contains(resp["error"].(string), "disk I/O error") {
		t.Errorf("unexpected body %v", resp)
	}
}

func TestCreateAlert_AttachesMedicalProfile(t *testing.T) {
	s := setupTestServer(t, nil, Options{})

	w := s.do("POST", "/api/medical-profile", map[string]any{
		"userId":    "student-7",
		"bloodType": "AB-",
		"allergies": []string{"penicillin"},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	body := alertBody(1, 2)
	body["userId"] = "student-7"
	s.do("POST", "/api/emergency-alert", body, nil)

	a := s.list(t, "").Alerts[0]
	if a.StudentInfo.SubjectID == nil || *a.StudentInfo.SubjectID != "student-7" {
		t.Errorf("expected userId student-7, got %v", a.StudentInfo.SubjectID)
	}
	mp := a.StudentInfo.MedicalProfile
	if mp == nil || mp.BloodType != "AB-" || len(mp.Allergies) != 1 {
		t.Errorf("expected medical snapshot, got %+v", mp)
	}
}

func TestListAlerts_StatusAndLimit(t *testing.T) {
	s := setupTestServer(t, nil, Options{})

	var ids []string
	for i := 0; i < 5; i++ {
		resp := decode(t, s.do("POST", "/api/emergency-alert", alertBody(float64(i), 0), nil))
		ids = append(ids, resp["alertId"].(string))
	}
	s.do("PUT", "/api/alerts/"+ids[0]+"/respond", nil, nil)
	s.do("PUT", "/api/alerts/"+ids[2]+"/respond", nil, nil)

	resp := s.list(t, "?status=active&limit=1")
	if len(resp.Alerts) != 1 || resp.Alerts[0].ID != ids[4] {
		t.Errorf("expected newest active alert, got %+v", resp.Alerts)
	}
	if resp.Total != 3 || resp.ActiveAlerts != 3 {
		t.Errorf("expected total 3 active 3, got %d/%d", resp.Total, resp.ActiveAlerts)
	}

	resp = s.list(t, "?limit=abc")
	if len(resp.Alerts) != 5 {
		t.Errorf("invalid limit should fall back to default, got %d alerts", len(resp.Alerts))
	}
}

func TestListAlerts_LimitClampedToMax(t *testing.T) {
	s := setupTestServer(t, nil, Options{MaxListLimit: 2})

	for i := 0; i < 4; i++ {
		s.do("POST", "/api/emergency-alert", alertBody(1, 1), nil)
	}

	resp := s.list(t, "?limit=100")
	if len(resp.Alerts) != 2 || resp.Total != 4 {
		t.Errorf("expected 2 of 4 alerts, got %d of %d", len(resp.Alerts), resp.Total)
	}
}

func TestRespond(t *testing.T) {
	s := setupTestServer(t, nil, Options{})
	created := decode(t, s.do("POST", "/api/emergency-alert", alertBody(1, 2), nil))
	id := created["alertId"].(string)

	sub := s.broadcaster.Subscribe("observer")
	defer s.broadcaster.Unsubscribe(sub.ID)

	w := s.do("PUT", "/api/alerts/"+id+"/respond", map[string]any{"status": "cleared", "respondedBy": "Nurse X"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Success bool         `json:"success"`
		Message string       `json:"message"`
		Alert   models.Alert `json:"alert"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success || resp.Message != "Alert response recorded" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Alert.Status != "cleared" || *resp.Alert.RespondedBy != "Nurse X" || resp.Alert.ResponseTime == nil {
		t.Errorf("response fields not set: %+v", resp.Alert)
	}

	select {
	case e := <-sub.C:
		if e.Kind != fanout.EventAlertResponse {
			t.Errorf("expected alert-response event, got %s", e.Kind)
		}
	default:
		t.Error("expected a broadcast")
	}
}

func TestRespond_NotFound(t *testing.T) {
	s := setupTestServer(t, nil, Options{})

	w := s.do("PUT", "/api/alerts/missing/respond", map[string]any{"status": "cleared"}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	resp := decode(t, w)
	if resp["success"] != false || resp["message"] != "Alert not found" {
		t.Errorf("unexpected body %v", resp)
	}
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t, nil, Options{})
	created := decode(t, s.do("POST", "/api/emergency-alert", alertBody(1, 2), nil))
	s.do("POST", "/api/emergency-alert", alertBody(3, 4), nil)
	s.do("PUT", "/api/alerts/"+created["alertId"].(string)+"/respond", nil, nil)

	sub, _, err := s.mgr.Connect(context.Background(), "Clinic")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.mgr.Disconnect(sub)

	w := s.do("GET", "/api/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	resp := decode(t, w)
	if resp["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", resp["status"])
	}
	if resp["totalAlerts"] != float64(2) || resp["activeAlerts"] != float64(1) || resp["connectedAdmins"] != float64(1) {
		t.Errorf("unexpected counts %v", resp)
	}
}

func TestInfo(t *testing.T) {
	s := setupTestServer(t, nil, Options{})

	resp := decode(t, s.do("GET", "/api", nil, nil))
	if resp["status"] != "active" || resp["connectedAdmins"] != float64(0) {
		t.Errorf("unexpected body %v", resp)
	}
}

func TestAlertsGeoJSON(t *testing.T) {
	s := setupTestServer(t, nil, Options{})
	s.do("POST", "/api/emergency-alert", alertBody(35.0, 139.0), nil)

	w := s.do("GET", "/api/alerts.geojson", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("expected content-type application/geo+json, got %s", ct)
	}

	var fc FeatureCollection
	if err := json.Unmarshal(w.Body.Bytes(), &fc); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 1 {
		t.Fatalf("unexpected collection %+v", fc)
	}
	coords := fc.Features[0].Geometry.Coordinates
	if coords[0] != 139.0 || coords[1] != 35.0 {
		t.Errorf("expected [lng, lat], got %v", coords)
	}
}

func TestMedicalProfile_GetNotFound(t *testing.T) {
	s := setupTestServer(t, nil, Options{})

	w := s.do("GET", "/api/medical-profile/nobody", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	if resp := decode(t, w); resp["message"] != "Medical profile not found" {
		t.Errorf("unexpected body %v", resp)
	}
}

func TestMedicalProfile_UpsertAndGet(t *testing.T) {
	s := setupTestServer(t, nil, Options{})

	s.do("POST", "/api/medical-profile", map[string]any{"userId": "s1", "bloodType": "O+"}, nil)
	s.do("POST", "/api/medical-profile", map[string]any{"userId": "s1", "specialInstructions": "Carries inhaler"}, nil)

	w := s.do("GET", "/api/medical-profile/s1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		Profile models.MedicalProfile `json:"profile"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Profile.BloodType != "O+" || resp.Profile.SpecialInstructions != "Carries inhaler" {
		t.Errorf("expected merged profile, got %+v", resp.Profile)
	}

	w = s.do("POST", "/api/medical-profile", map[string]any{"userId": "s1", "bloodType": "Q"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for invalid blood type, got %d", w.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := setupTestServer(t, nil, Options{})
	creds := map[string]any{"username": "sam", "password": "pw123", "email": "sam@school.edu"}

	if w := s.do("POST", "/api/register", creds, nil); w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", w.Code)
	}
	w := s.do("POST", "/api/register", creds, nil)
	if w.Code != http.StatusBadRequest || decode(t, w)["message"] != "Username already exists" {
		t.Errorf("expected duplicate rejection, got %d %s", w.Code, w.Body.String())
	}

	w = s.do("POST", "/api/login", map[string]any{"username": "sam", "password": "pw123"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	resp := decode(t, w)
	if tok, _ := resp["token"].(string); tok == "" {
		t.Error("expected token")
	}
	user := resp["user"].(map[string]any)
	if user["username"] != "sam" || user["role"] != models.RoleStudent {
		t.Errorf("unexpected user %v", user)
	}

	w = s.do("POST", "/api/login", map[string]any{"username": "sam", "password": "wrong"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	s := setupTestServer(t, nil, Options{})
	s.do("POST", "/api/register", map[string]any{"username": "sam", "password": "pw"}, nil)

	if w := s.do("GET", "/api/admin/users", nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 without credentials, got %d", w.Code)
	}
	if w := s.do("GET", "/api/admin/users", nil, map[string]string{"X-API-Key": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 with wrong key, got %d", w.Code)
	}

	w := s.do("GET", "/api/admin/users", nil, map[string]string{"X-API-Key": testAPIKey})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 with key, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("user listing leaks password data: %s", w.Body.String())
	}

	// A student token is not enough.
	student := decode(t, s.do("POST", "/api/login", map[string]any{"username": "sam", "password": "pw"}, nil))
	w = s.do("GET", "/api/admin/medical-profiles", nil, map[string]string{"Authorization": "Bearer " + student["token"].(string)})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 with student token, got %d", w.Code)
	}

	admin := decode(t, s.do("POST", "/api/admin/login", map[string]any{"username": "rhs_clinic", "password": "clinic2024"}, nil))
	if admin["admin"].(map[string]any)["role"] != models.RoleAdmin {
		t.Fatalf("unexpected admin login response %v", admin)
	}
	w = s.do("GET", "/api/admin/medical-profiles", nil, map[string]string{"Authorization": "Bearer " + admin["token"].(string)})
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 with admin token, got %d", w.Code)
	}
}

func TestAdminLogin_InvalidCredentials(t *testing.T) {
	s := setupTestServer(t, nil, Options{})

	w := s.do("POST", "/api/admin/login", map[string]any{"username": "rhs_clinic", "password": "guess"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t, nil, Options{})
	s.do("POST", "/api/emergency-alert", alertBody(1, 2), nil)

	w := s.do("GET", "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "alerts_created_total 1") {
		t.Errorf("expected alerts_created_total 1 in metrics output")
	}
}

func TestDashboardRedirect(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>dashboard</html>"), 0o644); err != nil {
		t.Fatalf("failed to write index: %v", err)
	}
	s := setupTestServer(t, nil, Options{DashboardDir: dir})

	w := s.do("GET", "/", nil, nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/admin/" {
		t.Errorf("expected redirect to /admin/, got %d %s", w.Code, w.Header().Get("Location"))
	}

	w = s.do("GET", "/admin/", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "dashboard") {
		t.Errorf("expected dashboard page, got %d", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(1))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	send := func(ip string) int {
		req := httptest.NewRequest("GET", "/ping", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("10.0.0.1"); code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", code)
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", code)
	}
	if code := send("10.0.0.2"); code != http.StatusOK {
		t.Errorf("other clients must have their own budget, got %d", code)
	}
}
