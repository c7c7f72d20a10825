package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/handler"
	appointmenthandler "github.com/OwensLopez211/PsicologosAPv1-sub002/internal/handler/appointment"
	psychologisthandler "github.com/OwensLopez211/PsicologosAPv1-sub002/internal/handler/psychologist"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/middleware"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository/memory"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/service/appointment"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/service/availability"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/service/schedule"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/auth"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/logger"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	engine *gin.Engine
	jwt    auth.JWTService
	store  *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)
	store := memory.NewStore()
	log := logger.Nop()

	slots := availability.NewService(store.Schedules(), store.Appointments(), availability.Config{
		Location:      time.UTC,
		LookaheadDays: 14,
	}, m)
	appointments := appointment.NewService(store.Appointments(), slots, log, m)
	schedules := schedule.NewService(store.Schedules(), log)

	jwtService := auth.NewJWTService(auth.Config{Secret: "router-test-secret", Issuer: "test"})

	r := NewRouter(
		middleware.NewAuthMiddleware(jwtService),
		handler.NewHandler(reg, nil),
		psychologisthandler.NewHandler(schedules, slots, appointments),
		appointmenthandler.NewHandler(appointments),
		RouterConfig{
			MetricsPrefix:  "test_http",
			Registerer:     reg,
			Logger:         zerolog.Nop(),
			RequestTimeout: 5 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
	)
	r.Setup()

	return &testServer{engine: r.Engine(), jwt: jwtService, store: store}
}

func (s *testServer) token(t *testing.T, role model.Role, id uuid.UUID) string {
	t.Helper()
	token, err := s.jwt.GenerateAccessToken(model.Principal{UserID: id, Email: "user@example.com", Role: role})
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.0", w.Header().Get("X-API-Version"))
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID))

	w = s.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/appointments", "", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/psychologists/"+uuid.NewString()+"/schedule", "", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPatientCannotPublishSchedule(t *testing.T) {
	s := newTestServer(t)
	patient := s.token(t, model.RolePatient, uuid.New())

	w := s.do(t, http.MethodPut, "/api/v1/psychologists/"+uuid.NewString()+"/schedule", patient, map[string]interface{}{
		"availability": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)
	psychologistID := uuid.New()
	psychologist := s.token(t, model.RolePsychologist, psychologistID)
	patient := s.token(t, model.RolePatient, uuid.New())

	allDay := map[string]interface{}{
		"enabled":    true,
		"timeBlocks": []map[string]string{{"startTime": "08:00", "endTime": "20:00"}},
	}
	week := map[string]interface{}{}
	for _, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
		week[day] = allDay
	}

	base := "/api/v1/psychologists/" + psychologistID.String()
	w := s.do(t, http.MethodPut, base+"/schedule", psychologist, map[string]interface{}{"availability": week})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, base+"/availability?days=3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var availabilityResp struct {
		Data struct {
			Days []model.DaySlots `json:"days"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &availabilityResp))
	require.NotEmpty(t, availabilityResp.Data.Days)
	slot := availabilityResp.Data.Days[len(availabilityResp.Data.Days)-1].Slots[0]

	booking := map[string]string{
		"psychologist": psychologistID.String(),
		"date":         slot.Date,
		"start_time":   slot.StartTime,
		"end_time":     slot.EndTime,
	}
	w = s.do(t, http.MethodPost, "/api/v1/appointments", patient, booking)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/appointments", patient, booking)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, base+"/availability?days=3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	availabilityResp.Data.Days = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &availabilityResp))
	for _, day := range availabilityResp.Data.Days {
		for _, got := range day.Slots {
			assert.False(t, got.Date == slot.Date && got.StartTime == slot.StartTime, "booked slot still offered")
		}
	}

	w = s.do(t, http.MethodGet, base+"/appointments", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), slot.Date)

	events := s.store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventAppointmentCreated, events[0].EventType)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/appointments", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
