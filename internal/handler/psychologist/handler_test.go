package psychologist

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/handler"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	apperrors "github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockSchedules struct {
	getResult     *model.Schedule
	getErr        error
	replaceResult *model.Schedule
	replaceErr    error
	gotReplace    model.WeeklyAvailability
}

func (m *mockSchedules) Get(_ context.Context, _ uuid.UUID) (*model.Schedule, error) {
	return m.getResult, m.getErr
}
func (m *mockSchedules) Replace(_ context.Context, _ model.Principal, _ uuid.UUID, a model.WeeklyAvailability) (*model.Schedule, error) {
	m.gotReplace = a
	return m.replaceResult, m.replaceErr
}

type mockAvailability struct {
	result  []model.DaySlots
	err     error
	gotDays int
}

func (m *mockAvailability) Slots(_ context.Context, _ uuid.UUID, days int) ([]model.DaySlots, error) {
	m.gotDays = days
	return m.result, m.err
}

type mockOccupancy struct {
	result   []model.ExistingAppointment
	err      error
	gotRange [2]string
}

func (m *mockOccupancy) Occupied(_ context.Context, _ uuid.UUID, from, to string) ([]model.ExistingAppointment, error) {
	m.gotRange = [2]string{from, to}
	return m.result, m.err
}

func setupRouter(s *mockSchedules, a *mockAvailability, o *mockOccupancy, p *model.Principal) *gin.Engine {
	r := gin.New()
	api := r.Group("/api/v1")
	protected := api.Group("")
	if p != nil {
		protected.Use(func(c *gin.Context) {
			handler.SetPrincipal(c, *p)
			c.Next()
		})
	}
	allowAll := func(...model.Role) gin.HandlerFunc { return func(c *gin.Context) { c.Next() } }
	NewHandler(s, a, o).RegisterRoutes(api, protected, allowAll)
	return r
}

func TestGetAvailability(t *testing.T) {
	id := uuid.New()
	avail := &mockAvailability{result: []model.DaySlots{{
		Date:  "2025-03-03",
		Slots: []model.BookableSlot{{Date: "2025-03-03", StartTime: "09:00", EndTime: "10:00"}},
	}}}
	r := setupRouter(&mockSchedules{}, avail, &mockOccupancy{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/psychologists/"+id.String()+"/availability?days=7", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, avail.gotDays)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Days []model.DaySlots `json:"days"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, avail.result, resp.Data.Days)

	for _, q := range []string{"?days=0", "?days=abc"} {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/psychologists/"+id.String()+"/availability"+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestGetSchedule(t *testing.T) {
	id := uuid.New()
	sched := &mockSchedules{getResult: &model.Schedule{PsychologistID: id, Availability: model.WeeklyAvailability{}}}
	r := setupRouter(sched, &mockAvailability{}, &mockOccupancy{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/psychologists/"+id.String()+"/schedule", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/psychologists/not-a-uuid/schedule", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReplaceSchedule(t *testing.T) {
	id := uuid.New()
	owner := &model.Principal{UserID: id, Role: model.RolePsychologist}
	payload := []byte(`{"availability":{"monday":{"enabled":true,"timeBlocks":[{"startTime":"09:00","endTime":"12:00"}]}}}`)

	t.Run("saved", func(t *testing.T) {
		sched := &mockSchedules{replaceResult: &model.Schedule{PsychologistID: id}}
		r := setupRouter(sched, &mockAvailability{}, &mockOccupancy{}, owner)

		req := httptest.NewRequest(http.MethodPut, "/api/v1/psychologists/"+id.String()+"/schedule", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, sched.gotReplace, "monday")
		assert.Equal(t, "12:00", sched.gotReplace["monday"].TimeBlocks[0].EndTime)
	})

	t.Run("forbidden", func(t *testing.T) {
		sched := &mockSchedules{replaceErr: apperrors.Forbidden("only the psychologist or an admin can change this schedule")}
		r := setupRouter(sched, &mockAvailability{}, &mockOccupancy{}, owner)

		req := httptest.NewRequest(http.MethodPut, "/api/v1/psychologists/"+id.String()+"/schedule", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing availability", func(t *testing.T) {
		r := setupRouter(&mockSchedules{}, &mockAvailability{}, &mockOccupancy{}, owner)
		req := httptest.NewRequest(http.MethodPut, "/api/v1/psychologists/"+id.String()+"/schedule", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListPsychologistAppointments(t *testing.T) {
	id := uuid.New()
	occ := &mockOccupancy{result: []model.ExistingAppointment{{Date: "2025-03-03", StartTime: "09:00:00", EndTime: "10:00:00", Status: "pending"}}}
	r := setupRouter(&mockSchedules{}, &mockAvailability{}, occ, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/psychologists/"+id.String()+"/appointments?from=2025-03-01&to=2025-03-14", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [2]string{"2025-03-01", "2025-03-14"}, occ.gotRange)

	var resp struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.ElementsMatch(t, []string{"date", "start_time", "end_time", "status"}, keys(resp.Data[0]))
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
