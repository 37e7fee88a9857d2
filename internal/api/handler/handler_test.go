package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskline/internal/api/dto"
	"taskline/internal/api/handler"
	"taskline/internal/auth"
	"taskline/internal/core/memory"
	"taskline/internal/domain"
	"taskline/internal/service"
	"taskline/internal/testutil"
	"taskline/internal/worker"
	"taskline/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	apiSecret    = "handler-test-secret"
	triggerToken = "trigger-test-secret"
)

type apiFixture struct {
	store  *memory.Store
	events *memory.Log
	router *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{
		store:  memory.NewStore(),
		events: memory.NewLog(),
	}
	kicks := testutil.NewFakeKickBus()
	cancels := testutil.NewFakeCancelSignal()
	registry := workflow.DefaultRegistry()

	svc := service.NewTaskService(f.store, f.events, kicks, cancels, registry)
	processor := worker.NewProcessor(f.store, f.events, cancels, kicks, registry, 3)
	sweeper := worker.NewSweeper(f.store, processor, kicks, 10, 5*time.Minute, time.Minute)
	h := handler.NewTaskHandler(svc, sweeper)

	f.router = gin.New()
	f.router.POST("/api/v1/sweep", auth.RequireTrigger(triggerToken), h.Sweep)
	api := f.router.Group("/api/v1", auth.RequireUser(apiSecret))
	api.POST("/jobs", h.StartJob)
	api.POST("/tasks/:id/retry", h.RetryTask)
	api.POST("/tasks/:id/cancel", h.CancelTask)
	api.POST("/tasks/:id/resume", h.ResumeTask)
	api.GET("/sessions/:id/tasks", h.SessionTasks)
	api.GET("/sessions/:id/events", h.SessionEvents)
	return f
}

func (f *apiFixture) do(t *testing.T, userID uuid.UUID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != uuid.Nil {
		token, err := auth.SignToken(apiSecret, userID, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) sweep(t *testing.T) worker.SweepResult {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sweep", nil)
	req.Header.Set("X-Trigger-Token", triggerToken)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var result worker.SweepResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func TestStartJobReturnsIdentifiers(t *testing.T) {
	f := newAPIFixture(t)
	userID := uuid.New()

	w := f.do(t, userID, http.MethodPost, "/api/v1/jobs", dto.StartJobRequest{
		Workflow: "chat",
		Input:    domain.State{"message": "hello"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp dto.StartJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.JobID)
	assert.Equal(t, resp.JobID, resp.TaskID)
	assert.NotEqual(t, uuid.Nil, resp.SessionID)

	task, err := f.store.FetchByID(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "chat.classify", task.TaskType)
}

func TestStartJobRejectsUnknownWorkflow(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, uuid.New(), http.MethodPost, "/api/v1/jobs", dto.StartJobRequest{Workflow: "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobsRequireAuth(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, uuid.Nil, http.MethodPost, "/api/v1/jobs", dto.StartJobRequest{Workflow: "chat"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSweepEndpointDrivesJobToCompletion(t *testing.T) {
	f := newAPIFixture(t)
	userID := uuid.New()

	w := f.do(t, userID, http.MethodPost, "/api/v1/jobs", dto.StartJobRequest{
		Workflow: "chat",
		Input:    domain.State{"message": "remember my name"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.StartJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	total := 0
	for i := 0; i < 10; i++ {
		result := f.sweep(t)
		total += result.Processed
		if result.Processed == 0 {
			break
		}
	}
	// classify -> branch agent -> synthesize
	assert.Equal(t, 3, total)

	ew := f.do(t, userID, http.MethodGet, "/api/v1/sessions/"+resp.SessionID.String()+"/events", nil)
	require.Equal(t, http.StatusOK, ew.Code)
	var events []domain.TaskEvent
	require.NoError(t, json.Unmarshal(ew.Body.Bytes(), &events))
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventJobCompleted, events[len(events)-1].EventType)
}

func TestRetryRejectsNonFailedTask(t *testing.T) {
	f := newAPIFixture(t)
	userID := uuid.New()

	w := f.do(t, userID, http.MethodPost, "/api/v1/jobs", dto.StartJobRequest{Workflow: "daily"})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.StartJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	rw := f.do(t, userID, http.MethodPost, "/api/v1/tasks/"+resp.TaskID.String()+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rw.Code)
}

func TestRetryRejectsForeignTask(t *testing.T) {
	f := newAPIFixture(t)
	owner := uuid.New()

	w := f.do(t, owner, http.MethodPost, "/api/v1/jobs", dto.StartJobRequest{Workflow: "daily"})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.StartJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	rw := f.do(t, uuid.New(), http.MethodPost, "/api/v1/tasks/"+resp.TaskID.String()+"/retry", nil)
	assert.Equal(t, http.StatusForbidden, rw.Code)
}

func TestCancelAccepted(t *testing.T) {
	f := newAPIFixture(t)
	userID := uuid.New()

	w := f.do(t, userID, http.MethodPost, "/api/v1/jobs", dto.StartJobRequest{Workflow: "research"})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.StartJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	cw := f.do(t, userID, http.MethodPost, "/api/v1/tasks/"+resp.TaskID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, cw.Code)
}

func TestPathRejectsMalformedID(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, uuid.New(), http.MethodPost, "/api/v1/tasks/not-a-uuid/retry", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetryNotFound(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, uuid.New(), http.MethodPost, "/api/v1/tasks/"+uuid.NewString()+"/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
