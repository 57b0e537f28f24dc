package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coverly/courier/internal/db"
	"github.com/coverly/courier/internal/dispatch"
)

// MockRepository is a fake delivery log store for testing
type MockRepository struct {
	logs     map[uuid.UUID]*db.NotificationLog
	tracking map[uuid.UUID][]*db.TrackingEntry

	retryCalled bool
	shouldFail  bool
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		logs:     make(map[uuid.UUID]*db.NotificationLog),
		tracking: make(map[uuid.UUID][]*db.TrackingEntry),
	}
}

func (m *MockRepository) add(status string) *db.NotificationLog {
	log := &db.NotificationLog{
		ID:          uuid.New(),
		SubjectType: db.SubjectPolicy,
		SubjectID:   uuid.New(),
		TypeCode:    "policy_created",
		Channel:     db.ChannelEmail,
		Recipient:   "jane@example.com",
		Status:      status,
	}
	m.logs[log.ID] = log
	return log
}

func (m *MockRepository) GetLog(ctx context.Context, id uuid.UUID) (*db.NotificationLog, error) {
	if m.shouldFail {
		return nil, fmt.Errorf("database error")
	}
	log, ok := m.logs[id]
	if !ok {
		return nil, db.ErrLogNotFound
	}
	return log, nil
}

func (m *MockRepository) ListBySubject(ctx context.Context, subjectType string, subjectID uuid.UUID, limit, offset int) ([]*db.NotificationLog, error) {
	if m.shouldFail {
		return nil, fmt.Errorf("database error")
	}
	var out []*db.NotificationLog
	for _, log := range m.logs {
		if log.SubjectType == subjectType && log.SubjectID == subjectID {
			out = append(out, log)
		}
	}
	return out, nil
}

func (m *MockRepository) ListTracking(ctx context.Context, logID uuid.UUID) ([]*db.TrackingEntry, error) {
	if m.shouldFail {
		return nil, fmt.Errorf("database error")
	}
	return m.tracking[logID], nil
}

func (m *MockRepository) CountByStatusChannel(ctx context.Context) ([]*db.StatusCounts, error) {
	if m.shouldFail {
		return nil, fmt.Errorf("database error")
	}
	return []*db.StatusCounts{
		{Status: db.StatusSent, Channel: db.ChannelEmail, Count: 3},
		{Status: db.StatusFailed, Channel: db.ChannelText, Count: 1},
	}, nil
}

func (m *MockRepository) RetryNow(ctx context.Context, id uuid.UUID) (*db.NotificationLog, error) {
	m.retryCalled = true
	log, ok := m.logs[id]
	if !ok {
		return nil, db.ErrLogNotFound
	}
	if log.Status != db.StatusFailed {
		return nil, db.ErrInvalidTransition
	}
	log.Status = db.StatusPending
	return log, nil
}

// MockSender is a fake dispatcher
type MockSender struct {
	sendCalled   bool
	resendCalled bool
	outcome      dispatch.Outcome
}

func (m *MockSender) Send(ctx context.Context, req dispatch.SendRequest) dispatch.Outcome {
	m.sendCalled = true
	return m.outcome
}

func (m *MockSender) Resend(ctx context.Context, log *db.NotificationLog) dispatch.Outcome {
	m.resendCalled = true
	return m.outcome
}

// MockEnqueuer is a fake queue producer
type MockEnqueuer struct {
	enqueued []dispatch.SendRequest
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, req dispatch.SendRequest) (string, error) {
	m.enqueued = append(m.enqueued, req)
	return "sqs-msg-1", nil
}

func newTestRouter(repo LogRepository, sender Sender, producer Enqueuer) http.Handler {
	r := chi.NewRouter()
	NewHandler(zap.NewNop(), repo, sender, nil, producer).RegisterRoutes(r)
	return r
}

func sendBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(dispatch.SendRequest{
		SubjectType: db.SubjectPolicy,
		SubjectID:   uuid.New(),
		TypeCode:    "policy_created",
		Channel:     db.ChannelEmail,
		Recipient:   "jane@example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewBuffer(body)
}

func TestCreateSendDispatchesInline(t *testing.T) {
	repo := NewMockRepository()
	sender := &MockSender{outcome: dispatch.Outcome{Success: true, Reason: dispatch.ReasonSent, LogID: uuid.New()}}
	router := newTestRouter(repo, sender, nil)

	req := httptest.NewRequest("POST", "/v1/sends", sendBody(t))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !sender.sendCalled {
		t.Fatal("dispatcher was not invoked")
	}

	var resp SendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "sent" || resp.LogID == "" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCreateSendEnqueuesWhenProducerConfigured(t *testing.T) {
	repo := NewMockRepository()
	sender := &MockSender{}
	producer := &MockEnqueuer{}
	router := newTestRouter(repo, sender, producer)

	req := httptest.NewRequest("POST", "/v1/sends", sendBody(t))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(producer.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(producer.enqueued))
	}
	if sender.sendCalled {
		t.Fatal("inline dispatch should be skipped when queueing")
	}
}

func TestCreateSendRejectsInvalidChannel(t *testing.T) {
	router := newTestRouter(NewMockRepository(), &MockSender{}, nil)

	body := bytes.NewBufferString(`{"subject_type":"policy","type_code":"x","channel":"fax"}`)
	req := httptest.NewRequest("POST", "/v1/sends", body)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetLog(t *testing.T) {
	repo := NewMockRepository()
	log := repo.add(db.StatusSent)
	router := newTestRouter(repo, &MockSender{}, nil)

	req := httptest.NewRequest("GET", "/v1/logs/"+log.ID.String(), nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got db.NotificationLog
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != log.ID {
		t.Fatalf("id = %s, want %s", got.ID, log.ID)
	}
}

func TestGetLogNotFound(t *testing.T) {
	router := newTestRouter(NewMockRepository(), &MockSender{}, nil)

	req := httptest.NewRequest("GET", "/v1/logs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListLogsBySubject(t *testing.T) {
	repo := NewMockRepository()
	log := repo.add(db.StatusSent)
	router := newTestRouter(repo, &MockSender{}, nil)

	url := "/v1/logs?subject_type=policy&subject_id=" + log.SubjectID.String()
	req := httptest.NewRequest("GET", url, nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
}

func TestRetryFailedLog(t *testing.T) {
	repo := NewMockRepository()
	log := repo.add(db.StatusFailed)
	sender := &MockSender{outcome: dispatch.Outcome{Success: true, Reason: dispatch.ReasonSent, LogID: log.ID}}
	router := newTestRouter(repo, sender, nil)

	req := httptest.NewRequest("POST", "/v1/logs/"+log.ID.String()+"/retry", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !repo.retryCalled {
		t.Fatal("RetryNow was not invoked")
	}
	if !sender.resendCalled {
		t.Fatal("Resend was not invoked")
	}
}

func TestRetryNonFailedLogConflicts(t *testing.T) {
	repo := NewMockRepository()
	log := repo.add(db.StatusDelivered)
	sender := &MockSender{}
	router := newTestRouter(repo, sender, nil)

	req := httptest.NewRequest("POST", "/v1/logs/"+log.ID.String()+"/retry", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if sender.resendCalled {
		t.Fatal("Resend invoked on a non-failed log")
	}
}

func TestGetStats(t *testing.T) {
	router := newTestRouter(NewMockRepository(), &MockSender{}, nil)

	req := httptest.NewRequest("GET", "/v1/stats", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Data []db.StatusCounts `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("stats rows = %d, want 2", len(resp.Data))
	}
}
