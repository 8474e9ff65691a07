package playback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/lectern/lectern/internal/auth"
)

var progressColumns = []string{"watched_seconds", "completed", "completed_at"}

type fakeCompletionSink struct {
	calls []string
}

func (s *fakeCompletionSink) LectureCompleted(_ context.Context, studentID, lectureID, courseID string) {
	s.calls = append(s.calls, studentID+"/"+lectureID+"/"+courseID)
}

func checkpointRequestWithBody(viewerID, lectureID, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/lectures/"+lectureID+"/checkpoint", strings.NewReader(body))
	return req.WithContext(auth.ContextWithUserID(req.Context(), viewerID))
}

func serveCheckpoint(handler *Handler, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/api/lectures/{id}/checkpoint", handler.Checkpoint)
	r.Post("/api/lectures/{id}/complete", handler.Complete)
	r.Get("/api/lectures/{id}/progress", handler.Progress)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func expectNoProgressRow(mock pgxmock.PgxPoolIface, viewerID, lectureID string) {
	mock.ExpectQuery(`SELECT watched_seconds, completed FROM lecture_progress`).
		WithArgs(viewerID, lectureID).
		WillReturnError(pgx.ErrNoRows)
}

func expectProgressRow(mock pgxmock.PgxPoolIface, viewerID, lectureID string, watched int, completed bool) {
	mock.ExpectQuery(`SELECT watched_seconds, completed FROM lecture_progress`).
		WithArgs(viewerID, lectureID).
		WillReturnRows(pgxmock.NewRows([]string{"watched_seconds", "completed"}).AddRow(watched, completed))
}

func TestCheckpoint_FirstPositionStored(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	expectLectureRow(mock, "lec-1", "course-1", 120, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	expectNoProgressRow(mock, "viewer-1", "lec-1")
	mock.ExpectQuery(`INSERT INTO lecture_progress`).
		WithArgs("viewer-1", "lec-1", 50, 120).
		WillReturnRows(pgxmock.NewRows(progressColumns).AddRow(50, false, (*int64)(nil)))

	rec := serveCheckpoint(handler, checkpointRequestWithBody("viewer-1", "lec-1", `{"positionSeconds":50}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp progressResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WatchedSeconds != 50 || resp.Completed {
		t.Errorf("unexpected progress %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCheckpoint_EarlierPositionKeepsHighWaterMark(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	expectLectureRow(mock, "lec-1", "course-1", 120, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	expectProgressRow(mock, "viewer-1", "lec-1", 50, false)
	// GREATEST in the upsert absorbs the stale 40 and returns 50
	mock.ExpectQuery(`INSERT INTO lecture_progress`).
		WithArgs("viewer-1", "lec-1", 40, 120).
		WillReturnRows(pgxmock.NewRows(progressColumns).AddRow(50, false, (*int64)(nil)))

	rec := serveCheckpoint(handler, checkpointRequestWithBody("viewer-1", "lec-1", `{"positionSeconds":40}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp progressResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WatchedSeconds != 50 {
		t.Errorf("expected high-water mark 50, got %d", resp.WatchedSeconds)
	}
}

func TestCheckpoint_PositionPastDurationCompletesOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)
	sink := &fakeCompletionSink{}
	handler.SetCompletionSink(sink)

	completedAt := int64(1767225600)
	expectLectureRow(mock, "lec-1", "course-1", 120, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	expectProgressRow(mock, "viewer-1", "lec-1", 50, false)
	// position 130 past the 120s duration derives completion
	mock.ExpectQuery(`INSERT INTO lecture_progress`).
		WithArgs("viewer-1", "lec-1", 130, 120).
		WillReturnRows(pgxmock.NewRows(progressColumns).AddRow(130, true, &completedAt))

	rec := serveCheckpoint(handler, checkpointRequestWithBody("viewer-1", "lec-1", `{"positionSeconds":130}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp progressResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WatchedSeconds != 130 || !resp.Completed {
		t.Errorf("unexpected progress %+v", resp)
	}
	if resp.CompletedAt == nil || *resp.CompletedAt != completedAt {
		t.Errorf("unexpected completedAt %v", resp.CompletedAt)
	}
	if len(sink.calls) != 1 || sink.calls[0] != "viewer-1/lec-1/course-1" {
		t.Errorf("expected one completion event, got %v", sink.calls)
	}
}

func TestCheckpoint_AlreadyCompletedDoesNotRefireSink(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)
	sink := &fakeCompletionSink{}
	handler.SetCompletionSink(sink)

	completedAt := int64(1767225600)
	expectLectureRow(mock, "lec-1", "course-1", 120, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	expectProgressRow(mock, "viewer-1", "lec-1", 120, true)
	mock.ExpectQuery(`INSERT INTO lecture_progress`).
		WithArgs("viewer-1", "lec-1", 125, 120).
		WillReturnRows(pgxmock.NewRows(progressColumns).AddRow(125, true, &completedAt))

	rec := serveCheckpoint(handler, checkpointRequestWithBody("viewer-1", "lec-1", `{"positionSeconds":125}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(sink.calls) != 0 {
		t.Errorf("completion already recorded, sink should stay quiet, got %v", sink.calls)
	}
}

func TestCheckpoint_ZeroDurationNeverCompletes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)
	sink := &fakeCompletionSink{}
	handler.SetCompletionSink(sink)

	expectLectureRow(mock, "lec-1", "course-1", 0, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	expectNoProgressRow(mock, "viewer-1", "lec-1")
	mock.ExpectQuery(`INSERT INTO lecture_progress`).
		WithArgs("viewer-1", "lec-1", 5000, 0).
		WillReturnRows(pgxmock.NewRows(progressColumns).AddRow(5000, false, (*int64)(nil)))

	rec := serveCheckpoint(handler, checkpointRequestWithBody("viewer-1", "lec-1", `{"positionSeconds":5000}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp progressResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Completed {
		t.Error("lecture with unknown duration must not complete")
	}
	if len(sink.calls) != 0 {
		t.Errorf("sink should not fire, got %v", sink.calls)
	}
}

func TestCheckpoint_NegativePositionRejected(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	rec := serveCheckpoint(handler, checkpointRequestWithBody("viewer-1", "lec-1", `{"positionSeconds":-3}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no queries expected: %v", err)
	}
}

func TestCheckpoint_DeniedViewerGetsNoWrite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	expectLectureRow(mock, "lec-1", "course-1", 120, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentPending)

	rec := serveCheckpoint(handler, checkpointRequestWithBody("viewer-1", "lec-1", `{"positionSeconds":50}`))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func completeRequest(viewerID, lectureID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/lectures/"+lectureID+"/complete", nil)
	return req.WithContext(auth.ContextWithUserID(req.Context(), viewerID))
}

func TestComplete_MarksAndNotifies(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)
	sink := &fakeCompletionSink{}
	handler.SetCompletionSink(sink)

	completedAt := int64(1767225600)
	expectLectureRow(mock, "lec-1", "course-1", 120, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	expectNoProgressRow(mock, "viewer-1", "lec-1")
	mock.ExpectQuery(`INSERT INTO lecture_progress`).
		WithArgs("viewer-1", "lec-1", 120).
		WillReturnRows(pgxmock.NewRows(progressColumns).AddRow(120, true, &completedAt))

	rec := serveCheckpoint(handler, completeRequest("viewer-1", "lec-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp progressResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Completed || resp.CompletedAt == nil {
		t.Errorf("expected completion fact, got %+v", resp)
	}
	if len(sink.calls) != 1 {
		t.Errorf("expected one completion event, got %v", sink.calls)
	}
}

func TestComplete_SecondCallKeepsFirstTimestamp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)
	sink := &fakeCompletionSink{}
	handler.SetCompletionSink(sink)

	firstCompletedAt := int64(1767225600)
	expectLectureRow(mock, "lec-1", "course-1", 120, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	expectProgressRow(mock, "viewer-1", "lec-1", 120, true)
	// COALESCE keeps the original completed_at on replays
	mock.ExpectQuery(`INSERT INTO lecture_progress`).
		WithArgs("viewer-1", "lec-1", 120).
		WillReturnRows(pgxmock.NewRows(progressColumns).AddRow(120, true, &firstCompletedAt))

	rec := serveCheckpoint(handler, completeRequest("viewer-1", "lec-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp progressResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CompletedAt == nil || *resp.CompletedAt != firstCompletedAt {
		t.Errorf("expected first completed_at preserved, got %v", resp.CompletedAt)
	}
	if len(sink.calls) != 0 {
		t.Errorf("replayed completion must not refire sink, got %v", sink.calls)
	}
}

func TestComplete_ZeroDurationRefused(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	expectLectureRow(mock, "lec-1", "course-1", 0, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)

	rec := serveCheckpoint(handler, completeRequest("viewer-1", "lec-1"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestProgress_NoRowReturnsZeroes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	expectLectureRow(mock, "lec-1", "course-1", 120, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	mock.ExpectQuery(`SELECT watched_seconds, completed, EXTRACT`).
		WithArgs("viewer-1", "lec-1").
		WillReturnError(pgx.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/api/lectures/lec-1/progress", nil)
	req = req.WithContext(auth.ContextWithUserID(req.Context(), "viewer-1"))
	rec := serveCheckpoint(handler, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp progressResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WatchedSeconds != 0 || resp.Completed || resp.CompletedAt != nil {
		t.Errorf("expected zero progress, got %+v", resp)
	}
}

func TestCheckpoint_LoweredDurationCompletesFromStoredMark(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)
	sink := &fakeCompletionSink{}
	handler.SetCompletionSink(sink)

	// the viewer reached 500 while the duration was unknown; the admin has
	// since set it to 450, so the stored mark is already past the boundary
	completedAt := int64(1767225600)
	expectLectureRow(mock, "lec-1", "course-1", 450, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	expectProgressRow(mock, "viewer-1", "lec-1", 500, false)
	mock.ExpectQuery(`INSERT INTO lecture_progress`).
		WithArgs("viewer-1", "lec-1", 40, 450).
		WillReturnRows(pgxmock.NewRows(progressColumns).AddRow(500, true, &completedAt))

	rec := serveCheckpoint(handler, checkpointRequestWithBody("viewer-1", "lec-1", `{"positionSeconds":40}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp progressResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WatchedSeconds != 500 || !resp.Completed {
		t.Errorf("expected stored mark to complete, got %+v", resp)
	}
	if len(sink.calls) != 1 || sink.calls[0] != "viewer-1/lec-1/course-1" {
		t.Errorf("expected one completion event, got %v", sink.calls)
	}
}

func TestCheckpoint_ProgressReadFailureReturns500(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)
	sink := &fakeCompletionSink{}
	handler.SetCompletionSink(sink)

	expectLectureRow(mock, "lec-1", "course-1", 120, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	// a transient failure must not be mistaken for "never watched": that
	// would re-fire the sink for an already-completed row
	mock.ExpectQuery(`SELECT watched_seconds, completed FROM lecture_progress`).
		WithArgs("viewer-1", "lec-1").
		WillReturnError(errors.New("connection reset"))

	rec := serveCheckpoint(handler, checkpointRequestWithBody("viewer-1", "lec-1", `{"positionSeconds":125}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(sink.calls) != 0 {
		t.Errorf("sink must stay quiet on read failure, got %v", sink.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestComplete_ProgressReadFailureReturns500(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)
	sink := &fakeCompletionSink{}
	handler.SetCompletionSink(sink)

	expectLectureRow(mock, "lec-1", "course-1", 120, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	mock.ExpectQuery(`SELECT completed FROM lecture_progress`).
		WithArgs("viewer-1", "lec-1").
		WillReturnError(errors.New("connection reset"))

	rec := serveCheckpoint(handler, completeRequest("viewer-1", "lec-1"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(sink.calls) != 0 {
		t.Errorf("sink must stay quiet on read failure, got %v", sink.calls)
	}
}

func TestProgress_QueryFailureReturns500(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	expectLectureRow(mock, "lec-1", "course-1", 120, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	mock.ExpectQuery(`SELECT watched_seconds, completed, EXTRACT`).
		WithArgs("viewer-1", "lec-1").
		WillReturnError(errors.New("connection reset"))

	req := httptest.NewRequest(http.MethodGet, "/api/lectures/lec-1/progress", nil)
	req = req.WithContext(auth.ContextWithUserID(req.Context(), "viewer-1"))
	rec := serveCheckpoint(handler, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("a database failure must not read as zero progress, got %d", rec.Code)
	}
}
