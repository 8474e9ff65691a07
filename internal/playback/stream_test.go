package playback

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func serveStream(handler *Handler, lectureID, token string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/api/media/stream/{id}", handler.Stream)
	req := httptest.NewRequest(http.MethodGet, "/api/media/stream/"+lectureID+"?token="+token, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestStream_ValidTokenRedirectsToStorage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	storage := &mockStorage{downloadURL: "https://s3.example.com/lectures/lec-1.mp4?sig=abc"}
	handler := NewHandler(mock, storage, testBaseURL, testMediaSecret)

	token, err := GenerateMediaToken(testMediaSecret, "lec-1", "viewer-1", MediaTokenDuration)
	if err != nil {
		t.Fatal(err)
	}

	expectLectureRow(mock, "lec-1", "course-1", 600, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)

	rec := serveStream(handler, "lec-1", token)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != storage.downloadURL {
		t.Errorf("unexpected redirect target %q", loc)
	}
	if storage.lastKey != "lectures/lec-1.mp4" {
		t.Errorf("presigned wrong key %q", storage.lastKey)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStream_ExpiredTokenReturns401(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	token, err := GenerateMediaToken(testMediaSecret, "lec-1", "viewer-1", -1*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	rec := serveStream(handler, "lec-1", token)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStream_TokenForOtherLectureReturns401(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	token, err := GenerateMediaToken(testMediaSecret, "lec-1", "viewer-1", MediaTokenDuration)
	if err != nil {
		t.Fatal(err)
	}

	rec := serveStream(handler, "lec-2", token)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStream_RevokedEnrollmentLosesAccessMidToken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	token, err := GenerateMediaToken(testMediaSecret, "lec-1", "viewer-1", MediaTokenDuration)
	if err != nil {
		t.Fatal(err)
	}

	expectLectureRow(mock, "lec-1", "course-1", 600, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentRejected)

	rec := serveStream(handler, "lec-1", token)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStream_MissingVideoReturns404(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	token, err := GenerateMediaToken(testMediaSecret, "lec-1", "viewer-1", MediaTokenDuration)
	if err != nil {
		t.Fatal(err)
	}

	expectLectureRow(mock, "lec-1", "course-1", 600, nil)
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)

	rec := serveStream(handler, "lec-1", token)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStream_UnconfirmedUploadReturns404(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	token, err := GenerateMediaToken(testMediaSecret, "lec-1", "viewer-1", MediaTokenDuration)
	if err != nil {
		t.Fatal(err)
	}

	expectLectureRowWithStatus(mock, "lec-1", "course-1", 600, videoKey("lectures/lec-1.mp4"), "uploading")
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)

	rec := serveStream(handler, "lec-1", token)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
