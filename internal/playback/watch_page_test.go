package playback

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/lectern/lectern/internal/httputil"
)

func serveWatchPage(handler *Handler, lectureID, token string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/watch/{id}", handler.WatchPage)
	req := httptest.NewRequest(http.MethodGet, "/watch/"+lectureID+"?token="+token, nil)
	req = req.WithContext(httputil.ContextWithNonce(req.Context(), "test-nonce"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestWatchPage_RendersPlayerWithWatermark(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{downloadURL: "https://s3.example.com/lec.mp4"}, testBaseURL, testMediaSecret)

	token, err := GenerateMediaToken(testMediaSecret, "lec-1", "viewer-1", MediaTokenDuration)
	if err != nil {
		t.Fatal(err)
	}

	expectLectureRow(mock, "lec-1", "course-1", 600, videoKey("lectures/lec-1.mp4"))
	expectEnrollment(mock, "viewer-1", "course-1", EnrollmentApproved)
	mock.ExpectQuery(`SELECT email FROM users`).
		WithArgs("viewer-1").
		WillReturnRows(pgxmock.NewRows([]string{"email"}).AddRow("student@example.com"))

	rec := serveWatchPage(handler, "lec-1", token)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("expected text/html content type, got %s", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "https://s3.example.com/lec.mp4") {
		t.Error("expected presigned video URL in page")
	}
	if !strings.Contains(body, "student@example.com") {
		t.Error("expected viewer email in watermark script")
	}
	if !strings.Contains(body, "setInterval(renderWatermark, 5000)") {
		t.Error("expected watermark refresh loop")
	}
	if !strings.Contains(body, "visibilitychange") {
		t.Error("expected visibility pause handler")
	}
	if !strings.Contains(body, `nonce="test-nonce"`) {
		t.Error("expected CSP nonce on inline assets")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWatchPage_InvalidTokenReturns404(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := NewHandler(mock, &mockStorage{}, testBaseURL, testMediaSecret)

	rec := serveWatchPage(handler, "lec-1", "garbage")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWatchPage_TokenLectureMismatchReturns404(t *testing.T) {
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

	rec := serveWatchPage(handler, "lec-2", token)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
