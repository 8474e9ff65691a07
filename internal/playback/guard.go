package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lectern/lectern/internal/database"
)

// DenyReason identifies why a playback session was refused. The first two
// are actionable by the viewer (request access, wait for approval); anything
// else is surfaced as a generic failure.
type DenyReason string

const (
	DenyNotEnrolled       DenyReason = "not_enrolled"
	DenyEnrollmentPending DenyReason = "enrollment_pending"
	DenyLectureNotFound   DenyReason = "lecture_not_found"
)

const (
	EnrollmentPending  = "pending"
	EnrollmentApproved = "approved"
	EnrollmentRejected = "rejected"
)

// VideoStatusReady marks a lecture whose video object passed the upload
// confirmation check; anything else is not playable yet.
const VideoStatusReady = "ready"

// LectureInfo is what the issuer needs to know about a lecture once access
// is granted.
type LectureInfo struct {
	ID              string
	CourseID        string
	CourseTitle     string
	Title           string
	DurationSeconds int
	VideoKey        *string
	VideoStatus     string
}

// Playable reports whether the lecture's video object exists and passed
// upload confirmation.
func (l LectureInfo) Playable() bool {
	return l.VideoKey != nil && l.VideoStatus == VideoStatusReady
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Lecture LectureInfo
}

// Authorize decides whether viewerID may open a playback session for
// lectureID. It is a pure read over catalog and enrollment state and is
// re-evaluated on every request: enrollment can change between requests, so
// decisions are never cached.
func Authorize(ctx context.Context, db database.DBTX, viewerID, lectureID string) (Decision, error) {
	var info LectureInfo
	err := db.QueryRow(ctx,
		`SELECT l.id, l.course_id, c.title, l.title, l.duration_seconds, l.video_key, l.video_status
		 FROM lectures l
		 JOIN courses c ON c.id = l.course_id
		 WHERE l.id = $1`,
		lectureID,
	).Scan(&info.ID, &info.CourseID, &info.CourseTitle, &info.Title, &info.DurationSeconds, &info.VideoKey, &info.VideoStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return Decision{Reason: DenyLectureNotFound}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load lecture: %w", err)
	}

	var status string
	err = db.QueryRow(ctx,
		`SELECT status FROM enrollments WHERE student_id = $1 AND course_id = $2`,
		viewerID, info.CourseID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Decision{Reason: DenyNotEnrolled, Lecture: info}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load enrollment: %w", err)
	}

	switch status {
	case EnrollmentApproved:
		return Decision{Allowed: true, Lecture: info}, nil
	case EnrollmentPending:
		return Decision{Reason: DenyEnrollmentPending, Lecture: info}, nil
	default:
		return Decision{Reason: DenyNotEnrolled, Lecture: info}, nil
	}
}
