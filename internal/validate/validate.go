package validate

import "fmt"

// Text field length limits — single source of truth for backend and frontend.
const (
	MaxCourseTitleLength       = 200
	MaxCourseDescriptionLength = 5000
	MaxLectureTitleLength      = 200
	MaxNameLength              = 200
	MaxSlackWebhookURLLength   = 500
	MaxWebhookURLLength        = 500
	MaxWebhookSecretLength     = 200
)

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func CourseTitle(s string) string { return checkLen(s, MaxCourseTitleLength, "course title") }
func CourseDescription(s string) string {
	return checkLen(s, MaxCourseDescriptionLength, "course description")
}
func LectureTitle(s string) string { return checkLen(s, MaxLectureTitleLength, "lecture title") }
func Name(s string) string         { return checkLen(s, MaxNameLength, "name") }
func SlackWebhookURL(s string) string {
	return checkLen(s, MaxSlackWebhookURLLength, "Slack webhook URL")
}
func WebhookURL(s string) string    { return checkLen(s, MaxWebhookURLLength, "webhook URL") }
func WebhookSecret(s string) string { return checkLen(s, MaxWebhookSecretLength, "webhook secret") }

// FieldLimits returns a map of field names to max lengths for the /api/limits endpoint.
func FieldLimits() map[string]int {
	return map[string]int{
		"courseTitle":       MaxCourseTitleLength,
		"courseDescription": MaxCourseDescriptionLength,
		"lectureTitle":      MaxLectureTitleLength,
		"name":              MaxNameLength,
		"slackWebhookURL":   MaxSlackWebhookURLLength,
		"webhookURL":        MaxWebhookURLLength,
		"webhookSecret":     MaxWebhookSecretLength,
	}
}
