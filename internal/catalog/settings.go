package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/lectern/lectern/internal/auth"
	"github.com/lectern/lectern/internal/httputil"
	"github.com/lectern/lectern/internal/validate"
)

type notificationSettingsResponse struct {
	SlackWebhookURL  string `json:"slackWebhookUrl"`
	WebhookURL       string `json:"webhookUrl"`
	WebhookSecretSet bool   `json:"webhookSecretSet"`
}

type putNotificationSettingsRequest struct {
	SlackWebhookURL *string `json:"slackWebhookUrl"`
	WebhookURL      *string `json:"webhookUrl"`
	WebhookSecret   *string `json:"webhookSecret"`
}

func (h *Handler) GetNotificationSettings(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var slackURL, webhookURL, webhookSecret *string
	err := h.db.QueryRow(r.Context(),
		`SELECT slack_webhook_url, webhook_url, webhook_secret
		 FROM notification_settings WHERE user_id = $1`,
		userID,
	).Scan(&slackURL, &webhookURL, &webhookSecret)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	resp := notificationSettingsResponse{}
	if slackURL != nil {
		resp.SlackWebhookURL = *slackURL
	}
	if webhookURL != nil {
		resp.WebhookURL = *webhookURL
	}
	resp.WebhookSecretSet = webhookSecret != nil && *webhookSecret != ""

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// PutNotificationSettings upserts the caller's endpoints. Nil fields are
// left untouched; an explicit empty string clears the value.
func (h *Handler) PutNotificationSettings(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req putNotificationSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SlackWebhookURL != nil {
		if msg := validate.SlackWebhookURL(*req.SlackWebhookURL); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}
	if req.WebhookURL != nil {
		if msg := validate.WebhookURL(*req.WebhookURL); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}
	if req.WebhookSecret != nil {
		if msg := validate.WebhookSecret(*req.WebhookSecret); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}

	if _, err := h.db.Exec(r.Context(),
		`INSERT INTO notification_settings (user_id, slack_webhook_url, webhook_url, webhook_secret)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
		 ON CONFLICT (user_id) DO UPDATE SET
		   slack_webhook_url = CASE WHEN $5 THEN NULLIF($2, '') ELSE notification_settings.slack_webhook_url END,
		   webhook_url = CASE WHEN $6 THEN NULLIF($3, '') ELSE notification_settings.webhook_url END,
		   webhook_secret = CASE WHEN $7 THEN NULLIF($4, '') ELSE notification_settings.webhook_secret END`,
		userID,
		strVal(req.SlackWebhookURL), strVal(req.WebhookURL), strVal(req.WebhookSecret),
		req.SlackWebhookURL != nil, req.WebhookURL != nil, req.WebhookSecret != nil,
	); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
