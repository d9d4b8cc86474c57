package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"odportal/internal/account"
	"odportal/internal/attendance"
	"odportal/internal/auth"
	"odportal/internal/events"
	"odportal/internal/identity"
	"odportal/internal/odrequest"
)

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// Checked in order; the first match wins. Clients get the fixed message; the
// wrapped detail is only logged.
var errorMappings = []errorMapping{
	{account.ErrInvalidInput, http.StatusBadRequest, "invalid_input", "invalid email, password or profile"},
	{identity.ErrInvalidProfile, http.StatusBadRequest, "invalid_profile", "invalid profile details"},
	{odrequest.ErrInvalidInput, http.StatusBadRequest, "invalid_input", "invalid od request fields"},
	{odrequest.ErrReasonRequired, http.StatusBadRequest, "reason_required", "a rejection reason is required"},
	{attendance.ErrInvalidDate, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD"},
	{events.ErrInvalidInput, http.StatusBadRequest, "invalid_input", "event title and date are required"},

	{account.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	{account.ErrSessionExpired, http.StatusUnauthorized, "session_expired", "session expired, sign in again"},

	{auth.ErrNoProfile, http.StatusForbidden, "no_profile", "complete your profile first"},
	{auth.ErrForbidden, http.StatusForbidden, "forbidden", "not allowed for your role"},

	{odrequest.ErrNotFound, http.StatusNotFound, "not_found", "od request not found"},
	{account.ErrNotFound, http.StatusNotFound, "not_found", "account not found"},

	{odrequest.ErrInvalidTransition, http.StatusConflict, "invalid_transition", "od request is already decided"},
	{attendance.ErrNotApproved, http.StatusConflict, "not_approved", "od request is not approved"},
	{attendance.ErrAlreadyMarked, http.StatusConflict, "already_marked", "attendance already marked for this date"},
	{account.ErrEmailTaken, http.StatusConflict, "email_taken", "email already registered"},
	{identity.ErrProfileExists, http.StatusConflict, "profile_exists", "profile already exists"},

	{odrequest.ErrAttachmentUpload, http.StatusBadGateway, "attachment_upload_failed", "attachment upload failed"},
	{auth.ErrFederationDisabled, http.StatusServiceUnavailable, "federation_disabled", "google sign-in is not configured"},
}

// respondError writes the JSON error for err. Unmapped errors are logged and
// reported as internal.
func (h *Handler) respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			h.logger.Info("request rejected",
				zap.String("route", c.FullPath()),
				zap.String("code", m.code),
				zap.Error(err))
			c.AbortWithStatusJSON(m.status, gin.H{"error": m.code, "message": m.message})
			return
		}
	}
	h.logger.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("route", c.FullPath()),
		zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
}

func badRequest(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": code, "message": message})
}
