package apiresponses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/authcoord/pkg/coordinator"
)

// RequestIDKey is read from the gin context to fill APIError.RequestID.
const RequestIDKey = "requestID"

// APIError is the body of every broker error response. Error carries the
// snake_case error kind, e.g. "interaction_required".
type APIError struct {
	Error          string   `json:"error"`
	Description    string   `json:"error_description,omitempty"`
	FailedAccounts []string `json:"failed_accounts,omitempty"`
	RequestID      string   `json:"request_id,omitempty"`
}

// StatusForKind returns the HTTP status used for an error kind.
func StatusForKind(kind coordinator.ErrorKind) int {
	switch kind {
	case coordinator.KindConfiguration:
		return http.StatusBadRequest
	case coordinator.KindInteractionRequired, coordinator.KindUserCancelled:
		return http.StatusUnauthorized
	case coordinator.KindNoParentWindow:
		return http.StatusPreconditionFailed
	case coordinator.KindInteractionInProgress:
		return http.StatusConflict
	case coordinator.KindProviderFailure:
		return http.StatusBadGateway
	case coordinator.KindPartialSignOut:
		return http.StatusMultiStatus
	case coordinator.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as an APIError. The description only carries the
// coordinator's own detail text since provider messages may contain personal
// data; the full error is logged at debug level.
func RespondError(c *gin.Context, err error, log *zap.SugaredLogger) {
	kind := coordinator.KindOf(err)
	body := APIError{
		Error:       kind.String(),
		Description: description(err),
		RequestID:   c.GetString(RequestIDKey),
	}
	var cerr *coordinator.Error
	if errors.As(err, &cerr) {
		for _, account := range cerr.FailedAccounts() {
			body.FailedAccounts = append(body.FailedAccounts, account.ID)
		}
	}
	status := StatusForKind(kind)
	if log != nil {
		log.Debugw("Responding with error", "status", status, "kind", kind.String(), "error", err)
	}
	if kind == coordinator.KindInteractionRequired {
		c.Header("WWW-Authenticate", `Bearer error="interaction_required"`)
	}
	c.JSON(status, body)
}

func description(err error) string {
	var cerr *coordinator.Error
	if errors.As(err, &cerr) && cerr.Detail != "" {
		return cerr.Detail
	}
	if sentinel := coordinator.SentinelFor(coordinator.KindOf(err)); sentinel != nil {
		return sentinel.Error()
	}
	return "unexpected error"
}

// RespondBadRequest sends a 400 Bad Request response.
// Use this for client errors like malformed JSON or invalid parameters.
func RespondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, APIError{
		Error:       coordinator.KindConfiguration.String(),
		Description: message,
		RequestID:   c.GetString(RequestIDKey),
	})
}

// RespondForbidden sends a 403 Forbidden response with an optional reason.
func RespondForbidden(c *gin.Context, reason string) {
	if reason == "" {
		reason = "access denied"
	}
	c.AbortWithStatusJSON(http.StatusForbidden, APIError{
		Error:       "forbidden",
		Description: reason,
		RequestID:   c.GetString(RequestIDKey),
	})
}
