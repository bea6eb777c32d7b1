package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0xredeth/launchpad/internal/launch"
	"github.com/0xredeth/launchpad/pkg/presale"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error      string             `json:"error"`
	Kind       string             `json:"kind"`
	Deployment *launch.Deployment `json:"deployment,omitempty"`
}

// statusOf maps a classified error onto an HTTP status.
func statusOf(err error) int {
	if errors.Is(err, presale.ErrIllegalTransition) {
		return http.StatusUnprocessableEntity
	}
	switch presale.KindOf(err) {
	case presale.KindValidation:
		return http.StatusBadRequest
	case presale.KindNotFound:
		return http.StatusNotFound
	case presale.KindConflict, presale.KindInvariantViolation:
		return http.StatusConflict
	case presale.KindRecoverablePersistence:
		return http.StatusAccepted
	case presale.KindLedger:
		return http.StatusBadGateway
	case presale.KindDecryptUnavailable, presale.KindTransientIndex:
		return http.StatusServiceUnavailable
	case presale.KindPending:
		return http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. A recoverable saga failure carries
// the deployment so the caller can reindex it.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error(), Kind: presale.KindOf(err).String()}

	var recoverable *launch.RecoverableError
	if errors.As(err, &recoverable) {
		dep := recoverable.Deployment
		body.Deployment = &dep
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(op, format string, args ...any) error {
	return presale.Errorf(presale.KindValidation, op, format, args...)
}
