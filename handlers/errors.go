package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shiftcrew/dispatch_backend/config"
	"github.com/shiftcrew/dispatch_backend/utils"
	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Entity        string `json:"entity,omitempty"`
	EntityId      string `json:"entity_id,omitempty"`
	CurrentStatus string `json:"current_status,omitempty"`
}

func statusForKind(kind utils.ErrorKind) int {
	switch kind {
	case utils.KindValidation:
		return http.StatusBadRequest
	case utils.KindNotFound:
		return http.StatusNotFound
	case utils.KindConflict, utils.KindInvalidState:
		return http.StatusConflict
	case utils.KindForbidden:
		return http.StatusForbidden
	case utils.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// abortWithError writes err as JSON. Lifecycle errors keep their kind and the
// entity's current status; anything else is logged and hidden behind a 500.
func abortWithError(c *gin.Context, logger *logrus.Logger, funcName string, err error) {
	var le *utils.LifecycleError
	if !errors.As(err, &le) {
		config.LogError(logger, "handlers", funcName, c.FullPath(), nil, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
			Error:   "InternalError",
			Message: "internal server error",
		})
		return
	}
	if le.Retryable() {
		config.LogError(logger, "handlers", funcName, c.FullPath(), nil, err)
		c.Header("Retry-After", "1")
	}
	msg := le.Message
	if msg == "" {
		msg = string(le.Kind)
	}
	c.AbortWithStatusJSON(statusForKind(le.Kind), errorResponse{
		Error:         string(le.Kind),
		Message:       msg,
		Entity:        le.Entity,
		EntityId:      le.EntityId,
		CurrentStatus: le.CurrentStatus,
	})
}

func bindError(c *gin.Context, err error) {
	resp := gin.H{"error": string(utils.KindValidation), "message": "invalid request: " + err.Error()}
	if fields := utils.ProcessValidationErrors(err); fields != nil {
		resp["fields"] = fields
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, resp)
}
