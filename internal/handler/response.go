package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository"
	apperrors "github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/errors"
)

const (
	ContextPrincipal = "principal"
	ContextRequestID = "request_id"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

func RespondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, NewSuccessResponse(data))
}

// RespondError maps err to a status code and writes the error envelope.
// Internal errors are logged and hidden from the client.
func RespondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	if appErr, ok := apperrors.As(err); ok {
		status = appErr.HTTPStatus()
		message = appErr.Message
	} else if errors.Is(err, repository.ErrNotFound) {
		status = http.StatusNotFound
		message = "not found"
	}

	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetString(ContextRequestID)).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
	}
	c.AbortWithStatusJSON(status, NewErrorResponse(message))
}

// RoleGate builds a middleware admitting only the given roles.
type RoleGate func(roles ...model.Role) gin.HandlerFunc

// SetPrincipal stores the authenticated caller on the request.
func SetPrincipal(c *gin.Context, p model.Principal) {
	c.Set(ContextPrincipal, p)
}

// CurrentPrincipal returns the caller set by the auth middleware.
func CurrentPrincipal(c *gin.Context) (model.Principal, bool) {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return model.Principal{}, false
	}
	p, ok := v.(model.Principal)
	return p, ok
}
