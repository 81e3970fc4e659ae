package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kbflow/internal/app"
	"kbflow/internal/gateway"
	"kbflow/internal/transport/http/response"
)

// writeError maps orchestration errors onto the response envelope.
func writeError(c *gin.Context, err error, action string) {
	status, code, reason := classify(err)
	response.Reasoned(c, status, code, reason, action+": "+err.Error())
}

func classify(err error) (int, int, string) {
	var (
		vErr  *app.ValidationError
		sErr  *app.StateError
		nfErr *app.NotFoundError
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, response.CodeValidation, vErr.Code
	case errors.As(err, &sErr):
		return http.StatusConflict, response.CodeIllegalState, sErr.Code
	case errors.As(err, &nfErr):
		return http.StatusNotFound, response.CodeNotFound, nfErr.Kind
	}
	if gwErr, ok := gateway.AsError(err); ok {
		if gwErr.Kind == gateway.KindTimeout {
			return http.StatusGatewayTimeout, response.CodeUpstreamTimeout, string(gwErr.Kind)
		}
		return http.StatusBadGateway, response.CodeUpstream, string(gwErr.Kind)
	}
	return http.StatusInternalServerError, response.CodeInternalServer, ""
}
