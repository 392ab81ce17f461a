package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/aws/smithy-go"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/errs"
)

// statusOf maps an engine failure to its HTTP status.
func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.KindBadRequest:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindAccountInactive:
		return http.StatusForbidden
	case errs.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case errs.KindAlreadyOwned, errs.KindGameUnavailable, errs.KindOutOfStock, errs.KindConflict:
		return http.StatusConflict
	case errs.KindInvalidTransition:
		return http.StatusInternalServerError
	}
	// storage errors: throttling and service faults are worth a retry
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorFault() == smithy.FaultServer || isThrottle(apiErr.ErrorCode())) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func isThrottle(code string) bool {
	switch code {
	case "ThrottlingException", "ProvisionedThroughputExceededException", "RequestLimitExceeded":
		return true
	}
	return false
}

// errorBody renders err for clients. Untyped errors are not echoed.
func errorBody(err error) gin.H {
	var e *errs.Error
	if !errors.As(err, &e) {
		return gin.H{"error": "internal_error"}
	}
	body := gin.H{"error": string(e.Kind), "msg": err.Error()}
	if e.Reason != "" {
		body["reason"] = e.Reason
	}
	return body
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[api] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, errorBody(err))
}
