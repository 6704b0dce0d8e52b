package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"paycore/internal/domain"
	"paycore/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrUnknownGateway),
		errors.Is(err, payment.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrReferralCodeNotFound),
		errors.Is(err, domain.ErrEarningNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyReferred),
		errors.Is(err, domain.ErrReferralCodeInactive),
		errors.Is(err, domain.ErrReferralCodeExpired),
		errors.Is(err, domain.ErrEarningSettled),
		errors.Is(err, domain.ErrDuplicateEntry):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAmountMismatch),
		errors.Is(err, domain.ErrSelfReferral):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payment.ErrGatewayUnreachable),
		errors.Is(err, payment.ErrRejected),
		errors.Is(err, payment.ErrUnknownTransaction):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		c.JSON(code, gin.H{"error": "internal error"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// bindJSON decodes the body into req and writes a 400 with per-field messages on
// failure.
func bindJSON(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": formatValidation(verrs)})
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
	return false
}

func formatValidation(verrs validator.ValidationErrors) []string {
	out := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("%s is required", field))
		case "email":
			out = append(out, fmt.Sprintf("%s must be a valid email", field))
		case "gt", "min":
			out = append(out, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "max":
			out = append(out, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		case "len":
			out = append(out, fmt.Sprintf("%s must have length %s", field, e.Param()))
		case "oneof":
			out = append(out, fmt.Sprintf("%s must be one of [%s]", field, e.Param()))
		default:
			out = append(out, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
		}
	}
	return out
}

// paramID parses a positive integer path parameter.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func page(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
