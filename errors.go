package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiError is the classified error carried between layers. The JSON shape is
// the wire envelope body: {"code": ..., "message": ..., "retryable": ...}.
type apiError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *apiError) Error() string {
	return e.Code + ": " + e.Message
}

// Error codes used across the service.
const (
	codeInvalidRequest    = "invalid_request"
	codeInsufficientData  = "insufficient_data"
	codeRateLimited       = "rate_limited"
	codeCircuitOpen       = "circuit_open"
	codeUpstreamFailure   = "upstream_failure"
	codeUpstreamRejected  = "upstream_rejected"
	codeUpstreamMalformed = "upstream_malformed"
	codeReportUnavailable = "report_unavailable"
	codeInternalError     = "internal_error"
)

func errInvalidRequest(msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: codeInvalidRequest, Message: msg, Retryable: false}
}

func errInsufficientData(msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: codeInsufficientData, Message: msg, Retryable: false}
}

func errCircuitOpen(endpoint string) *apiError {
	return &apiError{
		Status:    http.StatusServiceUnavailable,
		Code:      codeCircuitOpen,
		Message:   "upstream temporarily unavailable: " + endpoint,
		Retryable: true,
	}
}

func errUpstreamFailure(msg string) *apiError {
	return &apiError{Status: http.StatusBadGateway, Code: codeUpstreamFailure, Message: msg, Retryable: true}
}

func errUpstreamRejected(msg string) *apiError {
	return &apiError{Status: http.StatusBadGateway, Code: codeUpstreamRejected, Message: msg, Retryable: false}
}

func errUpstreamMalformed(msg string) *apiError {
	return &apiError{Status: http.StatusBadGateway, Code: codeUpstreamMalformed, Message: msg, Retryable: true}
}

// respondError writes the shared error envelope. Unclassified errors are never
// echoed to the client; they surface as a generic internal_error.
func respondError(c *gin.Context, err error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		fmt.Printf("[Error] unclassified: %v\n", err)
		apiErr = &apiError{
			Status:    http.StatusInternalServerError,
			Code:      codeInternalError,
			Message:   "unexpected internal failure",
			Retryable: true,
		}
	}
	c.JSON(apiErr.Status, gin.H{"error": apiErr})
}
