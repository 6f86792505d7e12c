package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/gally-search/pkg/errors"
)

// DownstreamErrorResponse covers the error bodies returned by the services
// this module talks to: the platform envelope {"error":{"code","message"}},
// API Platform hydra errors used by Gally, and the bare {"code","message"}
// answers of the Gally authentication firewall.
type DownstreamErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`

	HydraTitle       string `json:"hydra:title"`
	HydraDescription string `json:"hydra:description"`
	Detail           string `json:"detail"`
	Message          string `json:"message"`
}

// codeAndMessage extracts the most specific code and message of the body.
func (d *DownstreamErrorResponse) codeAndMessage() (string, string, bool) {
	switch {
	case d.Error != nil:
		return d.Error.Code, d.Error.Message, true
	case d.HydraDescription != "":
		return d.HydraTitle, d.HydraDescription, true
	case d.Detail != "":
		return "", d.Detail, true
	case d.Message != "":
		return "", d.Message, true
	}
	return "", "", false
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an AppError. If the body matches one of the known error formats,
// the code and message are preserved. Otherwise a generic error is returned
// with the status code and raw body.
//
// The caller should only invoke this when resp.StatusCode indicates an error.
// The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var downstream DownstreamErrorResponse
	if json.Unmarshal(bodyBytes, &downstream) == nil {
		if code, message, ok := downstream.codeAndMessage(); ok {
			return mapDownstreamError(resp.StatusCode, code, message, serviceName)
		}
	}

	return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, string(bodyBytes))
}

// mapDownstreamError translates a downstream status code and error code into
// an AppError that preserves the error semantics.
func mapDownstreamError(status int, code, message, serviceName string) error {
	qualifiedMsg := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName+" resource", message)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(qualifiedMsg)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualifiedMsg)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(qualifiedMsg)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(qualifiedMsg)
	case status == http.StatusGone:
		return apperrors.Gone(qualifiedMsg)
	case status == http.StatusUnprocessableEntity:
		return apperrors.Unprocessable(qualifiedMsg)
	case status == http.StatusServiceUnavailable:
		err := apperrors.Unavailable(qualifiedMsg)
		if code != "" {
			err.Code = code
		}
		return err
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, code, message)
	default:
		return &apperrors.AppError{
			Code:    code,
			Message: qualifiedMsg,
			Status:  status,
		}
	}
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
