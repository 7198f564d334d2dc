// Copyright 2025 CanvasFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"canvasflow/platform/orchestrator/circuitbreaker"
	"canvasflow/platform/orchestrator/llm"
	"canvasflow/platform/orchestrator/ratelimit"
)

// ErrorKind is the closed set of failures Execute reports.
type ErrorKind string

const (
	ErrorKindMissingCredentials  ErrorKind = "missing_credentials"
	ErrorKindProviderUnavailable ErrorKind = "provider_unavailable"
	ErrorKindRateLimited         ErrorKind = "rate_limited"
	ErrorKindRequestFailed       ErrorKind = "request_failed"
	ErrorKindMalformedResponse   ErrorKind = "malformed_response"
	ErrorKindValidation          ErrorKind = "validation_error"
	ErrorKindDomain              ErrorKind = "domain_error"
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindTargetNotFound      ErrorKind = "target_not_found"
)

// Error is the typed failure returned by Agent.Execute.
type Error struct {
	Kind     ErrorKind
	Provider string
	Cause    error

	// RetryAfter is set for rate_limited.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Provider != "" {
		msg += " (" + e.Provider + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// UserMessage is the actionable text shown to the person who typed the
// command.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case ErrorKindMissingCredentials:
		return "The AI assistant is not configured. Ask an administrator to add the provider API key."
	case ErrorKindProviderUnavailable:
		return "The AI assistant is temporarily unavailable. Please try again in a minute."
	case ErrorKindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("Too many requests. Try again in %d seconds.", int(e.RetryAfter.Round(time.Second).Seconds()))
		}
		return "Too many requests. Try again shortly."
	case ErrorKindRequestFailed:
		return "The AI assistant could not be reached. Please try again."
	case ErrorKindMalformedResponse:
		return "The AI assistant returned something unexpected. Try rephrasing with explicit values, for example \"create a red circle at 100, 100\"."
	case ErrorKindValidation:
		return "The command produced invalid values. Try rephrasing with explicit values."
	case ErrorKindDomain:
		return "The canvas change could not be applied. Check that the objects you mentioned still exist."
	case ErrorKindTimeout:
		return "The command took too long. Try a simpler instruction or split it into steps."
	case ErrorKindTargetNotFound:
		return "The canvas could not be found. Reload the page and try again."
	default:
		return "Something went wrong. Please try again."
	}
}

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case ErrorKindTargetNotFound:
		return http.StatusNotFound
	case ErrorKindValidation, ErrorKindDomain:
		return http.StatusUnprocessableEntity
	case ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case ErrorKindRequestFailed, ErrorKindMalformedResponse:
		return http.StatusBadGateway
	case ErrorKindMissingCredentials, ErrorKindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind ErrorKind, provider string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Cause: cause}
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// classifyProviderError maps a failed attempt to an ErrorKind and reports
// whether the alternate provider should be tried.
func classifyProviderError(provider string, err error) (*Error, bool) {
	var rejected *ratelimit.RejectedError
	if errors.As(err, &rejected) {
		e := newError(ErrorKindRateLimited, provider, err)
		e.RetryAfter = rejected.RetryAfter
		return e, false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return newError(ErrorKindProviderUnavailable, provider, err), true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorKindTimeout, provider, err), true
	}

	pe, ok := llm.AsProviderError(err)
	if !ok {
		return newError(ErrorKindRequestFailed, provider, err), true
	}
	switch pe.Kind {
	case llm.ErrorKindMissingCredentials:
		return newError(ErrorKindMissingCredentials, provider, err), true
	case llm.ErrorKindMalformedResponse:
		return newError(ErrorKindMalformedResponse, provider, err), false
	default:
		return newError(ErrorKindRequestFailed, provider, err), pe.ShouldFallback()
	}
}
