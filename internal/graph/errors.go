package graph

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind groups Graph API error codes by how callers should react.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPermission
	KindInvalidRequest
	KindInvalidToken
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindInvalidRequest:
		return "invalid_request"
	case KindInvalidToken:
		return "invalid_token"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// APIError is the error envelope returned by the Graph API.
type APIError struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode,omitempty"`
	FBTraceID  string `json:"fbtrace_id,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Graph API error: %s (type: %s, code: %d)", e.Message, e.Type, e.Code)
}

// Kind classifies the error code.
func (e *APIError) Kind() ErrorKind {
	switch e.Code {
	case 3, 10, 200:
		return KindPermission
	case 100:
		return KindInvalidRequest
	case 190:
		return KindInvalidToken
	case 4, 17, 32, 613:
		return KindRateLimited
	default:
		return KindUnknown
	}
}

// KindOf returns the kind of the first *APIError in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	return KindUnknown
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// parseError extracts an *APIError from a response body, or nil if there is none.
func parseError(body []byte, status int) *APIError {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return nil
	}
	if env.Error.Message == "" && env.Error.Code == 0 {
		return nil
	}
	env.Error.StatusCode = status
	return env.Error
}
