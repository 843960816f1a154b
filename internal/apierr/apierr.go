// Package apierr classifies errors produced anywhere in the pipeline
// into the taxonomy every HTTP surface maps to a status code: callers
// return plain errors wrapped with one of the classification
// constructors here, and the outermost handler translates the class to
// a status without needing to know the originating package.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Class is one of the five error categories from the error-handling
// design: validation, configuration, remote-fetch, cache-protocol
// violation, and worker exception.
type Class int

const (
	// ClassNone is the zero value; not an apierr-classified error.
	ClassNone Class = iota
	// ClassValidation covers malformed ROIs, non-5-D coordinates,
	// reversed extents, and unknown registry keys.
	ClassValidation
	// ClassConfiguration covers setup called before the registry is
	// populated, or with no classifier worker registered.
	ClassConfiguration
	// ClassRemoteFetch covers non-2xx responses from the raw server or
	// a classifier worker after the retry budget is exhausted.
	ClassRemoteFetch
	// ClassCacheProtocolViolation covers a completion event firing for
	// a block the cache reports as a placeholder or absent.
	ClassCacheProtocolViolation
	// ClassWorkerException covers a classifier worker failure; the
	// task is abandoned and no completion is published.
	ClassWorkerException
)

// classified wraps an underlying error with its Class.
type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Validation wraps err as a client-facing validation error.
func Validation(format string, args ...interface{}) error {
	return &classified{class: ClassValidation, err: fmt.Errorf(format, args...)}
}

// Configuration wraps err as an operational "pipeline is not
// functional until remedied" error.
func Configuration(format string, args ...interface{}) error {
	return &classified{class: ClassConfiguration, err: fmt.Errorf(format, args...)}
}

// RemoteFetch wraps err as a surfaced server error after the bounded
// retry policy has been exhausted.
func RemoteFetch(err error) error {
	return &classified{class: ClassRemoteFetch, err: err}
}

// CacheProtocolViolation wraps err as a fatal assertion failure
// indicating bus/cache divergence.
func CacheProtocolViolation(format string, args ...interface{}) error {
	return &classified{class: ClassCacheProtocolViolation, err: fmt.Errorf(format, args...)}
}

// WorkerException wraps err as a logged, abandoned worker task.
func WorkerException(err error) error {
	return &classified{class: ClassWorkerException, err: err}
}

// ClassOf extracts the Class of err, walking the unwrap chain.
// Returns ClassNone if err was never classified.
func ClassOf(err error) Class {
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	return ClassNone
}

// StatusCode maps a Class to the HTTP status the gateway's outermost
// handler layer should return.
func StatusCode(err error) int {
	switch ClassOf(err) {
	case ClassValidation:
		return http.StatusBadRequest
	case ClassConfiguration:
		return http.StatusServiceUnavailable
	case ClassRemoteFetch:
		return http.StatusBadGateway
	case ClassCacheProtocolViolation:
		return http.StatusInternalServerError
	case ClassWorkerException:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the JSON body written for both errors and structured
// success payloads on introspection/control endpoints. Voxel-bearing
// endpoints (/raw, /prediction, /labelimage) write raw bytes directly
// and never use this envelope.
type Envelope struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the error half of an Envelope.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteError classifies err and writes the corresponding envelope.
func WriteError(w http.ResponseWriter, err error) error {
	status := StatusCode(err)
	return WriteJSON(w, status, Envelope{
		Success: false,
		Error:   &ErrorBody{Code: status, Message: err.Error()},
	})
}

// WriteSuccess writes a 200 envelope carrying result.
func WriteSuccess(w http.ResponseWriter, result interface{}) error {
	return WriteJSON(w, http.StatusOK, Envelope{Success: true, Result: result})
}

// WritePlainText writes a 200 text/plain response, used by the
// introspection endpoints (§6: "plain-text").
func WritePlainText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
