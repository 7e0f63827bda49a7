package runpod

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures raised while driving a RunPod job.
type ErrorKind string

const (
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindSubmission      ErrorKind = "submission_error"
	KindJobFailed       ErrorKind = "job_failed"
	KindTimeout         ErrorKind = "timeout"
	KindCancelled       ErrorKind = "cancelled"
	KindMalformedOutput ErrorKind = "malformed_output"
	KindDownload        ErrorKind = "download_error"
)

const unknownError = "Unknown error"

// Sentinels for errors.Is checks; they match any *Error of the same kind.
var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrSubmission      = &Error{Kind: KindSubmission}
	ErrJobFailed       = &Error{Kind: KindJobFailed}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrCancelled       = &Error{Kind: KindCancelled}
	ErrMalformedOutput = &Error{Kind: KindMalformedOutput}
	ErrDownload        = &Error{Kind: KindDownload}
)

// Error is returned by the job client, payload builders and the media facade.
type Error struct {
	Kind       ErrorKind
	Message    string
	JobID      string
	StatusCode int
	// Value and Accepted describe InvalidArgument failures.
	Value    string
	Accepted []string
	// Raw keeps the upstream body or job output for diagnosis.
	Raw string
	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when err is not a RunPod error.
func KindOf(err error) ErrorKind {
	var rpErr *Error
	if errors.As(err, &rpErr) {
		return rpErr.Kind
	}
	return ""
}

func invalidArgument(field, value string, accepted []string) *Error {
	msg := fmt.Sprintf("unsupported %s %q", field, value)
	if len(accepted) > 0 {
		msg += "; supported values: " + strings.Join(accepted, ", ")
	}
	return &Error{Kind: KindInvalidArgument, Message: msg, Value: value, Accepted: accepted}
}

func invalidArgumentf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func cancelledError(jobID string, cause error) *Error {
	msg := "runpod: request cancelled"
	if jobID != "" {
		msg = fmt.Sprintf("runpod: polling for job %s cancelled", jobID)
	}
	return &Error{Kind: KindCancelled, Message: msg, JobID: jobID, Err: cause}
}

func jobFailedError(job Job) *Error {
	msg := strings.TrimSpace(job.Error)
	if msg == "" {
		msg = unknownError
	}
	return &Error{Kind: KindJobFailed, Message: msg, JobID: job.ID}
}

// decodeSubmissionError extracts the most specific message from a RunPod error body.
// Remote errors sometimes embed a second JSON document inside the error string.
func decodeSubmissionError(status int, body []byte) *Error {
	raw := strings.TrimSpace(string(body))
	msg := errorMessageFromBody(body)
	if msg == "" {
		msg = raw
	}
	if msg == "" {
		msg = unknownError
	}
	return &Error{
		Kind:       KindSubmission,
		Message:    fmt.Sprintf("runpod api error %d: %s", status, msg),
		StatusCode: status,
		Raw:        raw,
	}
}

func errorMessageFromBody(body []byte) string {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	return messageFromValue(doc, 0)
}

// maxEmbeddedDocuments bounds how many JSON documents nested inside string
// fields are re-parsed. Object and array nesting is not counted.
const maxEmbeddedDocuments = 3

func messageFromValue(v any, depth int) string {
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if depth < maxEmbeddedDocuments && (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) {
			var nested any
			if err := json.Unmarshal([]byte(trimmed), &nested); err == nil {
				if msg := messageFromValue(nested, depth+1); msg != "" {
					return msg
				}
			}
		}
		return trimmed
	case map[string]any:
		for _, key := range []string{"error", "message", "detail", "error_message"} {
			if inner, ok := val[key]; ok {
				if msg := messageFromValue(inner, depth); msg != "" {
					return msg
				}
			}
		}
	case []any:
		if len(val) > 0 {
			return messageFromValue(val[0], depth)
		}
	}
	return ""
}
