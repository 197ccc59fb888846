package cli

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"strings"

	"github.com/rileyhilliard/gpueye/internal/config"
	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/host"
)

// JSONEnvelope wraps command output in a consistent structure for machine parsing.
// All --format json output uses this envelope.
type JSONEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *JSONError  `json:"error,omitempty"`
}

// JSONError provides structured error information for machine parsing.
type JSONError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

// Error codes for machine-readable output.
const (
	ErrCodeConfigNotFound    = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeHostNotFound      = "HOST_NOT_FOUND"
	ErrCodeSSHTimeout        = "SSH_TIMEOUT"
	ErrCodeSSHConnectionFail = "SSH_CONNECTION_FAILED"
	ErrCodeCommandFailed     = "COMMAND_FAILED"
	ErrCodeOutputUnreadable  = "OUTPUT_UNREADABLE"
	ErrCodeUnknown           = "UNKNOWN"
)

// WriteJSONSuccess writes a successful response with data to the writer.
func WriteJSONSuccess(w io.Writer, data interface{}) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: true, Data: data})
}

// WriteJSONFromError converts a Go error to a JSON error response.
func WriteJSONFromError(w io.Writer, err error) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: false, Error: ErrorToJSON(err)})
}

func writeJSONEnvelope(w io.Writer, env JSONEnvelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// ErrorToJSON converts a Go error to a JSONError with appropriate code mapping.
func ErrorToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}

	var probeErr *host.ProbeError
	if stderrors.As(err, &probeErr) {
		return probeErrorToJSON(probeErr)
	}

	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return &JSONError{
			Code:       mapErrorCode(structured.Code, structured.Message),
			Message:    structured.Message,
			Suggestion: structured.Suggestion,
		}
	}

	return &JSONError{
		Code:    ErrCodeUnknown,
		Message: err.Error(),
	}
}

// mapErrorCode maps internal error codes to machine-readable codes.
func mapErrorCode(internalCode, message string) string {
	switch internalCode {
	case errors.ErrConfig:
		msgLower := strings.ToLower(message)
		if strings.HasPrefix(msgLower, "host ") && strings.Contains(msgLower, "not found") {
			return ErrCodeHostNotFound
		}
		if strings.Contains(msgLower, "not found") || strings.Contains(msgLower, "couldn't find") {
			return ErrCodeConfigNotFound
		}
		return ErrCodeConfigInvalid
	case errors.ErrSSH, errors.ErrConnection:
		return ErrCodeSSHConnectionFail
	case errors.ErrExecution:
		return ErrCodeCommandFailed
	case errors.ErrOutput:
		return ErrCodeOutputUnreadable
	}
	return ErrCodeUnknown
}

// probeErrorToJSON converts a probe error to JSON with specific SSH error codes.
func probeErrorToJSON(probeErr *host.ProbeError) *JSONError {
	code := ErrCodeSSHConnectionFail
	var suggestion string

	switch probeErr.Reason {
	case host.ProbeFailTimeout:
		code = ErrCodeSSHTimeout
		suggestion = "Check if host is reachable: ping the hostname"
	case host.ProbeFailDNS:
		suggestion = "Check hostname spelling and SSH config"
	case host.ProbeFailRefused, host.ProbeFailUnreachable:
		suggestion = "Check if SSH server is running and host is reachable"
	}

	return &JSONError{
		Code:       code,
		Message:    probeErr.Error(),
		Suggestion: suggestion,
		Details: map[string]interface{}{
			"reason":  probeErr.Reason.String(),
			"address": probeErr.Address,
		},
	}
}

// reportJSONError writes err as a JSON envelope when format is json, so
// scripts always get parseable output. The returned error is then silent.
func reportJSONError(out io.Writer, format string, err error) error {
	if err == nil || !strings.EqualFold(format, config.FormatJSON) {
		return err
	}
	if werr := WriteJSONFromError(out, err); werr != nil {
		return err
	}
	return errSilent
}
