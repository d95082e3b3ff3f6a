package errors

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ye, ok := As(err)
	if !ok {
		ye = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ye.Message))
	if ye.Cause != nil && ye.Cause.Error() != ye.Message {
		sb.WriteString(fmt.Sprintf("  Cause: %v\n", ye.Cause))
	}
	if ye.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ye.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ye.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error for machine consumers.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ye, ok := As(err)
	if !ok {
		ye = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       ye.Code,
		Message:    ye.Message,
		Category:   string(ye.Category),
		Severity:   string(ye.Severity),
		Details:    ye.Details,
		Suggestion: ye.Suggestion,
		Retryable:  ye.Retryable,
	}
	if ye.Cause != nil {
		je.Cause = ye.Cause.Error()
	}

	return json.Marshal(je)
}

// LogAttrs returns slog-ready key/value pairs describing err.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	ye, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{"error_code", ye.Code, "error", ye.Error()}
	keys := make([]string, 0, len(ye.Details))
	for k := range ye.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, "detail_"+k, ye.Details[k])
	}
	return attrs
}
