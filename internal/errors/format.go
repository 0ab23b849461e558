package errors

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal display.
// With verbose set, details and the underlying cause are included.
func FormatForCLI(err error, verbose bool) string {
	if err == nil {
		return ""
	}

	ve, ok := As(err)
	if !ok {
		ve = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ve.Message))

	if ve.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ve.Suggestion))
	}

	if verbose {
		keys := make([]string, 0, len(ve.Details))
		for k := range ve.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, ve.Details[k]))
		}
		if ve.Cause != nil && ve.Cause.Error() != ve.Message {
			sb.WriteString(fmt.Sprintf("  Cause: %s\n", ve.Cause))
		}
	}

	sb.WriteString(fmt.Sprintf("  Code: %s\n", ve.Code))
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

// FormatJSON returns a JSON representation of the error for --json output.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ve, ok := As(err)
	if !ok {
		ve = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       ve.Code,
		Message:    ve.Message,
		Category:   string(ve.Category),
		Severity:   string(ve.Severity),
		Details:    ve.Details,
		Suggestion: ve.Suggestion,
		Retryable:  ve.Retryable,
	}
	if ve.Cause != nil {
		je.Cause = ve.Cause.Error()
	}

	return json.Marshal(je)
}

// LogAttrs returns key-value pairs suitable for slog.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	ve, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", ve.Code,
		"error", ve.Message,
		"category", string(ve.Category),
	}
	if ve.Cause != nil {
		attrs = append(attrs, "cause", ve.Cause.Error())
	}
	return attrs
}
