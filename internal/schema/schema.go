// Package schema validates parsed model output against a caller-supplied
// JSON schema. Every violation is collected, not just the first, so the
// caller sees the full list of offending paths in one error.
package schema

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mpontes/llm-gateway/internal/domain"
)

// Violation is one schema failure at a specific path in the payload.
type Violation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Validate checks payload against the schema document. A malformed schema is
// the caller's fault (INVALID_REQUEST); a non-conforming payload is a
// model-output problem (SCHEMA_VALIDATION_FAILED), never retried.
func Validate(payload any, schemaDoc json.RawMessage) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaDoc),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return domain.NewError(domain.CodeInvalidRequest, false, "output schema is not a valid JSON schema: %v", err)
	}

	if result.Valid() {
		return nil
	}

	violations := make([]Violation, 0, len(result.Errors()))
	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		v := Violation{Path: re.Field(), Reason: re.Description()}
		violations = append(violations, v)
		msgs = append(msgs, v.Path+": "+v.Reason)
	}

	return domain.NewError(domain.CodeSchemaValidation, false,
		"model output violates the response schema: %s", strings.Join(msgs, "; ")).
		WithDetails(map[string]any{
			"violations": violations,
			"payload":    payload,
		})
}
