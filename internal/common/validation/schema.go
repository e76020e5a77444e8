// internal/common/validation/schema.go
package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationResult reports the outcome of validating a JSON document.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Schema wraps a compiled JSON schema.
type Schema struct {
	schema *gojsonschema.Schema
}

// CompileSchema compiles a JSON schema document once; the result is safe for
// concurrent use.
func CompileSchema(schemaJSON string) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{schema: compiled}, nil
}

// ValidateBytes validates a raw JSON document against the schema.
func (s *Schema) ValidateBytes(doc []byte) (*ValidationResult, error) {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate document: %w", err)
	}
	return convertResult(result), nil
}

// ValidateMap validates an already-decoded document against the schema.
func (s *Schema) ValidateMap(doc map[string]interface{}) (*ValidationResult, error) {
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate document: %w", err)
	}
	return convertResult(result), nil
}

func convertResult(result *gojsonschema.Result) *ValidationResult {
	if result.Valid() {
		return &ValidationResult{Valid: true}
	}

	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		errs = append(errs, ValidationError{
			Field:   re.Field(),
			Message: re.Description(),
		})
	}
	return &ValidationResult{Valid: false, Errors: errs}
}

// ErrorSummary flattens validation errors into one string for logging.
func (r *ValidationResult) ErrorSummary() string {
	if r.Valid {
		return ""
	}
	summary := ""
	for i, e := range r.Errors {
		if i > 0 {
			summary += "; "
		}
		summary += fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return summary
}
