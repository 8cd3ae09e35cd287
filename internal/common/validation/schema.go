package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "reconciliation-engine/internal/common/errors"
)

// FieldError is one schema violation, addressed by its JSON path.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// Err converts a failed result into a Validation error; nil when valid.
func (r *Result) Err() error {
	if r == nil || r.Valid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, fe := range r.Errors {
		msgs[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return apperrors.NewValidationError("input failed schema validation", strings.Join(msgs, "; "))
}

// Validator holds a compiled JSON schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles a schema given as a Go value (map, struct) or a JSON string.
func NewValidator(schema interface{}) (*Validator, error) {
	var loader gojsonschema.JSONLoader
	switch s := schema.(type) {
	case string:
		loader = gojsonschema.NewStringLoader(s)
	case []byte:
		loader = gojsonschema.NewBytesLoader(s)
	default:
		loader = gojsonschema.NewGoLoader(s)
	}

	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// MustValidator panics on an invalid schema; meant for package-level schema literals.
func MustValidator(schema interface{}) *Validator {
	v, err := NewValidator(schema)
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateJSON validates a raw JSON document such as a Zeebe job's variables.
func (v *Validator) ValidateJSON(document string) (*Result, error) {
	return v.validate(gojsonschema.NewStringLoader(document))
}

// ValidateValue validates a Go value through its JSON encoding.
func (v *Validator) ValidateValue(document interface{}) (*Result, error) {
	return v.validate(gojsonschema.NewGoLoader(document))
}

func (v *Validator) validate(doc gojsonschema.JSONLoader) (*Result, error) {
	res, err := v.schema.Validate(doc)
	if err != nil {
		return nil, apperrors.NewValidationError("document is not valid JSON", err.Error())
	}

	out := &Result{Valid: res.Valid()}
	for _, desc := range res.Errors() {
		out.Errors = append(out.Errors, FieldError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    desc.Type(),
		})
	}
	return out, nil
}
