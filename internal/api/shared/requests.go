package shared

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Shared validator instance, safe for concurrent use.
var validate = validator.New()

// DecodeJSON decodes the request body into the given struct.
func DecodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// DecodeAndValidate decodes the request body into v and validates it.
func DecodeAndValidate(r *http.Request, v interface{}) error {
	if err := DecodeJSON(r, v); err != nil {
		return err
	}
	return ValidateRequest(v)
}

// ValidateRequest validates the given struct using the validator package.
func ValidateRequest(v interface{}) error {
	if custom, ok := v.(interface{ Validate() error }); ok {
		return custom.Validate()
	}
	return validate.Struct(v)
}
