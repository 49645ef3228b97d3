package redrive

import (
	"fmt"
	"strings"
)

// DefaultRequiredField is the field a record must carry to be valid.
const DefaultRequiredField = "value"

// ValidationResult is the outcome of validating one record.
type ValidationResult struct {
	Valid  bool
	Reason string
}

func Valid() ValidationResult {
	return ValidationResult{Valid: true}
}

func Invalid(reason string) ValidationResult {
	return ValidationResult{Valid: false, Reason: reason}
}

// Err returns nil for a valid result, otherwise a validation *Error.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return NewValidationError(r.Reason)
}

// Validator decides whether a record is valid. Implementations must be pure.
type Validator interface {
	Validate(Record) ValidationResult
}

type ValidatorFunc func(Record) ValidationResult

func (f ValidatorFunc) Validate(r Record) ValidationResult {
	return f(r)
}

// RequireField rejects records that are malformed or lack the named field.
func RequireField(name string) Validator {
	name = strings.TrimSpace(name)
	return ValidatorFunc(func(r Record) ValidationResult {
		if reason, bad := r.Malformed(); bad {
			return Invalid(errorMessageMalformed + reason)
		}
		if !r.Has(name) {
			return Invalid(errorMessageMissingField + name)
		}
		return Valid()
	})
}

// DefaultValidator requires the "value" field.
func DefaultValidator() Validator {
	return RequireField(DefaultRequiredField)
}

// AllOf applies validators in order and returns the first failure.
func AllOf(validators ...Validator) Validator {
	list := make([]Validator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			list = append(list, v)
		}
	}
	return ValidatorFunc(func(r Record) ValidationResult {
		for _, v := range list {
			if res := validate(v, r); !res.Valid {
				return res
			}
		}
		return Valid()
	})
}

// validate keeps validation total: a panicking validator yields an Invalid result.
func validate(v Validator, r Record) (res ValidationResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res = Invalid(fmt.Sprintf("validator panic: %v", rec))
		}
	}()
	res = v.Validate(r)
	if !res.Valid && strings.TrimSpace(res.Reason) == "" {
		res.Reason = "invalid record"
	}
	return res
}
