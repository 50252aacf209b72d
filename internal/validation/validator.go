// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

// Package validation holds the shared go-playground/validator instance and the
// custom rules used across configuration, the data model and HTTP input.
//
// Custom tags:
//   - entityid: device or sensor identifier, [a-zA-Z0-9_:-]+, at most 32 characters
//   - sensortype: a member of the closed sensor taxonomy
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/openaurae/openaurae/internal/schema"
)

// MaxEntityIDLength bounds device and sensor identifiers.
const MaxEntityIDLength = 32

var entityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is one failed rule.
type FieldError struct {
	field   string
	tag     string
	param   string
	message string
}

// Field returns the struct field name.
func (e *FieldError) Field() string { return e.field }

// Tag returns the failing rule.
func (e *FieldError) Tag() string { return e.tag }

// Param returns the rule parameter ("32" for max=32).
func (e *FieldError) Param() string { return e.param }

func (e *FieldError) Error() string { return e.message }

// Error collects every failed rule of one ValidateStruct call.
type Error struct {
	errors []FieldError
}

// Errors returns the individual failures.
func (ve *Error) Errors() []FieldError {
	return ve.errors
}

func (ve *Error) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(ve.errors))
	for i := range ve.errors {
		msgs[i] = ve.errors[i].message
	}
	return strings.Join(msgs, "; ")
}

// GetValidator returns the process-wide validator with custom rules registered.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("entityid", func(fl validator.FieldLevel) bool {
			return IsEntityID(fl.Field().String())
		})
		_ = validate.RegisterValidation("sensortype", func(fl validator.FieldLevel) bool {
			return schema.SensorType(fl.Field().String()).IsValid()
		})
	})
	return validate
}

// IsEntityID reports whether s is a usable device or sensor identifier.
func IsEntityID(s string) bool {
	return len(s) <= MaxEntityIDLength && entityIDPattern.MatchString(s)
}

// ValidateStruct validates s. The returned error is nil or an *Error.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{errors: []FieldError{{field: "unknown", tag: "unknown", message: err.Error()}}}
	}

	out := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		out[i] = FieldError{
			field:   fe.Namespace(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			message: translate(fe),
		}
	}
	return &Error{errors: out}
}

var messages = map[string]string{
	"required":      "%s is required",
	"url":           "%s must be a valid URL",
	"entityid":      "%s must match [a-zA-Z0-9_:-] and be at most 32 characters",
	"sensortype":    "%s must be a known sensor type",
	"latitude":      "%s must be a valid latitude (-90 to 90)",
	"longitude":     "%s must be a valid longitude (-180 to 180)",
	"hostname_port": "%s must be host:port",
}

var messagesWithParam = map[string]string{
	"oneof":       "%s must be one of: %s",
	"gte":         "%s must be greater than or equal to %s",
	"lte":         "%s must be less than or equal to %s",
	"gt":          "%s must be greater than %s",
	"required_if": "%s is required when %s",
}

func translate(fe validator.FieldError) string {
	field := fe.Namespace()
	if tmpl, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := messagesWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field, fe.Param())
	}

	isString := fe.Kind().String() == "string"
	switch fe.Tag() {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
