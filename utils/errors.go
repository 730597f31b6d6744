package utils

import "github.com/pkg/errors"

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError[ExpectedT any](actual interface{}) error {
	var expected ExpectedT
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewConfigValidationFieldRequiredError is used when a required config field is empty.
func NewConfigValidationFieldRequiredError(path, field string) error {
	return NewConfigValidationError(path, errors.Errorf("%q is required", field))
}

// NewConfigValidationError returns an error specifying a config validation error at the given path.
func NewConfigValidationError(path string, err error) error {
	if path == "" {
		return errors.Wrap(err, "error validating")
	}
	return errors.Wrapf(err, "error validating %q", path)
}
