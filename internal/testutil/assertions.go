// Package testutil provides shared test helpers for flowloom.
package testutil

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

// AssertEqual asserts that two values are equal.
func AssertEqual(t *testing.T, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		msg := formatMessage("Expected values to be equal", msgAndArgs...)
		t.Errorf("%s\nExpected: %v\nActual: %v", msg, expected, actual)
	}
}

// AssertNotEqual asserts that two values are not equal.
func AssertNotEqual(t *testing.T, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	if reflect.DeepEqual(expected, actual) {
		msg := formatMessage("Expected values to be different", msgAndArgs...)
		t.Errorf("%s\nBoth values: %v", msg, actual)
	}
}

// AssertNil asserts that a value is nil.
func AssertNil(t *testing.T, value any, msgAndArgs ...any) {
	t.Helper()
	if !isNil(value) {
		msg := formatMessage("Expected nil", msgAndArgs...)
		t.Errorf("%s\nActual: %v", msg, value)
	}
}

// AssertNotNil asserts that a value is not nil.
func AssertNotNil(t *testing.T, value any, msgAndArgs ...any) {
	t.Helper()
	if isNil(value) {
		msg := formatMessage("Expected non-nil value", msgAndArgs...)
		t.Errorf("%s", msg)
	}
}

// AssertError asserts that an error is not nil.
func AssertError(t *testing.T, err error, msgAndArgs ...any) {
	t.Helper()
	if err == nil {
		msg := formatMessage("Expected an error", msgAndArgs...)
		t.Errorf("%s", msg)
	}
}

// AssertNoError asserts that an error is nil.
func AssertNoError(t *testing.T, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		msg := formatMessage("Expected no error", msgAndArgs...)
		t.Errorf("%s\nError: %v", msg, err)
	}
}

// AssertErrorContains asserts that an error contains a substring.
func AssertErrorContains(t *testing.T, err error, substring string, msgAndArgs ...any) {
	t.Helper()
	if err == nil {
		msg := formatMessage("Expected an error containing "+substring, msgAndArgs...)
		t.Errorf("%s\nGot: nil", msg)
		return
	}
	if !strings.Contains(err.Error(), substring) {
		msg := formatMessage("Expected error to contain substring", msgAndArgs...)
		t.Errorf("%s\nSubstring: %q\nError: %v", msg, substring, err)
	}
}

// AssertTrue asserts that a value is true.
func AssertTrue(t *testing.T, value bool, msgAndArgs ...any) {
	t.Helper()
	if !value {
		msg := formatMessage("Expected true", msgAndArgs...)
		t.Errorf("%s", msg)
	}
}

// AssertFalse asserts that a value is false.
func AssertFalse(t *testing.T, value bool, msgAndArgs ...any) {
	t.Helper()
	if value {
		msg := formatMessage("Expected false", msgAndArgs...)
		t.Errorf("%s", msg)
	}
}

// AssertContains asserts that a string contains a substring.
func AssertContains(t *testing.T, haystack, needle string, msgAndArgs ...any) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		msg := formatMessage("Expected string to contain substring", msgAndArgs...)
		t.Errorf("%s\nSubstring: %q\nString: %q", msg, needle, haystack)
	}
}

// AssertLen asserts that a slice, map, or string has the expected length.
func AssertLen(t *testing.T, value any, length int, msgAndArgs ...any) {
	t.Helper()
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.String, reflect.Array, reflect.Chan:
		if v.Len() != length {
			msg := formatMessage("Unexpected length", msgAndArgs...)
			t.Errorf("%s\nExpected length: %d\nActual length: %d\nValue: %v", msg, length, v.Len(), value)
		}
	default:
		t.Errorf("AssertLen: unsupported type %T", value)
	}
}

// formatMessage builds an assertion message from a default and optional args.
func formatMessage(defaultMsg string, msgAndArgs ...any) string {
	if len(msgAndArgs) == 0 {
		return defaultMsg
	}
	if format, ok := msgAndArgs[0].(string); ok && len(msgAndArgs) > 1 {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}

// isNil reports whether a value is nil, including typed nils.
func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	}
	return false
}
