// Package dberrors decodes PostgreSQL constraint failures raised through lib/pq.
package dberrors

import (
	"errors"

	"github.com/lib/pq"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeStringTooLong       = "22001"
)

// IsUniqueViolation reports a unique_violation, optionally for a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	return matches(err, codeUniqueViolation, constraint)
}

// IsForeignKeyViolation reports a foreign_key_violation, optionally for a specific constraint.
func IsForeignKeyViolation(err error, constraint string) bool {
	return matches(err, codeForeignKeyViolation, constraint)
}

// IsValueTooLong reports a string_data_right_truncation.
func IsValueTooLong(err error) bool {
	return matches(err, codeStringTooLong, "")
}

func matches(err error, code, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if string(pqErr.Code) != code {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
