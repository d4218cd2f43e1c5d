package dberrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert pago: %w", &pq.Error{Code: "23505", Constraint: "uq_pago_inscripcion"})

	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "uq_pago_inscripcion"))
	assert.False(t, IsUniqueViolation(err, "uq_inscripcion_usuario_evento"))
	assert.False(t, IsForeignKeyViolation(err, ""))
}

func TestIsForeignKeyViolation(t *testing.T) {
	err := &pq.Error{Code: "23503", Constraint: "fk_pago_forma_pago"}
	assert.True(t, IsForeignKeyViolation(err, "fk_pago_forma_pago"))
	assert.False(t, IsValueTooLong(err))
}

func TestPlainErrorsNeverMatch(t *testing.T) {
	err := errors.New("23505")
	assert.False(t, IsUniqueViolation(err, ""))
	assert.False(t, IsValueTooLong(nil))
}
