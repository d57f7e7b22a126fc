package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsAreClassifiable(t *testing.T) {
	cause := errors.New("connection refused")

	err := fmt.Errorf("list products: %w", Persistence("query products", cause))

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "list products: query products: connection refused", err.Error())
}

func TestPersistenceNil(t *testing.T) {
	assert.NoError(t, Persistence("noop", nil))
}

func TestNotFoundMessage(t *testing.T) {
	err := NotFound("product", "p-1")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, `product "p-1": not found`, err.Error())
}

func TestConstructors(t *testing.T) {
	assert.ErrorIs(t, Compute("threshold for %s", "p-1"), ErrCompute)
	assert.ErrorIs(t, Conflict("run in progress"), ErrConflict)
	assert.ErrorIs(t, Invalid("bad action"), ErrInvalid)
	assert.ErrorIs(t, Forbidden("not a retailer"), ErrForbidden)
}
