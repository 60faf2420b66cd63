package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertNotNil(t *testing.T) {
	t.Parallel()

	var missing *int
	assert.PanicsWithValue(t, "critical error: counter cannot be nil", func() {
		AssertNotNil(missing, "counter")
	})

	n := 1
	assert.NotPanics(t, func() { AssertNotNil(&n, "counter") })
}

func TestAssertProvided(t *testing.T) {
	t.Parallel()

	var ctx context.Context
	assert.PanicsWithValue(t, "critical error: context must be provided", func() {
		AssertProvided(ctx, "context")
	})
	assert.NotPanics(t, func() { AssertProvided(context.Background(), "context") })
}

func TestAssertNotEmpty(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "critical error: app key cannot be empty", func() {
		AssertNotEmpty("", "app key")
	})
	assert.NotPanics(t, func() { AssertNotEmpty("key", "app key") })
}
