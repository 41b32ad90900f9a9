package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderCarriesMetadata(t *testing.T) {
	t.Parallel()

	err := Newf("unit %s not found", "robot-01").
		Component("datastore").
		Category(CategoryNotFound).
		Context("unit_id", "robot-01").
		Build()

	require.Error(t, err)
	assert.Equal(t, "unit robot-01 not found", err.Error())
	assert.Equal(t, CategoryNotFound, CategoryOf(err))
	assert.True(t, HasCategory(err, CategoryNotFound))
	assert.False(t, HasCategory(err, CategoryValidation))

	var ee *EnhancedError
	require.True(t, As(err, &ee))
	assert.Equal(t, "datastore", ee.Component)
	assert.Equal(t, "robot-01", ee.GetContext()["unit_id"])
}

func TestCategorySurvivesWrapping(t *testing.T) {
	t.Parallel()

	inner := Newf("duplicate key").Category(CategoryConflict).Build()
	wrapped := fmt.Errorf("upsert failed: %w", inner)

	assert.Equal(t, CategoryConflict, CategoryOf(wrapped))
}

func TestIsMatchesWrappedSentinelOnly(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("unit already exists")
	enhanced := New(fmt.Errorf("create unit: %w", sentinel)).
		Category(CategoryValidation).
		Build()

	assert.True(t, Is(enhanced, sentinel))

	// Sharing a category must not make unrelated errors equal.
	other := Newf("timestamp out of range").Category(CategoryValidation).Build()
	assert.False(t, Is(enhanced, other))
	assert.False(t, Is(other, enhanced))
	assert.True(t, HasCategory(other, CategoryValidation))
}

func TestUncategorizedDefaultsToGeneric(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CategoryGeneric, CategoryOf(NewStd("plain")))
	assert.Equal(t, CategoryGeneric, CategoryOf(Newf("built plain").Build()))
}

func TestBuildNilErrorReturnsNil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, New(nil).Category(CategoryDatabase).Build())
}
