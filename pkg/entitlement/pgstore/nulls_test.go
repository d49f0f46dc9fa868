package pgstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrefixed(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "e.id, e.name, e.total_ordering", prefixed("e", "id, name,\n\ttotal_ordering"))
}

func TestNullable(t *testing.T) {
	t.Parallel()

	assert.Nil(t, nullString(""))
	assert.Equal(t, "x", deref(nullString("x")))
	assert.Empty(t, deref(nil))

	assert.Nil(t, utcPtr(nil))
	local := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	got := utcPtr(&local)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(local))
}
