package id

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	ids := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		ids = append(ids, New())
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestAtRoundTripsTime(t *testing.T) {
	ts := time.Date(2024, 3, 4, 5, 6, 7, 8_000_000, time.UTC)

	got, err := Time(At(ts))
	require.NoError(t, err)
	assert.True(t, got.Equal(ts), "got %s want %s", got, ts)
}

func TestTimeRejectsGarbage(t *testing.T) {
	_, err := Time("not-a-ulid")
	assert.Error(t, err)
}
