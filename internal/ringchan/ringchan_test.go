package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_DropsOldestWhenFull(t *testing.T) {
	rc := New[int](3)

	for i := 1; i <= 5; i++ {
		rc.Send(i)
	}

	// Only the last three values survive
	assert.Equal(t, 3, rc.Len())
	assert.Equal(t, int64(5), rc.Sent())
	assert.Equal(t, int64(2), rc.Dropped())

	rc.Close()
	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)
}

func TestTrySend_FailsWhenFull(t *testing.T) {
	rc := New[string](1)

	require.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"))
	assert.Equal(t, int64(1), rc.Sent())
	assert.Equal(t, int64(0), rc.Dropped())
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
