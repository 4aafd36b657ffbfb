package rc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSource_RefreshPublishes(t *testing.T) {
	t.Parallel()
	src := NewStaticSource(3, DefaultRange)

	require.NoError(t, src.Set(1, 1800))
	v, err := src.Read(1)
	require.NoError(t, err)
	assert.Equal(t, 1000, v, "staged value visible before Refresh")

	require.NoError(t, src.Refresh())
	v, err = src.Read(1)
	require.NoError(t, err)
	assert.Equal(t, 1800, v)
}

func TestStaticSource_ReadIsBounded(t *testing.T) {
	t.Parallel()
	src := NewStaticSource(2, DefaultRange)
	require.NoError(t, src.Set(0, 2500))
	require.NoError(t, src.Set(1, 10))
	require.NoError(t, src.Refresh())

	hi, _ := src.Read(0)
	lo, _ := src.Read(1)
	assert.Equal(t, 2000, hi)
	assert.Equal(t, 1000, lo)

	_, err := src.Read(2)
	assert.ErrorIs(t, err, ErrInvalidChannel)
	assert.ErrorIs(t, src.Set(-1, 1500), ErrInvalidChannel)
}

type failingSource struct{}

func (failingSource) Refresh() error         { return errors.New("no link") }
func (failingSource) Read(int) (int, error) { return 0, nil }

func TestCapture(t *testing.T) {
	t.Parallel()
	src := NewStaticSource(4, DefaultRange)
	require.NoError(t, src.Set(2, 1500))

	s, err := Capture(src, 4)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{1000, 1000, 1500, 1000}, s)

	// later changes do not leak into an existing snapshot
	require.NoError(t, src.Set(2, 2000))
	_, err = Capture(src, 4)
	require.NoError(t, err)
	assert.Equal(t, 1500, s[2])

	_, err = Capture(src, 5)
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = Capture(failingSource{}, 1)
	assert.EqualError(t, err, "refresh channels: no link")
}

func TestSnapshot_Clone(t *testing.T) {
	t.Parallel()
	s := Snapshot{1, 2}
	c := s.Clone()
	c[0] = 9
	assert.Equal(t, 1, s[0])
}
