package ibus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rcdrive/internal/monitoring"
	"github.com/banshee-data/rcdrive/internal/rc"
	"github.com/banshee-data/rcdrive/internal/serialport"
	"github.com/banshee-data/rcdrive/internal/timeutil"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func init() {
	monitoring.SetLogger(nil)
}

func newTestReceiver(t *testing.T, port *serialport.TestablePort, clock timeutil.Clock, failsafe ...int) *Receiver {
	t.Helper()
	r, err := NewReceiver(port, ReceiverConfig{
		Channels:        10,
		Range:           rc.DefaultRange,
		FailsafeTimeout: 500 * time.Millisecond,
		Failsafe:        failsafe,
		Clock:           clock,
	})
	require.NoError(t, err)
	return r
}

func readAll(t *testing.T, r *Receiver) []int {
	t.Helper()
	s, err := rc.Capture(r, 10)
	require.NoError(t, err)
	return s
}

func TestReceiver_MonitorDecodesFrames(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	port := serialport.NewTestablePort()
	r := newTestReceiver(t, port, clock)

	f := sampleFrame()
	b := Encode(f)
	port.AddReadData(b[:])
	port.EOF()

	require.NoError(t, r.Monitor(context.Background()))

	got := readAll(t, r)
	assert.False(t, r.Failsafe())
	for i := 0; i < 10; i++ {
		assert.Equal(t, int(f[i]), got[i], "channel %d", i)
	}
}

func TestReceiver_FailsafeBeforeFirstFrame(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	r := newTestReceiver(t, serialport.NewTestablePort(), clock, 1500, 1500, 1000)

	got := readAll(t, r)
	assert.True(t, r.Failsafe())
	assert.Equal(t, []int{1500, 1500, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000}, got)
}

func TestReceiver_FailsafeAfterTimeout(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	r := newTestReceiver(t, serialport.NewTestablePort(), clock)

	var f Frame
	for i := range f {
		f[i] = 2000
	}
	b := Encode(f)
	_, err := r.Write(b[:])
	require.NoError(t, err)

	clock.Advance(400 * time.Millisecond)
	assert.Equal(t, 2000, readAll(t, r)[5])
	assert.False(t, r.Failsafe())

	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, 1000, readAll(t, r)[5], "switch reads off after link loss")
	assert.True(t, r.Failsafe())

	_, err = r.Write(b[:])
	require.NoError(t, err)
	assert.Equal(t, 2000, readAll(t, r)[5])
}

func TestReceiver_ReadClampsAndValidates(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	r := newTestReceiver(t, serialport.NewTestablePort(), clock)

	var f Frame
	f[0], f[1] = 900, 2100
	b := Encode(f)
	_, _ = r.Write(b[:])
	require.NoError(t, r.Refresh())

	lo, err := r.Read(0)
	require.NoError(t, err)
	hi, err := r.Read(1)
	require.NoError(t, err)
	assert.Equal(t, 1000, lo)
	assert.Equal(t, 2000, hi)

	_, err = r.Read(10)
	assert.ErrorIs(t, err, rc.ErrInvalidChannel)
}

func TestReceiver_RefreshSnapshotsLatest(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	r := newTestReceiver(t, serialport.NewTestablePort(), clock)

	f := sampleFrame()
	b := Encode(f)
	_, _ = r.Write(b[:])
	require.NoError(t, r.Refresh())

	f[3] = 1234
	b = Encode(f)
	_, _ = r.Write(b[:])

	v, _ := r.Read(3)
	assert.Equal(t, int(sampleFrame()[3]), v, "new frame not visible until Refresh")
	require.NoError(t, r.Refresh())
	v, _ = r.Read(3)
	assert.Equal(t, 1234, v)
}

func TestReceiver_MonitorErrors(t *testing.T) {
	port := serialport.NewTestablePort()
	r := newTestReceiver(t, port, timeutil.NewMockClock(t0))

	boom := errors.New("framing error")
	port.FailNextRead(boom)
	err := r.Monitor(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestReceiver_MonitorCancel(t *testing.T) {
	port := serialport.NewTestablePort()
	defer port.Close()
	r := newTestReceiver(t, port, timeutil.NewMockClock(t0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Monitor(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestNewReceiver_Validation(t *testing.T) {
	_, err := NewReceiver(serialport.NewTestablePort(), ReceiverConfig{Channels: 15, Range: rc.DefaultRange})
	assert.ErrorIs(t, err, rc.ErrConfiguration)

	_, err = NewReceiver(serialport.NewTestablePort(), ReceiverConfig{Channels: 2, Range: rc.DefaultRange, Failsafe: []int{1, 2, 3}})
	assert.ErrorIs(t, err, rc.ErrConfiguration)

	_, err = NewReceiver(serialport.NewTestablePort(), ReceiverConfig{Channels: 2, Range: rc.Range{Min: 5, Max: 5}})
	assert.ErrorIs(t, err, rc.ErrConfiguration)
}
