package pid

import (
	"bytes"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type cells struct {
	input, output, setpoint float64
}

func (c *cells) binding() Binding {
	return BindCells(&c.input, &c.output, &c.setpoint)
}

func TestCalculate_ProportionalOnly(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		setpoint, input float64
		kP              float64
		want            float64
	}{
		{"inside range", 10, 4, 2, 12},
		{"negative error", 0, 30, 1.5, -45},
		{"clamped high", 100, 0, 5, 100},
		{"clamped low", -100, 100, 1, -100},
		{"zero error", 42, 42, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cells{input: tt.input, setpoint: tt.setpoint}
			pc := New(NewSequence(), c.binding(), Gains{P: tt.kP})
			pc.Calculate(t0)
			assert.InDelta(t, tt.want, c.output, 1e-9)
			assert.InDelta(t, tt.setpoint-tt.input, pc.Error(), 1e-9)
		})
	}
}

func TestCalculate_OutputRange(t *testing.T) {
	t.Parallel()
	c := &cells{input: 0, setpoint: 10}
	pc := New(NewSequence(), c.binding(), Gains{P: 1}, WithOutputRange(0, 5))
	pc.Calculate(t0)
	assert.Equal(t, 5.0, c.output)

	c.setpoint = -10
	pc.Calculate(t0.Add(time.Second))
	assert.Equal(t, 0.0, c.output)
}

func TestCalculate_IntegralAndDerivative(t *testing.T) {
	t.Parallel()
	c := &cells{input: 0, setpoint: 10}
	pc := New(NewSequence(), c.binding(), Gains{P: 0, I: 1, D: 1}, WithOutputRange(-1000, 1000))

	pc.Calculate(t0)
	assert.Equal(t, 0.0, pc.ErrorSum(), "first call has no elapsed time")
	assert.Equal(t, 0.0, pc.ErrorRate())

	c.input = 4 // error 6
	pc.Calculate(t0.Add(2 * time.Second))
	assert.InDelta(t, 12, pc.ErrorSum(), 1e-9)
	assert.InDelta(t, -2, pc.ErrorRate(), 1e-9)
	assert.InDelta(t, 10, c.output, 1e-9)

	// no time elapsed: rate is zero, not a division by zero
	pc.Calculate(t0.Add(2 * time.Second))
	assert.Equal(t, 0.0, pc.ErrorRate())
	assert.InDelta(t, 12, pc.ErrorSum(), 1e-9)
	assert.False(t, math.IsNaN(c.output))
}

func TestCalculate_ClockStartingAtZeroTime(t *testing.T) {
	t.Parallel()
	c := &cells{input: 4, setpoint: 10}
	pc := New(NewSequence(), c.binding(), Gains{I: 1})

	var epoch time.Time
	pc.Calculate(epoch)
	assert.Equal(t, 0.0, pc.ErrorSum())

	pc.Calculate(epoch.Add(time.Second))
	assert.InDelta(t, 6, pc.ErrorSum(), 1e-9, "second call integrates over the elapsed second")
	assert.InDelta(t, 0, pc.ErrorRate(), 1e-9)
}

func TestCalculate_IntegrationLimitResets(t *testing.T) {
	t.Parallel()
	c := &cells{input: 0, setpoint: 1}
	pc := New(NewSequence(), c.binding(), Gains{I: 1}, WithIntegrationLimit(5))

	pc.Calculate(t0)
	pc.Calculate(t0.Add(time.Second))
	pc.Calculate(t0.Add(2 * time.Second))
	require.InDelta(t, 2, pc.ErrorSum(), 1e-9)

	c.setpoint = 5 // |error| == limit
	pc.Calculate(t0.Add(3 * time.Second))
	assert.Equal(t, 0.0, pc.ErrorSum())

	c.setpoint = 50
	pc.SetIntegrationLimit(100)
	pc.Calculate(t0.Add(4 * time.Second))
	assert.InDelta(t, 50, pc.ErrorSum(), 1e-9)
}

func TestEStop_Latches(t *testing.T) {
	t.Parallel()
	c := &cells{input: 0, setpoint: 50}
	pc := New(NewSequence(), c.binding(), Gains{P: 1, I: 1})

	pc.Calculate(t0)
	pc.Calculate(t0.Add(time.Second))
	require.NotZero(t, c.output)
	sum, rate := pc.ErrorSum(), pc.ErrorRate()

	pc.EStop()
	assert.True(t, pc.Stopped())
	assert.Equal(t, 0.0, c.output)

	for i := 2; i < 20; i++ {
		c.setpoint = float64(i * 10)
		c.output = 99
		pc.Calculate(t0.Add(time.Duration(i) * time.Second))
		assert.Equal(t, 0.0, c.output)
	}
	assert.Equal(t, sum, pc.ErrorSum(), "stopped controller froze its state")
	assert.Equal(t, rate, pc.ErrorRate())
	assert.True(t, pc.Stopped())
}

func TestAtSetpoint_UsesSignedRate(t *testing.T) {
	t.Parallel()
	c := &cells{input: 0, setpoint: 100}
	pc := New(NewSequence(), c.binding(), Gains{P: 1})

	pc.Calculate(t0)
	// a large but constant error still counts as finished
	pc.Calculate(t0.Add(time.Second))
	assert.True(t, pc.AtSetpoint())

	c.setpoint = 200 // error grows by 100 per second
	pc.Calculate(t0.Add(2 * time.Second))
	assert.False(t, pc.AtSetpoint())
	assert.True(t, pc.AtSetpointWithin(100))

	pc.SetFinishedValue(150)
	assert.True(t, pc.AtSetpoint())
}

func TestSequence_IDs(t *testing.T) {
	t.Parallel()
	seq := NewSequence()
	var c cells
	for i := int64(1); i <= 5; i++ {
		pc := New(seq, c.binding(), Gains{})
		assert.Equal(t, i, pc.ID())
	}

	other := NewSequence()
	assert.Equal(t, int64(1), New(other, c.binding(), Gains{}).ID())
}

func TestSequence_Concurrent(t *testing.T) {
	t.Parallel()
	seq := NewSequence()
	const workers, per = 8, 100

	ids := make(chan int64, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				ids <- seq.Next()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*per)
	for i := int64(1); i <= workers*per; i++ {
		assert.True(t, seen[i], "missing id %d", i)
	}
}

func TestBinding_Callbacks(t *testing.T) {
	t.Parallel()
	var written []float64
	b := Binding{
		Input:    func() float64 { return 1 },
		Setpoint: func() float64 { return 3 },
		Output:   func(v float64) { written = append(written, v) },
	}
	pc := New(NewSequence(), b, Gains{P: 10})
	pc.Calculate(t0)
	pc.EStop()
	assert.Equal(t, []float64{20, 0}, written)
}

func TestTeleplotDisplay(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := &cells{input: 2, setpoint: 5}
	pc := New(NewSequence(), c.binding(), Gains{P: 2, I: 0.5, D: 0.1}, WithDisplay(TeleplotDisplay{W: &buf}))

	pc.Calculate(t0)
	want := ">Setpoint:5.00\n>Error:6.00\n>Error Sum:0.00\n>Error Rate:0.00\n>Current Position:2.00\n"
	assert.Equal(t, want, buf.String())

	buf.Reset()
	pc.DisableDisplay()
	pc.Calculate(t0.Add(time.Second))
	assert.Empty(t, buf.String())

	// display keeps running after a stop
	pc.EnableDisplay(nil)
	pc.EStop()
	pc.Calculate(t0.Add(2 * time.Second))
	assert.Contains(t, buf.String(), ">Setpoint:5.00\n")
}

func TestDisplayFunc(t *testing.T) {
	t.Parallel()
	var got []Terms
	c := &cells{input: 1, setpoint: 2}
	pc := New(NewSequence(), c.binding(), Gains{P: 1})
	pc.EnableDisplay(DisplayFunc(func(t Terms) { got = append(got, t) }))
	pc.Calculate(t0)

	require.Len(t, got, 1)
	assert.Equal(t, Terms{ID: 1, Setpoint: 2, Error: 1, Input: 1, Output: 1}, got[0])
}
