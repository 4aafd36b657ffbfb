package telemetry

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderChart writes an HTML line chart of a run's command and motor
// output, plus setpoint and position when the run used the PID stage.
func RenderChart(w io.Writer, runID string, samples []Sample) error {
	x := make([]string, len(samples))
	command := make([]opts.LineData, len(samples))
	motor := make([]opts.LineData, len(samples))
	var setpoint, position []opts.LineData

	for i, s := range samples {
		x[i] = strconv.FormatFloat(float64(s.TMillis)/1000, 'f', 2, 64)
		command[i] = opts.LineData{Value: s.Command}
		motor[i] = opts.LineData{Value: s.Motor}
		if s.Setpoint != nil && s.Position != nil {
			setpoint = append(setpoint, opts.LineData{Value: *s.Setpoint})
			position = append(position, opts.LineData{Value: *s.Position})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "rcdrive telemetry", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Motor output", Subtitle: fmt.Sprintf("run=%s samples=%d", runID, len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "angle", Min: 0, Max: 180}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).
		AddSeries("command", command).
		AddSeries("motor", motor, charts.WithLineChartOpts(opts.LineChart{Step: "end"}))
	if len(setpoint) == len(samples) && len(samples) > 0 {
		line.AddSeries("setpoint", setpoint).
			AddSeries("position", position, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	}

	return line.Render(w)
}
