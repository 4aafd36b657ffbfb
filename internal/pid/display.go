package pid

import (
	"fmt"
	"io"
)

// Terms is one iteration's diagnostic view of a controller.
type Terms struct {
	ID        int64
	Setpoint  float64
	Error     float64
	ErrorSum  float64
	ErrorRate float64
	Input     float64
	Output    float64
	Stopped   bool
}

// Display receives the terms after every Calculate while enabled.
type Display interface {
	Display(Terms)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(Terms)

func (f DisplayFunc) Display(t Terms) { f(t) }

// TeleplotDisplay writes ">name:value" lines understood by the Teleplot
// serial plotter.
type TeleplotDisplay struct {
	W io.Writer
}

func (d TeleplotDisplay) Display(t Terms) {
	fmt.Fprintf(d.W, ">Setpoint:%.2f\n", t.Setpoint)
	fmt.Fprintf(d.W, ">Error:%.2f\n", t.Error)
	fmt.Fprintf(d.W, ">Error Sum:%.2f\n", t.ErrorSum)
	fmt.Fprintf(d.W, ">Error Rate:%.2f\n", t.ErrorRate)
	fmt.Fprintf(d.W, ">Current Position:%.2f\n", t.Input)
}
