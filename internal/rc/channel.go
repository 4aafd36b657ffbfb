// Package rc decodes multi-channel radio receiver readings into
// application-level values. A Mapper assigns each channel a Category and
// converts raw readings according to that category's Mapping.
package rc

import "fmt"

// Category is the semantic kind of a channel. It decides which mapping rule
// applies and is assigned by a Layout, never inferred from readings.
type Category int

const (
	Joystick Category = iota
	Throttle
	Switch
	TriSwitch
	Knob
)

// Categories lists every category in declaration order.
var Categories = []Category{Joystick, Throttle, Switch, TriSwitch, Knob}

func (c Category) String() string {
	switch c {
	case Joystick:
		return "joystick"
	case Throttle:
		return "throttle"
	case Switch:
		return "switch"
	case TriSwitch:
		return "tri_switch"
	case Knob:
		return "knob"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ParseCategory is the inverse of Category.String.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown channel category %q", s)
}

// Arity is the number of output values a category's mapping carries.
func (c Category) Arity() int {
	if c == TriSwitch {
		return 3
	}
	return 2
}

func (c Category) valid() bool {
	return c >= Joystick && c <= Knob
}

// Range is the inclusive bound of raw receiver readings.
type Range struct {
	Min int
	Max int
}

// DefaultRange is the 1000..2000 microsecond range reported by FlySky
// receivers.
var DefaultRange = Range{Min: 1000, Max: 2000}

// Mid is the centre detent used by tri-state switches.
func (r Range) Mid() int {
	return (r.Min + r.Max) / 2
}

// Clamp bounds v to the range.
func (r Range) Clamp(v int) int {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Validate rejects empty or inverted ranges.
func (r Range) Validate() error {
	if r.Max <= r.Min {
		return fmt.Errorf("%w: raw range max %d must be greater than min %d", ErrConfiguration, r.Max, r.Min)
	}
	return nil
}

// Layout assigns a category to each channel index. len(Layout) is the
// channel count N.
type Layout []Category

// FlySky FS-i6X channel indices.
const (
	RightX = iota
	RightY
	LeftY
	LeftX
	SWA
	SWD
	SWB
	SWC
	VRA
	VRB

	FSi6XChannels
)

// FSi6X returns the ten-channel layout of a FlySky FS-i6X transmitter. The
// left stick's vertical axis is the throttle (it does not spring back to
// centre) and SWC is the only three-position switch.
func FSi6X() Layout {
	return Layout{
		RightX: Joystick,
		RightY: Joystick,
		LeftY:  Throttle,
		LeftX:  Joystick,
		SWA:    Switch,
		SWD:    Switch,
		SWB:    Switch,
		SWC:    TriSwitch,
		VRA:    Knob,
		VRB:    Knob,
	}
}

// Validate checks that every entry is a known category.
func (l Layout) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("%w: layout has no channels", ErrConfiguration)
	}
	for i, c := range l {
		if !c.valid() {
			return fmt.Errorf("%w: channel %d has unknown category %d", ErrConfiguration, i, int(c))
		}
	}
	return nil
}

// Find returns the first channel with the given category.
func (l Layout) Find(c Category) (int, bool) {
	for i, cat := range l {
		if cat == c {
			return i, true
		}
	}
	return 0, false
}
