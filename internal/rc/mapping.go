package rc

// Mapping is the per-category output configuration. It is one of TwoPoint or
// ThreePoint.
type Mapping interface {
	arity() int
	values() []int
}

// TwoPoint maps continuous channels onto [Low, High] and binary switches onto
// Low (raw minimum) or High (anything else).
type TwoPoint struct {
	Low  int
	High int
}

func (TwoPoint) arity() int      { return 2 }
func (m TwoPoint) values() []int { return []int{m.Low, m.High} }

// ThreePoint maps the three detents of a tri-state switch.
type ThreePoint struct {
	Low  int
	Mid  int
	High int
}

func (ThreePoint) arity() int      { return 3 }
func (m ThreePoint) values() []int { return []int{m.Low, m.Mid, m.High} }

// MappingValues returns the mapping as a plain slice, in Low[, Mid], High
// order.
func MappingValues(m Mapping) []int {
	return m.values()
}

// mappingFromValues builds the variant matching the category's arity.
func mappingFromValues(c Category, vals []int) (Mapping, error) {
	if len(vals) != c.Arity() {
		return nil, &ConfigurationError{Category: c, Want: c.Arity(), Got: len(vals)}
	}
	if c.Arity() == 3 {
		return ThreePoint{Low: vals[0], Mid: vals[1], High: vals[2]}, nil
	}
	return TwoPoint{Low: vals[0], High: vals[1]}, nil
}

// DefaultMappings returns the servo-angle defaults a new Mapper starts with:
// 0..180 for every two-point category and {0, 90, 180} for the tri-state
// switch.
func DefaultMappings() map[Category]Mapping {
	return map[Category]Mapping{
		Joystick:  TwoPoint{Low: 0, High: 180},
		Throttle:  TwoPoint{Low: 0, High: 180},
		Switch:    TwoPoint{Low: 0, High: 180},
		TriSwitch: ThreePoint{Low: 0, Mid: 90, High: 180},
		Knob:      TwoPoint{Low: 0, High: 180},
	}
}
