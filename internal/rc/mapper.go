package rc

import (
	"fmt"
	"strconv"
	"strings"
)

// Mapper converts raw channel readings into application values using the
// channel's category. It owns its mappings exclusively and has no internal
// locking; configure it before the control loop starts.
type Mapper struct {
	layout   Layout
	raw      Range
	mappings map[Category]Mapping
}

// NewMapper returns a Mapper for the given layout and raw range, seeded with
// DefaultMappings.
func NewMapper(layout Layout, raw Range) (*Mapper, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	l := make(Layout, len(layout))
	copy(l, layout)
	return &Mapper{
		layout:   l,
		raw:      raw,
		mappings: DefaultMappings(),
	}, nil
}

// Channels returns N, the number of channels in the layout.
func (m *Mapper) Channels() int {
	return len(m.layout)
}

// Range returns the raw reading range.
func (m *Mapper) Range() Range {
	return m.raw
}

// Category returns the category assigned to a channel.
func (m *Mapper) Category(ch int) (Category, error) {
	if ch < 0 || ch >= len(m.layout) {
		return 0, channelError(ch, len(m.layout))
	}
	return m.layout[ch], nil
}

// Mapping returns the current mapping for a category.
func (m *Mapper) Mapping(c Category) Mapping {
	return m.mappings[c]
}

// SetMapping replaces the mapping for one category. The variant must match
// the category: ThreePoint for TriSwitch, TwoPoint for everything else.
func (m *Mapper) SetMapping(c Category, mapping Mapping) error {
	if !c.valid() {
		return fmt.Errorf("%w: unknown category %d", ErrConfiguration, int(c))
	}
	if mapping == nil {
		return &ConfigurationError{Category: c, Want: c.Arity(), Got: 0}
	}
	if mapping.arity() != c.Arity() {
		return &ConfigurationError{Category: c, Want: c.Arity(), Got: mapping.arity()}
	}
	m.mappings[c] = mapping
	return nil
}

// SetMappingValues is SetMapping for untyped input such as a config file.
// The slice length must equal the category's arity.
func (m *Mapper) SetMappingValues(c Category, vals []int) error {
	if !c.valid() {
		return fmt.Errorf("%w: unknown category %d", ErrConfiguration, int(c))
	}
	mapping, err := mappingFromValues(c, vals)
	if err != nil {
		return err
	}
	m.mappings[c] = mapping
	return nil
}

// MapValue maps a raw reading for a channel according to its category.
//
// Continuous categories use the integer two-point linear map and
// extrapolate outside the raw range. Switches compare against the raw
// minimum (and for TriSwitch the raw midpoint) with exact equality: the
// receiver reports quantised detent values, so there is no tolerance band.
func (m *Mapper) MapValue(ch int, raw int) (int, error) {
	c, err := m.Category(ch)
	if err != nil {
		return 0, err
	}

	switch mp := m.mappings[c].(type) {
	case ThreePoint:
		switch raw {
		case m.raw.Min:
			return mp.Low, nil
		case m.raw.Mid():
			return mp.Mid, nil
		default:
			return mp.High, nil
		}
	case TwoPoint:
		if c == Switch {
			if raw == m.raw.Min {
				return mp.Low, nil
			}
			return mp.High, nil
		}
		return Linear(raw, m.raw.Min, m.raw.Max, mp.Low, mp.High), nil
	default:
		return 0, fmt.Errorf("%w: no mapping for %s", ErrConfiguration, c)
	}
}

// Value returns a channel from the snapshot, mapped when mapped is true and
// raw otherwise.
func (m *Mapper) Value(s Snapshot, ch int, mapped bool) (int, error) {
	raw, err := s.Raw(ch)
	if err != nil {
		return 0, err
	}
	if !mapped {
		return raw, nil
	}
	return m.MapValue(ch, raw)
}

// Throttle returns the layout's throttle channel.
func (m *Mapper) Throttle(s Snapshot, mapped bool) (int, error) {
	ch, ok := m.layout.Find(Throttle)
	if !ok {
		return 0, fmt.Errorf("%w: layout has no throttle channel", ErrConfiguration)
	}
	return m.Value(s, ch, mapped)
}

// MapToBoolean treats any channel as a two-state signal: false iff the raw
// value is the range minimum. A tri-state switch's middle and high detents
// are both true.
func (m *Mapper) MapToBoolean(raw int) bool {
	return raw != m.raw.Min
}

// Bool reads a channel from the snapshot through MapToBoolean.
func (m *Mapper) Bool(s Snapshot, ch int) (bool, error) {
	return Convert(s, ch, m.MapToBoolean)
}

// FormatChannels renders every channel on one line, e.g.
// "Ch[1] - 1500\t| Ch[2] - 1000".
func (m *Mapper) FormatChannels(s Snapshot, mapped bool) string {
	var b strings.Builder
	for i := range s {
		v, err := m.Value(s, i, mapped)
		b.WriteString("Ch[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] - ")
		if err != nil {
			b.WriteString("?")
		} else {
			b.WriteString(strconv.Itoa(v))
		}
		if i < len(s)-1 {
			b.WriteString("\t| ")
		}
	}
	return b.String()
}

// Linear is the integer two-point map of v from [inMin, inMax] onto
// [outMin, outMax]. Division truncates toward zero.
func Linear(v, inMin, inMax, outMin, outMax int) int {
	return (v-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

// Convert reads a raw channel value and passes it through fn.
func Convert[T any](s Snapshot, ch int, fn func(int) T) (T, error) {
	raw, err := s.Raw(ch)
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(raw), nil
}
