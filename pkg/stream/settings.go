package stream

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// SettingType identifies a stream setting.
type SettingType uint8

const (
	SampleRate     SettingType = 0 // Hz
	Resolution     SettingType = 1 // bits
	Range          SettingType = 2
	RangeMilliunit SettingType = 3
	Channels       SettingType = 4
)

func (t SettingType) String() string {
	switch t {
	case SampleRate:
		return "sample_rate"
	case Resolution:
		return "resolution"
	case Range:
		return "range"
	case RangeMilliunit:
		return "range_milliunit"
	case Channels:
		return "channels"
	default:
		return fmt.Sprintf("SettingType(%d)", uint8(t))
	}
}

// Settings holds the values available, or selected, for each setting type.
type Settings map[SettingType][]uint32

// Max returns the settings with only the maximal value of each type selected.
// Types without values are omitted.
func (s Settings) Max() Settings {
	selected := make(Settings, len(s))
	for typ, values := range s {
		if len(values) == 0 {
			continue
		}
		selected[typ] = []uint32{slices.Max(values)}
	}
	return selected
}

// Value returns the single selected value of typ.
func (s Settings) Value(typ SettingType) (uint32, bool) {
	values := s[typ]
	if len(values) != 1 {
		return 0, false
	}
	return values[0], true
}

func (s Settings) String() string {
	types := make([]SettingType, 0, len(s))
	for typ := range s {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	var b strings.Builder
	for i, typ := range types {
		if i != 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", typ, s[typ])
	}
	return b.String()
}

// SettingsBuilder selects individual values from the settings offered by a
// source.
type SettingsBuilder struct {
	source   Settings
	selected map[SettingType]uint32
}

// NewSettingsBuilder returns a builder selecting from source.
func NewSettingsBuilder(source Settings) *SettingsBuilder {
	return &SettingsBuilder{source: source, selected: make(map[SettingType]uint32)}
}

func (b *SettingsBuilder) SampleRate(hz uint32) *SettingsBuilder {
	b.selected[SampleRate] = hz
	return b
}

func (b *SettingsBuilder) Resolution(bits uint32) *SettingsBuilder {
	b.selected[Resolution] = bits
	return b
}

func (b *SettingsBuilder) Range(r uint32) *SettingsBuilder {
	b.selected[Range] = r
	return b
}

func (b *SettingsBuilder) RangeMilliunit(r uint32) *SettingsBuilder {
	b.selected[RangeMilliunit] = r
	return b
}

// Build returns the selected settings. Resolution and channel count default
// to the maximum the source offers when not selected.
func (b *SettingsBuilder) Build() Settings {
	settings := make(Settings, len(b.selected)+2)
	for typ, v := range b.selected {
		settings[typ] = []uint32{v}
	}
	for _, typ := range []SettingType{Resolution, Channels} {
		if _, ok := b.selected[typ]; ok {
			continue
		}
		if values := b.source[typ]; len(values) != 0 {
			settings[typ] = []uint32{slices.Max(values)}
		}
	}
	return settings
}
