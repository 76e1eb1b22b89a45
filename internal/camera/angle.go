package camera

import "strings"

// Angle codes for the four court viewpoints. UnknownAngle marks a camera the
// operator dictionary cannot place; the pipeline filters those sessions out.
const (
	AngleFL      = "FL"
	AngleFR      = "FR"
	AngleNL      = "NL"
	AngleNR      = "NR"
	UnknownAngle = "UNK"
)

// ValidAngle reports whether code is one of the four court angles.
func ValidAngle(code string) bool {
	switch code {
	case AngleFL, AngleFR, AngleNL, AngleNR:
		return true
	}
	return false
}

// AngleMapper resolves a camera's advertised name to an angle code using the
// operator-supplied dictionary.
type AngleMapper struct {
	byName map[string]string
}

// NewAngleMapper builds a mapper from camera-name → angle entries.
func NewAngleMapper(entries map[string]string) *AngleMapper {
	m := make(map[string]string, len(entries))
	for name, angle := range entries {
		m[name] = angle
	}
	return &AngleMapper{byName: m}
}

// Resolve maps an advertised SSID to an angle code. Three match rules are
// tried in order: exact, case-insensitive, substring. Returns UnknownAngle
// when no rule matches.
func (m *AngleMapper) Resolve(ssid string) string {
	if angle, ok := m.byName[ssid]; ok {
		return angle
	}

	for name, angle := range m.byName {
		if strings.EqualFold(name, ssid) {
			return angle
		}
	}

	lower := strings.ToLower(ssid)
	for name, angle := range m.byName {
		if name == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(name)) {
			return angle
		}
	}

	return UnknownAngle
}
