// calibration.go - Pole length limits and their JSON file format
package poles

import (
	"encoding/json"
	"fmt"
	"os"
)

// Default stroke of a pole in millimeters.
const (
	DefaultMinLength = 50
	DefaultMaxLength = 600
)

// PoleLimit defines the permitted length range of one logical pole.
type PoleLimit struct {
	ID        int `json:"id"`         // Logical pole ID
	MinLength int `json:"min_length"` // Shortest permitted length (mm)
	MaxLength int `json:"max_length"` // Longest permitted length (mm)
}

// NewPoleLimit creates a limit with the default stroke.
func NewPoleLimit(id int) *PoleLimit {
	return &PoleLimit{
		ID:        id,
		MinLength: DefaultMinLength,
		MaxLength: DefaultMaxLength,
	}
}

// Validate checks if the limit parameters are valid
func (l *PoleLimit) Validate() error {
	if l.ID < 1 || l.ID > MaxPoleID {
		return fmt.Errorf("invalid pole ID: %d (must be 1-%d)", l.ID, MaxPoleID)
	}

	if l.MinLength >= l.MaxLength {
		return fmt.Errorf("invalid range: min (%d) must be less than max (%d)", l.MinLength, l.MaxLength)
	}

	if l.MinLength < 0 || int64(l.MaxLength) > MaxData {
		return fmt.Errorf("range values must be between 0-%d, got min=%d max=%d", int64(MaxData), l.MinLength, l.MaxLength)
	}

	return nil
}

// Contains reports whether length lies within the permitted range.
func (l *PoleLimit) Contains(length int) bool {
	return length >= l.MinLength && length <= l.MaxLength
}

// String returns a string representation of the limit
func (l *PoleLimit) String() string {
	return fmt.Sprintf("pole %d: range[%d-%d]mm", l.ID, l.MinLength, l.MaxLength)
}

// PoleLimits maps logical pole IDs to their limits.
type PoleLimits map[int]*PoleLimit

// Check returns ErrLengthOutOfRange if length violates the pole's limit.
// Poles without a limit accept any length.
func (ls PoleLimits) Check(pole, length int) error {
	l, ok := ls[pole]
	if !ok {
		return nil
	}
	if !l.Contains(length) {
		return fmt.Errorf("%w: pole %d length %d (permitted %d-%d)",
			ErrLengthOutOfRange, pole, length, l.MinLength, l.MaxLength)
	}
	return nil
}

// CheckModel checks every pole of a posture against the limits.
func (ls PoleLimits) CheckModel(m *BodyModel) error {
	for _, pole := range m.Poles() {
		length, _ := m.Lookup(pole)
		if err := ls.Check(pole, length); err != nil {
			return fmt.Errorf("model %q: %w", m.Name, err)
		}
	}
	return nil
}

// UniformLimits creates the same limit for every pole in 1..count.
func UniformLimits(count, minLength, maxLength int) PoleLimits {
	limits := make(PoleLimits, count)
	for id := 1; id <= count; id++ {
		l := NewPoleLimit(id)
		l.MinLength = minLength
		l.MaxLength = maxLength
		limits[id] = l
	}
	return limits
}

// LoadLimits loads pole limits from a JSON file
// Supports the flat format with pole names as keys
func LoadLimits(filename string) (PoleLimits, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read limits file: %w", err)
	}

	// Parse as map[string]*PoleLimit (pole name -> limit)
	var poleMap map[string]*PoleLimit
	if err := json.Unmarshal(data, &poleMap); err != nil {
		return nil, fmt.Errorf("failed to parse limits file: %w", err)
	}

	result := make(PoleLimits, len(poleMap))
	for poleName, l := range poleMap {
		if l == nil {
			return nil, fmt.Errorf("empty limit for pole %s", poleName)
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("invalid limit for pole %s: %w", poleName, err)
		}

		if _, exists := result[l.ID]; exists {
			return nil, fmt.Errorf("duplicate pole ID %d found in limits file", l.ID)
		}

		result[l.ID] = l
	}

	return result, nil
}

// SaveLimits saves pole limits to a JSON file
// Uses the flat format with pole names as keys
func SaveLimits(filename string, limits PoleLimits, poleNames map[int]string) error {
	poleMap := make(map[string]*PoleLimit, len(limits))

	for id, l := range limits {
		poleName, exists := poleNames[id]
		if !exists {
			poleName = fmt.Sprintf("pole_%d", id)
		}
		poleMap[poleName] = l
	}

	data, err := json.MarshalIndent(poleMap, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal limits: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write limits file: %w", err)
	}

	return nil
}
