package poles

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// BodyModel is a named posture: the target length in millimeters of every
// pole, keyed by 1-based logical pole ID. Keys are expected to be dense
// (1..K) but this is not enforced.
type BodyModel struct {
	Name    string
	lengths map[int]int
}

// NewBodyModel creates a posture whose pole i+1 has lengths[i].
func NewBodyModel(name string, lengths ...int) *BodyModel {
	m := &BodyModel{Name: name, lengths: make(map[int]int, len(lengths))}
	for i, l := range lengths {
		m.lengths[i+1] = l
	}
	return m
}

// Len returns the number of poles in the posture.
func (m *BodyModel) Len() int {
	return len(m.lengths)
}

// Get returns the length of a pole.
func (m *BodyModel) Get(pole int) (int, error) {
	l, ok := m.lengths[pole]
	if !ok {
		return 0, fmt.Errorf("%w: pole %d in model %q", ErrMissingKey, pole, m.Name)
	}
	return l, nil
}

// Lookup returns the length of a pole and whether it is present.
func (m *BodyModel) Lookup(pole int) (int, bool) {
	l, ok := m.lengths[pole]
	return l, ok
}

// Set sets the length of a pole.
func (m *BodyModel) Set(pole, length int) {
	if m.lengths == nil {
		m.lengths = make(map[int]int)
	}
	m.lengths[pole] = length
}

// Delete removes a pole from the posture.
func (m *BodyModel) Delete(pole int) {
	delete(m.lengths, pole)
}

// Poles returns the pole IDs in ascending order.
func (m *BodyModel) Poles() []int {
	ids := make([]int, 0, len(m.lengths))
	for id := range m.lengths {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Lengths returns the lengths in ascending pole order.
func (m *BodyModel) Lengths() []int {
	ids := m.Poles()
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = m.lengths[id]
	}
	return out
}

// Clone returns a deep copy.
func (m *BodyModel) Clone() *BodyModel {
	c := &BodyModel{Name: m.Name, lengths: make(map[int]int, len(m.lengths))}
	for k, v := range m.lengths {
		c.lengths[k] = v
	}
	return c
}

// Equal reports whether both postures hold the same pole lengths.
// Names are not compared.
func (m *BodyModel) Equal(other *BodyModel) bool {
	if len(m.lengths) != len(other.lengths) {
		return false
	}
	for k, v := range m.lengths {
		if ov, ok := other.lengths[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Delta returns the entries of m whose length differs in other, carrying m's
// values. Both postures must cover the same poles; a pole of m absent from
// other yields ErrMissingKey.
func (m *BodyModel) Delta(other *BodyModel) (*BodyModel, error) {
	delta := &BodyModel{Name: m.Name, lengths: make(map[int]int)}
	for _, pole := range m.Poles() {
		ol, err := other.Get(pole)
		if err != nil {
			return nil, err
		}
		if l := m.lengths[pole]; l != ol {
			delta.lengths[pole] = l
		}
	}
	return delta, nil
}

func (m *BodyModel) String() string {
	vals := m.Lengths()
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return fmt.Sprintf("%s: %s", m.Name, strings.Join(parts, ","))
}

// ParseModel parses a comma-separated list of lengths. Fields may carry a
// fractional part, which is truncated.
func ParseModel(s string) (*BodyModel, error) {
	fields := strings.Split(s, ",")
	m := &BodyModel{lengths: make(map[int]int, len(fields))}
	for i, field := range fields {
		field = strings.TrimSpace(field)
		v, err := strconv.ParseFloat(field, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: field %d %q is not a number", ErrParse, i+1, field)
		}
		m.lengths[i+1] = int(v)
	}
	return m, nil
}

// ReadModel parses a single posture from r.
func ReadModel(r io.Reader) (*BodyModel, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseModel(string(data))
}

// LoadModelFile loads a single posture file. The posture is named after the
// file's base name without extension.
func LoadModelFile(filename string) (*BodyModel, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()

	m, err := ReadModel(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	base := filepath.Base(filename)
	m.Name = strings.TrimSuffix(base, filepath.Ext(base))
	return m, nil
}
