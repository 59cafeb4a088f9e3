package poles

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

// CommentPrefix starts a comment line in a posture file.
const CommentPrefix = "#"

// BodyModels is a collection of postures keyed by name that remembers
// insertion order. Every name in the order appears exactly once in the map
// and vice versa; entries are only added with Set and removed with Remove.
type BodyModels struct {
	models map[string]*BodyModel
	order  []string
}

// NewBodyModels creates an empty collection.
func NewBodyModels() *BodyModels {
	return &BodyModels{models: make(map[string]*BodyModel)}
}

// Len returns the number of postures.
func (c *BodyModels) Len() int {
	return len(c.order)
}

// ValidateName reports whether name can be written to a posture file and
// read back unchanged. Names must be non-empty, must not start with
// CommentPrefix, must not carry surrounding whitespace, and must not contain
// ':', ';' or line breaks.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty model name", ErrParse)
	case strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: model name %q has surrounding whitespace", ErrParse, name)
	case strings.HasPrefix(name, CommentPrefix):
		return fmt.Errorf("%w: model name %q starts with %q", ErrParse, name, CommentPrefix)
	case strings.ContainsAny(name, ":;\r\n"):
		return fmt.Errorf("%w: model name %q contains a separator", ErrParse, name)
	}
	return nil
}

// Set stores m under name. New names are appended to the order; replacing an
// existing name keeps its position. The model's Name is set to name.
// Names rejected by ValidateName are not stored.
func (c *BodyModels) Set(name string, m *BodyModel) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if c.models == nil {
		c.models = make(map[string]*BodyModel)
	}
	if _, exists := c.models[name]; !exists {
		c.order = append(c.order, name)
	}
	m.Name = name
	c.models[name] = m
	return nil
}

// Add stores m under its own name.
func (c *BodyModels) Add(m *BodyModel) error {
	return c.Set(m.Name, m)
}

// Get returns the posture stored under name.
func (c *BodyModels) Get(name string) (*BodyModel, bool) {
	m, ok := c.models[name]
	return m, ok
}

// Remove deletes a posture and its position in the order.
// It returns false if name was not present.
func (c *BodyModels) Remove(name string) bool {
	if _, ok := c.models[name]; !ok {
		return false
	}
	delete(c.models, name)
	if i := slices.Index(c.order, name); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	return true
}

// Names returns a copy of the names in insertion order.
func (c *BodyModels) Names() []string {
	return slices.Clone(c.order)
}

// SortedNames returns the names ordered with CompareNames, leaving the
// insertion order untouched.
func (c *BodyModels) SortedNames() []string {
	names := slices.Clone(c.order)
	SortNames(names)
	return names
}

// AutoSort reorders the insertion order with CompareNames.
func (c *BodyModels) AutoSort() {
	SortNames(c.order)
}

// Models returns the postures in insertion order.
func (c *BodyModels) Models() []*BodyModel {
	out := make([]*BodyModel, len(c.order))
	for i, name := range c.order {
		out[i] = c.models[name]
	}
	return out
}

// CompareNames orders posture names numerically when both parse as integers
// ("2" before "10"); integer names sort before all other names, which compare
// lexicographically.
func CompareNames(a, b string) int {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		if ai != bi {
			if ai < bi {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// SortNames sorts names in place with CompareNames.
func SortNames(names []string) {
	slices.SortStableFunc(names, CompareNames)
}

// ParseModels parses a posture collection:
//
//	#   001,002,003
//	name1:
//	    120,340,560;
//
// Blank lines and lines starting with CommentPrefix are ignored. Records are
// separated by ';' and postures keep the order of their records.
func ParseModels(s string) (*BodyModels, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, CommentPrefix) {
			continue
		}
		sb.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	models := NewBodyModels()
	for i, record := range strings.Split(sb.String(), ";") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		name, data, ok := strings.Cut(record, ":")
		if !ok {
			return nil, fmt.Errorf("%w: record %d %q has no ':' separator", ErrParse, i+1, record)
		}
		name = strings.TrimSpace(name)
		m, err := ParseModel(data)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
		if err := models.Set(name, m); err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
	}
	return models, nil
}

// ReadModels parses a posture collection from r.
func ReadModels(r io.Reader) (*BodyModels, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseModels(string(data))
}

// SerializeModels renders a collection in the posture file format. With
// ordered set, postures follow insertion order; otherwise SortNames order.
func SerializeModels(models *BodyModels, ordered bool) string {
	if models.Len() == 0 {
		return ""
	}

	names := models.Names()
	if !ordered {
		SortNames(names)
	}

	var sb strings.Builder
	first := models.models[names[0]]
	header := make([]string, first.Len())
	for i := range header {
		header[i] = fmt.Sprintf("%03d", i+1)
	}
	sb.WriteString(CommentPrefix + "   " + strings.Join(header, ",") + "\n")

	for _, name := range names {
		vals := models.models[name].Lengths()
		fields := make([]string, len(vals))
		for i, v := range vals {
			fields[i] = strconv.Itoa(v)
		}
		fmt.Fprintf(&sb, "%s:\n    %s;\n", name, strings.Join(fields, ","))
	}
	return sb.String()
}

// LoadModelsFile loads a posture collection file.
func LoadModelsFile(filename string) (*BodyModels, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open models file: %w", err)
	}
	defer f.Close()

	models, err := ReadModels(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return models, nil
}

// SaveModelsFile writes a posture collection file.
func SaveModelsFile(filename string, models *BodyModels, ordered bool) error {
	if err := os.WriteFile(filename, []byte(SerializeModels(models, ordered)), 0644); err != nil {
		return fmt.Errorf("failed to write models file: %w", err)
	}
	return nil
}
