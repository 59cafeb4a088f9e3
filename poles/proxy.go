package poles

import "fmt"

// ProxyTable maps application-facing (logical) pole IDs to the IDs the poles
// answer to on the wire (physical) and back. Both directions are 1-based IDs
// stored in 0-indexed slices.
type ProxyTable struct {
	toPhysical []int
	toLogical  []int
}

// NewProxyTable builds a proxy from the logical→physical slice, where
// logicalToPhysical[i] is the physical ID of logical pole i+1. Every physical
// ID must be unique and within 1..len(logicalToPhysical).
func NewProxyTable(logicalToPhysical []int) (*ProxyTable, error) {
	n := len(logicalToPhysical)
	if n == 0 {
		return nil, fmt.Errorf("proxy table is empty")
	}

	toLogical := make([]int, n)
	for i, physical := range logicalToPhysical {
		if physical < 1 || physical > n {
			return nil, fmt.Errorf("proxy entry for pole %d: physical ID %d outside 1..%d", i+1, physical, n)
		}
		if toLogical[physical-1] != 0 {
			return nil, fmt.Errorf("proxy entry for pole %d: physical ID %d already mapped to pole %d",
				i+1, physical, toLogical[physical-1])
		}
		toLogical[physical-1] = i + 1
	}

	return &ProxyTable{
		toPhysical: append([]int(nil), logicalToPhysical...),
		toLogical:  toLogical,
	}, nil
}

// Len returns the number of poles covered by the table.
func (p *ProxyTable) Len() int {
	return len(p.toPhysical)
}

// Physical returns the wire ID of a logical pole.
func (p *ProxyTable) Physical(logical int) (int, error) {
	if logical < 1 || logical > len(p.toPhysical) {
		return 0, fmt.Errorf("%w: logical ID %d (valid range: 1-%d)", ErrUnknownPole, logical, len(p.toPhysical))
	}
	return p.toPhysical[logical-1], nil
}

// Logical returns the logical ID of a pole answering under a physical ID.
func (p *ProxyTable) Logical(physical int) (int, error) {
	if physical < 1 || physical > len(p.toLogical) {
		return 0, fmt.Errorf("%w: physical ID %d (valid range: 1-%d)", ErrUnknownPole, physical, len(p.toLogical))
	}
	return p.toLogical[physical-1], nil
}

// LogicalToPhysical returns a copy of the logical→physical slice.
func (p *ProxyTable) LogicalToPhysical() []int {
	return append([]int(nil), p.toPhysical...)
}

// PhysicalToLogical returns a copy of the physical→logical slice.
func (p *ProxyTable) PhysicalToLogical() []int {
	return append([]int(nil), p.toLogical...)
}
