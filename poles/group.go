package poles

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// LengthMap maps logical pole IDs to lengths or status values.
type LengthMap map[int]int

// PoleGroup manages operations across several poles of one controller.
type PoleGroup struct {
	ctrl  *Controller
	poles []*Pole
	ids   []int
}

// NewPoleGroup creates a group for the given logical pole IDs.
func NewPoleGroup(ctrl *Controller, ids ...int) *PoleGroup {
	poles := make([]*Pole, len(ids))
	for i, id := range ids {
		poles[i] = ctrl.Pole(id)
	}
	return &PoleGroup{
		ctrl:  ctrl,
		poles: poles,
		ids:   slices.Clone(ids),
	}
}

// NewPoleGroupRange groups poles 1..count.
func NewPoleGroupRange(ctrl *Controller, count int) *PoleGroup {
	ids := make([]int, count)
	for i := range ids {
		ids[i] = i + 1
	}
	return NewPoleGroup(ctrl, ids...)
}

// Poles returns the poles in this group.
func (g *PoleGroup) Poles() []*Pole {
	return g.poles
}

// IDs returns the logical pole IDs in this group.
func (g *PoleGroup) IDs() []int {
	return g.ids
}

// Pole returns the pole at the given index.
func (g *PoleGroup) Pole(index int) *Pole {
	if index < 0 || index >= len(g.poles) {
		return nil
	}
	return g.poles[index]
}

// PoleByID returns the pole with the given logical ID, or nil if not found.
func (g *PoleGroup) PoleByID(id int) *Pole {
	for _, p := range g.poles {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

// ReadStatus requests a status field from every pole and waits up to timeout
// for the answers. Poles that answered are returned even when others did not;
// the error then carries the outstanding IDs.
func (g *PoleGroup) ReadStatus(ctx context.Context, field string, timeout time.Duration) (LengthMap, error) {
	set, err := g.ctrl.QueryStatus(ctx, g.ids, field, timeout)
	if set == nil {
		return nil, err
	}

	values := make(LengthMap, len(set))
	for _, id := range g.ids {
		resp, ok := set[id]
		if !ok || !resp.OK {
			continue
		}
		values[id] = int(resp.Data)
	}
	if err != nil {
		return values, err
	}

	for _, id := range g.ids {
		if resp, ok := set[id]; ok && !resp.OK {
			return values, &PoleError{Pole: id, Op: "read " + field, Err: fmt.Errorf("pole reported error status")}
		}
	}
	return values, nil
}

// Lengths reads the current length of every pole.
func (g *PoleGroup) Lengths(ctx context.Context, timeout time.Duration) (LengthMap, error) {
	return g.ReadStatus(ctx, "LENGTH", timeout)
}

// SetLengths commands poles to new lengths in ascending ID order.
// Only poles present in the map are written.
func (g *PoleGroup) SetLengths(lengths LengthMap) error {
	if len(lengths) == 0 {
		return nil
	}

	ids := make([]int, 0, len(lengths))
	for id := range lengths {
		if g.PoleByID(id) == nil {
			return fmt.Errorf("%w: pole %d not in group", ErrUnknownPole, id)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		if err := g.ctrl.SetPoleLength(id, lengths[id]); err != nil {
			return &PoleError{Pole: id, Op: "set length", Err: err}
		}
	}
	return nil
}

// ResetAll resets every pole in the group.
func (g *PoleGroup) ResetAll() error {
	for _, p := range g.poles {
		if err := p.Reset(); err != nil {
			return &PoleError{Pole: p.ID(), Op: "reset", Err: err}
		}
	}
	return nil
}

// Snapshot reads every pole's length into a posture named name.
func (g *PoleGroup) Snapshot(ctx context.Context, name string, timeout time.Duration) (*BodyModel, error) {
	lengths, err := g.Lengths(ctx, timeout)
	if err != nil {
		return nil, err
	}
	m := &BodyModel{Name: name, lengths: make(map[int]int, len(lengths))}
	for id, l := range lengths {
		m.lengths[id] = l
	}
	return m, nil
}
