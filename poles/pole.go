package poles

import (
	"context"
	"fmt"
	"time"
)

// Pole provides a high-level interface for controlling a single logical pole.
// Commands are addressed to the pole's physical ID when the controller has a
// proxy table.
type Pole struct {
	ctrl *Controller
	id   int
}

// Pole returns a handle for a logical pole.
func (c *Controller) Pole(id int) *Pole {
	return &Pole{ctrl: c, id: id}
}

// ID returns the logical pole ID.
func (p *Pole) ID() int {
	return p.id
}

// Physical returns the ID the pole answers to on the wire.
func (p *Pole) Physical() (int, error) {
	return p.ctrl.physicalID(p.id)
}

// Length Control

// SetLength commands the pole to the given length in millimeters.
func (p *Pole) SetLength(length int) error {
	return p.ctrl.SetPoleLength(p.id, length)
}

// SetMaxLength stores the pole's maximum extension.
func (p *Pole) SetMaxLength(maxLength int) error {
	return p.send(func(physical int) Command { return SetMaxLengthCommand(physical, maxLength) })
}

// Reset resets the pole.
func (p *Pole) Reset() error {
	return p.send(ResetCommand)
}

// Status

// Status reads a status field ("LENGTH", "ID" or "MAX") and waits up to
// timeout for the answer.
func (p *Pole) Status(ctx context.Context, field string, timeout time.Duration) (int64, error) {
	set, err := p.ctrl.QueryStatus(ctx, []int{p.id}, field, timeout)
	if err != nil {
		if _, ok := GetPoleError(err); ok {
			return 0, err
		}
		return 0, &PoleError{Pole: p.id, Op: "read " + field, Err: err}
	}

	resp := set[p.id]
	if !resp.OK {
		return 0, &PoleError{Pole: p.id, Op: "read " + field, Err: fmt.Errorf("pole reported error status")}
	}
	return resp.Data, nil
}

// Length reads the pole's current length.
func (p *Pole) Length(ctx context.Context, timeout time.Duration) (int, error) {
	v, err := p.Status(ctx, "LENGTH", timeout)
	return int(v), err
}

// MaxLength reads the pole's stored maximum extension.
func (p *Pole) MaxLength(ctx context.Context, timeout time.Duration) (int, error) {
	v, err := p.Status(ctx, "MAX", timeout)
	return int(v), err
}

func (p *Pole) send(build func(physical int) Command) error {
	physical, err := p.ctrl.physicalID(p.id)
	if err != nil {
		return err
	}
	_, err = p.ctrl.Transmit(build(physical))
	return err
}
