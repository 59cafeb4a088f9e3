package poles

import (
	"context"
	"fmt"
	"time"
)

// TransferState is a stage of a posture transfer.
type TransferState int

const (
	StateIdle TransferState = iota
	StateComputingDelta
	StateTransmitting
	StateAwaitingResponses
	StateSent               // frames sent, no confirmation requested
	StateCommitted          // every expected response arrived
	StatePartiallyCommitted // deadline passed in forced mode, responded poles committed
	StateFailed
)

func (s TransferState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComputingDelta:
		return "computing delta"
	case StateTransmitting:
		return "transmitting"
	case StateAwaitingResponses:
		return "awaiting responses"
	case StateSent:
		return "sent"
	case StateCommitted:
		return "committed"
	case StatePartiallyCommitted:
		return "partially committed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("TransferState(%d)", int(s))
	}
}

// TransferOptions controls a posture transfer.
type TransferOptions struct {
	// Block waits for every sent pole to acknowledge before committing.
	Block bool

	// Timeout bounds the wait for responses. Default is 5 seconds.
	Timeout time.Duration

	// Force commits the poles that did answer when the deadline passes
	// instead of failing the whole transfer.
	Force bool

	// IgnorePrevious sends every pole of the target, regardless of the
	// remembered posture.
	IgnorePrevious bool

	// Interval is slept between consecutive frames.
	Interval time.Duration
}

// TransferResult describes the outcome of a posture transfer.
type TransferResult struct {
	State     TransferState
	Target    *BodyModel
	Delta     *BodyModel  // Poles sent; after a forced partial commit only the unconfirmed ones
	Responses ResponseSet // Responses keyed by logical pole ID, blocking transfers only

	// Outstanding lists poles that did not answer before the deadline.
	Outstanding []int
}

// Partial reports whether some poles were left unconfirmed.
func (r *TransferResult) Partial() bool {
	return r.State == StatePartiallyCommitted
}

// TransferToModel moves the poles to the target posture. Only poles whose
// length differs from the remembered posture are sent; the first transfer
// (or one with IgnorePrevious) sends them all.
//
// Non-blocking transfers end in StateSent and remember target as current.
// Blocking transfers discard frames queued before the first command, then
// wait for a length acknowledgement from every pole in the delta: when all
// have answered the target is committed; when the deadline passes the transfer fails with a
// *ResponseTimeoutError and the remembered posture is left untouched, unless
// Force is set, in which case the responding poles are merged into the
// remembered posture and the rest are reported in Outstanding.
func (c *Controller) TransferToModel(ctx context.Context, target *BodyModel, opts TransferOptions) (*TransferResult, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTransferTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result := &TransferResult{State: StateIdle, Target: target}
	if c.closed {
		result.State = StateFailed
		return result, ErrControllerClosed
	}

	// Computing delta
	result.State = StateComputingDelta
	var delta *BodyModel
	if opts.IgnorePrevious || c.current == nil {
		delta = target.Clone()
		c.logger.Printf("transfer to model %s", target.Name)
	} else {
		var err error
		delta, err = target.Delta(c.current)
		if err != nil {
			result.State = StateFailed
			return result, err
		}
		c.logger.Printf("transfer from model %s to model %s (%d of %d poles)",
			c.current.Name, target.Name, delta.Len(), target.Len())
	}
	result.Delta = delta

	if err := c.limits.CheckModel(delta); err != nil {
		result.State = StateFailed
		return result, err
	}

	// Transmitting
	result.State = StateTransmitting
	if err := c.flushLocked(); err != nil {
		result.State = StateFailed
		return result, err
	}
	for i, pole := range delta.Poles() {
		if i > 0 && opts.Interval > 0 {
			if err := sleepContext(ctx, opts.Interval); err != nil {
				result.State = StateFailed
				return result, err
			}
		}
		length, _ := delta.Lookup(pole)
		if err := c.setPoleLengthLocked(pole, length); err != nil {
			result.State = StateFailed
			return result, &PoleError{Pole: pole, Op: "set length", Err: err}
		}
	}

	if !opts.Block {
		c.current = target.Clone()
		result.State = StateSent
		return result, nil
	}

	// Awaiting responses
	result.State = StateAwaitingResponses
	c.logger.Printf("waiting for transfer to model %s", target.Name)
	expect := delta.Poles()

	responses, err := c.collectLocked(ctx, expect, opts.Timeout, acceptFrom(expect, IndexLength))
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	result.Responses = responses

	if failed := responses.Failed(); len(failed) > 0 {
		c.logger.Printf("poles %v answered with error status", failed)
	}

	timeoutErr := c.timeoutLocked(expect, responses)
	if timeoutErr == nil {
		c.current = target.Clone()
		result.State = StateCommitted
		c.logger.Printf("transferred to model %s", target.Name)
		return result, nil
	}

	missing := outstanding(expect, responses)
	result.Outstanding = missing

	if !opts.Force || len(missing) == len(expect) {
		c.logger.Printf("unable to receive poles' response %v in %s", missing, opts.Timeout)
		result.State = StateFailed
		return result, timeoutErr
	}

	// Forced partial commit: responded poles leave the delta and join current
	var merged *BodyModel
	if c.current != nil {
		merged = c.current.Clone()
	}
	for _, pole := range expect {
		if _, ok := responses[pole]; !ok {
			continue
		}
		if merged != nil {
			length, _ := delta.Lookup(pole)
			merged.Set(pole, length)
		}
		delta.Delete(pole)
	}
	if merged != nil {
		c.current = merged
	} else {
		c.logger.Printf("no previous model, partial transfer to %s not remembered", target.Name)
	}
	result.State = StatePartiallyCommitted
	c.logger.Printf("partially transferred to model %s, unable to receive poles' response %v", target.Name, missing)
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
