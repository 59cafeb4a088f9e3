package poles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/buendiya/NicanPython/transports"
)

// Default timings.
const (
	DefaultPollInterval    = 200 * time.Millisecond
	DefaultReceiveWait     = 50 * time.Millisecond
	DefaultTransferTimeout = 5 * time.Second
)

// Controller drives the poles on one CAN interface. All operations are
// serialized; the controller is safe to share between goroutines.
type Controller struct {
	binding Binding
	proxy   *ProxyTable
	limits  PoleLimits
	logger  *log.Logger

	pollInterval time.Duration
	receiveWait  time.Duration

	mu          sync.Mutex
	current     *BodyModel
	lastCmdTime time.Time
	minCmdGap   time.Duration
	closed      bool
}

// ControllerConfig holds configuration for creating a new Controller.
type ControllerConfig struct {
	// Binding is the CAN interface driver.
	// If nil, Port must be specified to open an SLCAN adapter.
	Binding Binding

	// Port is the serial port of an SLCAN adapter (e.g., "/dev/ttyACM0").
	// Ignored if Binding is provided.
	Port string

	// BaudRate is the serial speed used when opening Port. Default is 115200.
	BaudRate int

	// Bitrate is the CAN bitrate used when opening Port. Default is 125000.
	Bitrate int

	// Proxy remaps logical pole IDs to physical wire IDs. Nil disables remapping.
	Proxy *ProxyTable

	// Limits rejects lengths outside each pole's permitted range. Optional.
	Limits PoleLimits

	// PollInterval is the sampling interval while awaiting responses. Default is 200ms.
	PollInterval time.Duration

	// ReceiveWait bounds how long a drain waits for queued frames. Default is 50ms.
	ReceiveWait time.Duration

	// MinCommandGap is the minimum time between frames. Default is 0.
	MinCommandGap time.Duration

	// Logger receives frame dumps and transfer progress. Nil discards.
	Logger *log.Logger
}

// NewController creates a controller with the given configuration.
func NewController(cfg ControllerConfig) (*Controller, error) {
	// Set defaults
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReceiveWait == 0 {
		cfg.ReceiveWait = DefaultReceiveWait
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	// Get or create binding
	binding := cfg.Binding
	if binding == nil {
		if cfg.Port == "" {
			return nil, errors.New("either Binding or Port must be specified")
		}
		var err error
		binding, err = transports.OpenSLCAN(transports.SLCANConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			Bitrate:  cfg.Bitrate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open CAN adapter: %w", err)
		}
	}

	return &Controller{
		binding:      binding,
		proxy:        cfg.Proxy,
		limits:       cfg.Limits,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		receiveWait:  cfg.ReceiveWait,
		minCmdGap:    cfg.MinCommandGap,
		lastCmdTime:  time.Now(),
	}, nil
}

// Close closes the controller and releases the binding.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.binding.Close()
}

// Proxy returns the configured proxy table, or nil.
func (c *Controller) Proxy() *ProxyTable {
	return c.proxy
}

// Current returns a copy of the posture the controller believes the poles
// hold, or nil before the first committed transfer.
func (c *Controller) Current() *BodyModel {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil
	}
	return c.current.Clone()
}

// SetCurrent replaces the remembered posture, e.g. after re-reading pole
// lengths. Passing nil makes the next transfer send every pole.
func (c *Controller) SetCurrent(m *BodyModel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m == nil {
		c.current = nil
		return
	}
	c.current = m.Clone()
}

// Transmit encodes and sends a single command, returning the number of
// frames the bus layer accepted.
func (c *Controller) Transmit(cmd Command) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrControllerClosed
	}

	return c.transmitLocked(cmd)
}

// SetPoleLength commands a logical pole to the given length in millimeters.
func (c *Controller) SetPoleLength(pole, length int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}

	return c.setPoleLengthLocked(pole, length)
}

// ChangePoleID assigns a new bus ID to the pole answering under pole.
func (c *Controller) ChangePoleID(pole, newID int) error {
	if newID < 1 || newID > MaxPoleID {
		return fmt.Errorf("%w: %d (valid range: 1-%d)", ErrInvalidPoleID, newID, MaxPoleID)
	}
	_, err := c.Transmit(ChangeIDCommand(pole, newID))
	return err
}

// ResetPole resets a pole.
func (c *Controller) ResetPole(pole int) error {
	_, err := c.Transmit(ResetCommand(pole))
	return err
}

// SetPoleMaxLength stores the maximum extension of a pole.
func (c *Controller) SetPoleMaxLength(pole, maxLength int) error {
	_, err := c.Transmit(SetMaxLengthCommand(pole, maxLength))
	return err
}

// ReadStatus requests a status field ("LENGTH", "ID" or "MAX") from a pole.
// The answer arrives asynchronously; collect it with ReadResponses, or use
// QueryStatus to send and collect in one step.
func (c *Controller) ReadStatus(pole int, field string) error {
	cmd, err := ReadStatusCommand(pole, field)
	if err != nil {
		return err
	}
	_, err = c.Transmit(cmd)
	return err
}

// ReadResponses collects received responses keyed by logical pole ID.
// With a positive timeout it keeps polling until every pole in expect has
// answered; if the deadline passes first, the partial set is returned together
// with a *ResponseTimeoutError listing the poles that did not answer.
func (c *Controller) ReadResponses(ctx context.Context, expect []int, timeout time.Duration) (ResponseSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrControllerClosed
	}

	set, err := c.collectLocked(ctx, expect, timeout, nil)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		if err := c.timeoutLocked(expect, set); err != nil {
			return set, err
		}
	}
	return set, nil
}

// QueryStatus reads a status field from the given logical poles. Frames
// queued before the request are discarded, and only replies echoing the
// requested field's index are accepted. The partial set is returned together
// with a *ResponseTimeoutError when some poles did not answer in time.
func (c *Controller) QueryStatus(ctx context.Context, poles []int, field string, timeout time.Duration) (ResponseSet, error) {
	index, err := LookupStatusField(field)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrControllerClosed
	}

	if err := c.flushLocked(); err != nil {
		return nil, err
	}

	for _, pole := range poles {
		physical, err := c.physicalID(pole)
		if err != nil {
			return nil, &PoleError{Pole: pole, Op: "read " + field, Err: err}
		}
		if _, err := c.transmitLocked(Command{Pole: physical, Direction: Read, Index: index}); err != nil {
			return nil, &PoleError{Pole: pole, Op: "read " + field, Err: err}
		}
	}

	set, err := c.collectLocked(ctx, poles, timeout, acceptFrom(poles, index))
	if err != nil {
		return nil, err
	}
	return set, c.timeoutLocked(poles, set)
}

// Internal methods

func (c *Controller) physicalID(logical int) (int, error) {
	if c.proxy == nil {
		return logical, nil
	}
	return c.proxy.Physical(logical)
}

func (c *Controller) setPoleLengthLocked(logical, length int) error {
	if err := c.limits.Check(logical, length); err != nil {
		return err
	}

	physical, err := c.physicalID(logical)
	if err != nil {
		return err
	}

	_, err = c.transmitLocked(SetLengthCommand(physical, length))
	return err
}

func (c *Controller) enforceCommandGap() {
	elapsed := time.Since(c.lastCmdTime)
	if elapsed < c.minCmdGap {
		time.Sleep(c.minCmdGap - elapsed)
	}
}

func (c *Controller) transmitLocked(cmd Command) (int, error) {
	frame, err := cmd.Frame()
	if err != nil {
		return 0, err
	}

	c.enforceCommandGap()

	n, err := c.binding.Send(frame)
	c.lastCmdTime = time.Now()
	if err != nil {
		c.logger.Printf("failed to transmit command %d to pole %d: %v", cmd.Index, cmd.Pole, err)
		return 0, &TransmitError{Pole: cmd.Pole, Index: cmd.Index, Err: err}
	}
	if n == 0 {
		c.logger.Printf("failed to transmit command %d to pole %d", cmd.Index, cmd.Pole)
		return 0, &TransmitError{Pole: cmd.Pole, Index: cmd.Index}
	}

	c.logger.Printf("TX %s", cmd)
	return n, nil
}

// flushLocked discards every frame already queued, so that answers to
// earlier commands are not taken for answers to the next one.
func (c *Controller) flushLocked() error {
	n, err := c.binding.Pending()
	if err != nil {
		return fmt.Errorf("failed to query receive queue: %w", err)
	}
	if n == 0 {
		return nil
	}

	frames, err := c.binding.Receive(n, 0)
	if err != nil {
		return fmt.Errorf("failed to flush receive queue: %w", err)
	}
	if len(frames) > 0 {
		c.logger.Printf("discarded %d stale frames", len(frames))
	}
	return nil
}

// collectLocked polls the receive queue until every pole in expect has an
// accepted response or the timeout elapses. Responses rejected by accept are
// logged and dropped. A nil accept takes every response.
func (c *Controller) collectLocked(ctx context.Context, expect []int, timeout time.Duration, accept func(pole int, r Response) bool) (ResponseSet, error) {
	set := ResponseSet{}
	deadline := time.Now().Add(timeout)

	for {
		n, err := c.binding.Pending()
		if err != nil {
			return nil, fmt.Errorf("failed to query receive queue: %w", err)
		}

		batch, err := c.drainLocked(n)
		if err != nil {
			return nil, err
		}
		for pole, resp := range batch {
			if accept != nil && !accept(pole, resp) {
				c.logger.Printf("ignoring unexpected response %s", resp)
				continue
			}
			set[pole] = resp
		}

		if len(outstanding(expect, set)) == 0 {
			return set, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return set, nil
		}

		timer := time.NewTimer(min(c.pollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return set, ctx.Err()
		case <-timer.C:
		}
	}
}

// timeoutLocked returns a *ResponseTimeoutError when some of expect are
// missing from set, logging any frames the binding dropped on overflow.
func (c *Controller) timeoutLocked(expect []int, set ResponseSet) error {
	missing := outstanding(expect, set)
	if len(missing) == 0 {
		return nil
	}

	if d, ok := c.binding.(interface{ Dropped() int }); ok {
		if dropped := d.Dropped(); dropped > 0 {
			c.logger.Printf("receive queue overflowed, %d frames dropped", dropped)
		}
	}

	return &ResponseTimeoutError{
		Expected:    len(expect),
		Received:    len(set),
		Outstanding: missing,
	}
}

// drainLocked reads up to n queued frames and returns them keyed by logical ID.
func (c *Controller) drainLocked(n int) (ResponseSet, error) {
	if n <= 0 {
		return ResponseSet{}, nil
	}

	frames, err := c.binding.Receive(n, c.receiveWait)
	if err != nil {
		return nil, fmt.Errorf("failed to receive responses: %w", err)
	}

	set, err := NewResponseSet(frames)
	if err != nil {
		return nil, err
	}
	for _, id := range set.IDs() {
		c.logger.Printf("RX %s", set[id])
	}

	return set.Remap(c.proxy), nil
}

// acceptFrom accepts responses from the given logical poles echoing index.
func acceptFrom(poles []int, index CommandIndex) func(int, Response) bool {
	return func(pole int, r Response) bool {
		return r.Index == index && slices.Contains(poles, pole)
	}
}

// outstanding returns the IDs of expect that are absent from set.
func outstanding(expect []int, set ResponseSet) []int {
	var missing []int
	for _, id := range expect {
		if _, ok := set[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
