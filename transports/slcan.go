package transports

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/notnil/canbus"
	"go.bug.st/serial"
)

// SLCAN implements a pole bus binding on top of a serial-attached CAN
// adapter speaking the LAWICEL (SLCAN) ASCII protocol.
type SLCAN struct {
	port serial.Port
	rx   *frameQueue

	writeMu   sync.Mutex
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// SLCANConfig holds configuration for opening an SLCAN adapter.
type SLCANConfig struct {
	Port      string
	BaudRate  int           // Serial speed. Default is 115200.
	Bitrate   int           // CAN bitrate. Default is 125000.
	Timeout   time.Duration // Serial read timeout. Default is 100ms.
	QueueSize int           // Receive queue capacity. Default is DefaultQueueSize.
}

// maxSLCANLine is the longest frame line an adapter sends: type, extended
// identifier, length, eight data bytes and a timestamp.
const maxSLCANLine = 1 + 8 + 1 + 16 + 4

// slcanBitrates maps CAN bitrates to the adapter's 'S' setup codes.
var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// OpenSLCAN opens the serial port, configures the bitrate and opens the CAN channel.
func OpenSLCAN(cfg SLCANConfig) (*SLCAN, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}

	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}

	if cfg.Bitrate == 0 {
		cfg.Bitrate = 125000
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 100 * time.Millisecond
	}

	code, ok := slcanBitrates[cfg.Bitrate]
	if !ok {
		return nil, fmt.Errorf("unsupported CAN bitrate: %d", cfg.Bitrate)
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	s, err := newSLCAN(port, code, cfg.QueueSize)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

// newSLCAN sets up the adapter behind an open port and starts reading.
func newSLCAN(port serial.Port, bitrateCode byte, queueSize int) (*SLCAN, error) {
	// Close a channel left open by a previous session, then set up and open.
	for _, cmd := range []string{"C\r", "S" + string(bitrateCode) + "\r", "O\r"} {
		if _, err := port.Write([]byte(cmd)); err != nil {
			return nil, fmt.Errorf("failed to configure adapter: %w", err)
		}
	}
	port.ResetInputBuffer()

	s := &SLCAN{
		port: port,
		rx:   newFrameQueue(queueSize),
		done: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// Send writes a frame to the adapter.
func (s *SLCAN) Send(f canbus.Frame) (int, error) {
	line, err := EncodeSLCAN(f)
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return 0, canbus.ErrClosed
	default:
	}

	n, err := s.port.Write([]byte(line))
	if err != nil {
		return 0, fmt.Errorf("write failed: %w", err)
	}
	if n != len(line) {
		return 0, fmt.Errorf("incomplete write: %d of %d bytes", n, len(line))
	}
	return 1, nil
}

// Pending returns the number of received frames waiting to be read.
func (s *SLCAN) Pending() (int, error) {
	return s.rx.len()
}

// Receive returns up to max received frames, waiting at most wait for the first.
func (s *SLCAN) Receive(max int, wait time.Duration) ([]canbus.Frame, error) {
	return s.rx.pop(max, wait)
}

// Dropped returns how many received frames were discarded on queue overflow.
func (s *SLCAN) Dropped() int {
	return s.rx.droppedCount()
}

// Close closes the CAN channel and the serial port.
func (s *SLCAN) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		close(s.done)
		s.port.Write([]byte("C\r"))
		s.writeMu.Unlock()

		s.closeErr = s.port.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *SLCAN) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, 256)
	line := make([]byte, 0, maxSLCANLine)
	overflow := false
	for {
		n, err := s.port.Read(buf)
		select {
		case <-s.done:
			return
		default:
		}
		if err != nil {
			s.rx.fail(fmt.Errorf("read error: %w", err))
			return
		}

		for _, b := range buf[:n] {
			switch b {
			case '\r':
				if !overflow {
					if f, err := DecodeSLCAN(string(line)); err == nil {
						s.rx.push(f)
					}
				}
				line = line[:0]
				overflow = false
			case '\a':
				// Adapter rejected the last command
				line = line[:0]
				overflow = false
			default:
				if len(line) == maxSLCANLine {
					// Not a frame; skip to the next carriage return
					line = line[:0]
					overflow = true
				}
				if !overflow {
					line = append(line, b)
				}
			}
		}
	}
}

// EncodeSLCAN renders a frame as an SLCAN transmit command, including the
// trailing carriage return.
func EncodeSLCAN(f canbus.Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}

	var sb strings.Builder
	switch {
	case f.Extended && f.RTR:
		fmt.Fprintf(&sb, "R%08X", f.ID)
	case f.Extended:
		fmt.Fprintf(&sb, "T%08X", f.ID)
	case f.RTR:
		fmt.Fprintf(&sb, "r%03X", f.ID)
	default:
		fmt.Fprintf(&sb, "t%03X", f.ID)
	}
	fmt.Fprintf(&sb, "%d", f.Len)
	if !f.RTR {
		fmt.Fprintf(&sb, "%X", f.Data[:f.Len])
	}
	sb.WriteByte('\r')
	return sb.String(), nil
}

// DecodeSLCAN parses a received SLCAN frame line without its carriage return.
// Lines that are not frames (acknowledgements, status replies) yield an error.
func DecodeSLCAN(line string) (canbus.Frame, error) {
	if line == "" {
		return canbus.Frame{}, errors.New("empty line")
	}

	var f canbus.Frame
	idLen := 3
	switch line[0] {
	case 't':
	case 'r':
		f.RTR = true
	case 'T':
		f.Extended = true
		idLen = 8
	case 'R':
		f.Extended = true
		f.RTR = true
		idLen = 8
	default:
		return canbus.Frame{}, fmt.Errorf("not a frame: %q", line)
	}

	if len(line) < 1+idLen+1 {
		return canbus.Frame{}, fmt.Errorf("frame too short: %q", line)
	}

	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return canbus.Frame{}, fmt.Errorf("invalid identifier in %q: %w", line, err)
	}
	f.ID = uint32(id)

	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return canbus.Frame{}, fmt.Errorf("invalid length in %q", line)
	}
	f.Len = dlc - '0'

	if !f.RTR {
		data := line[2+idLen:]
		// Some adapters append a 4-digit timestamp
		if len(data) < int(f.Len)*2 {
			return canbus.Frame{}, fmt.Errorf("frame data too short: %q", line)
		}
		for i := 0; i < int(f.Len); i++ {
			v, err := strconv.ParseUint(data[i*2:i*2+2], 16, 8)
			if err != nil {
				return canbus.Frame{}, fmt.Errorf("invalid data in %q: %w", line, err)
			}
			f.Data[i] = byte(v)
		}
	}

	return f, f.Validate()
}
