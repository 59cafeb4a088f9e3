package poles

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/notnil/canbus"

	"github.com/buendiya/NicanPython/transports"
)

func newTestController(t *testing.T, mock *transports.MockBinding, proxy *ProxyTable, limits PoleLimits) *Controller {
	t.Helper()
	ctrl, err := NewController(ControllerConfig{
		Binding:      mock,
		Proxy:        proxy,
		Limits:       limits,
		PollInterval: 10 * time.Millisecond,
		ReceiveWait:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return ctrl
}

// echo answers every command with an OK response from the addressed pole,
// repeating the command's index and data.
func echo(f canbus.Frame) []canbus.Frame {
	reply := f
	reply.Data[1] = ResponseOK
	return []canbus.Frame{reply}
}

func TestNewControllerRequiresBinding(t *testing.T) {
	if _, err := NewController(ControllerConfig{}); err == nil {
		t.Error("expected error without binding or port")
	}
}

func TestController_SetPoleLength(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, nil, nil)

	if err := ctrl.SetPoleLength(3, 300); err != nil {
		t.Fatalf("SetPoleLength failed: %v", err)
	}

	sent := mock.SentFrames()
	if len(sent) != 1 {
		t.Fatalf("frames sent: got %d, want 1", len(sent))
	}
	want := [8]byte{0x03, 0x00, 0x02, 0x00, 0x00, 0x00, 0x01, 0x2C}
	if sent[0].Data != want {
		t.Errorf("frame data: got % X, want % X", sent[0].Data, want)
	}
	if sent[0].ID != 3 || !sent[0].Extended {
		t.Errorf("frame header: got id=%d ext=%v", sent[0].ID, sent[0].Extended)
	}
}

func TestController_SetPoleLengthProxy(t *testing.T) {
	proxy, _ := NewProxyTable([]int{5, 2, 3, 4, 1})
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, proxy, nil)

	if err := ctrl.SetPoleLength(1, 100); err != nil {
		t.Fatalf("SetPoleLength failed: %v", err)
	}

	sent := mock.SentFrames()
	if len(sent) != 1 {
		t.Fatalf("frames sent: got %d, want 1", len(sent))
	}
	if sent[0].Data[0] != 5 || sent[0].ID != 5 {
		t.Errorf("physical id: got byte0=%d id=%d, want 5", sent[0].Data[0], sent[0].ID)
	}

	if err := ctrl.SetPoleLength(6, 100); !errors.Is(err, ErrUnknownPole) {
		t.Errorf("expected ErrUnknownPole, got %v", err)
	}
	if len(mock.SentFrames()) != 1 {
		t.Error("unknown pole must not be sent")
	}
}

func TestController_SetPoleLengthLimits(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, nil, UniformLimits(3, 50, 600))

	if err := ctrl.SetPoleLength(2, 700); !errors.Is(err, ErrLengthOutOfRange) {
		t.Errorf("expected ErrLengthOutOfRange, got %v", err)
	}
	if len(mock.SentFrames()) != 0 {
		t.Error("out of range length must not be sent")
	}
}

func TestController_TransmitError(t *testing.T) {
	busErr := errors.New("bus off")
	mock := &transports.MockBinding{SendErr: busErr}
	ctrl := newTestController(t, mock, nil, nil)

	err := ctrl.ResetPole(1)
	if !errors.Is(err, ErrTransmit) {
		t.Errorf("expected ErrTransmit, got %v", err)
	}
	if !errors.Is(err, busErr) {
		t.Errorf("expected wrapped bus error, got %v", err)
	}

	var txErr *TransmitError
	if !errors.As(err, &txErr) {
		t.Fatalf("expected *TransmitError, got %T", err)
	}
	if txErr.Pole != 1 || txErr.Index != IndexReset {
		t.Errorf("TransmitError: got pole %d index %d", txErr.Pole, txErr.Index)
	}
}

func TestController_TransmitRejected(t *testing.T) {
	mock := &transports.MockBinding{Reject: true}
	ctrl := newTestController(t, mock, nil, nil)

	n, err := ctrl.Transmit(SetLengthCommand(1, 10))
	if !errors.Is(err, ErrTransmit) {
		t.Errorf("expected ErrTransmit, got %v", err)
	}
	if n != 0 {
		t.Errorf("accepted: got %d, want 0", n)
	}
}

func TestController_Commands(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, nil, nil)

	if err := ctrl.ChangePoleID(1, 9); err != nil {
		t.Fatalf("ChangePoleID failed: %v", err)
	}
	if err := ctrl.SetPoleMaxLength(2, 600); err != nil {
		t.Fatalf("SetPoleMaxLength failed: %v", err)
	}
	if err := ctrl.ReadStatus(3, "max"); err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}

	sent := mock.SentFrames()
	if len(sent) != 3 {
		t.Fatalf("frames sent: got %d, want 3", len(sent))
	}

	tests := []struct {
		dir   Direction
		index CommandIndex
		data  byte
	}{
		{Write, IndexID, 9},
		{Write, IndexMaxLength, 0x58},
		{Read, IndexMaxLength, 0},
	}
	for i, tt := range tests {
		if Direction(sent[i].Data[1]) != tt.dir {
			t.Errorf("frame %d direction: got %d, want %d", i, sent[i].Data[1], tt.dir)
		}
		if CommandIndex(sent[i].Data[2]) != tt.index {
			t.Errorf("frame %d index: got %d, want %d", i, sent[i].Data[2], tt.index)
		}
		if sent[i].Data[7] != tt.data {
			t.Errorf("frame %d data: got %02X, want %02X", i, sent[i].Data[7], tt.data)
		}
	}
}

func TestController_InvalidArguments(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, nil, nil)

	if err := ctrl.ChangePoleID(1, 0); !errors.Is(err, ErrInvalidPoleID) {
		t.Errorf("ChangePoleID(1, 0): expected ErrInvalidPoleID, got %v", err)
	}
	if err := ctrl.ReadStatus(1, "TEMPERATURE"); !errors.Is(err, ErrUnknownStatusField) {
		t.Errorf("expected ErrUnknownStatusField, got %v", err)
	}
	if err := ctrl.SetPoleLength(1, -1); !errors.Is(err, ErrInvalidDataRange) {
		t.Errorf("expected ErrInvalidDataRange, got %v", err)
	}
	if len(mock.SentFrames()) != 0 {
		t.Errorf("invalid commands were sent: %d frames", len(mock.SentFrames()))
	}
}

func TestController_Closed(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, nil, nil)

	if err := ctrl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !mock.Closed {
		t.Error("binding not closed")
	}
	if err := ctrl.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if err := ctrl.SetPoleLength(1, 100); !errors.Is(err, ErrControllerClosed) {
		t.Errorf("expected ErrControllerClosed, got %v", err)
	}
	if _, err := ctrl.ReadResponses(context.Background(), nil, 0); !errors.Is(err, ErrControllerClosed) {
		t.Errorf("expected ErrControllerClosed, got %v", err)
	}
}

func TestController_ReadResponses(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, nil, nil)

	mock.Inject(responseFrame(1, true, 100))
	mock.InjectAfter(responseFrame(2, true, 200), 20*time.Millisecond)

	set, err := ctrl.ReadResponses(context.Background(), []int{1, 2}, time.Second)
	if err != nil {
		t.Fatalf("ReadResponses failed: %v", err)
	}
	if len(set) != 2 || set[2].Data != 200 {
		t.Errorf("responses: got %v", set.IDs())
	}
}

func TestController_ReadResponsesTimeout(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, nil, nil)

	mock.Inject(responseFrame(1, true, 100))
	mock.Inject(responseFrame(2, true, 200))

	set, err := ctrl.ReadResponses(context.Background(), []int{1, 2, 3}, 50*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if len(set) != 2 {
		t.Errorf("partial set: got %d responses, want 2", len(set))
	}
	missing, ok := Outstanding(err)
	if !ok || len(missing) != 1 || missing[0] != 3 {
		t.Errorf("outstanding: got %v, want [3]", missing)
	}
}

func TestController_ReadResponsesProxy(t *testing.T) {
	proxy, _ := NewProxyTable([]int{2, 1})
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, proxy, nil)

	mock.Inject(responseFrame(2, true, 111)) // physical 2 is logical 1

	set, err := ctrl.ReadResponses(context.Background(), []int{1}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadResponses failed: %v", err)
	}
	if resp, ok := set[1]; !ok || resp.Data != 111 {
		t.Errorf("logical 1: got %+v, present=%v", resp, ok)
	}
}

func TestController_ReadResponsesContext(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := ctrl.ReadResponses(ctx, []int{1}, time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestController_CommandGap(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl, err := NewController(ControllerConfig{
		Binding:       mock,
		MinCommandGap: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	defer ctrl.Close()

	start := time.Now()
	for i := 1; i <= 3; i++ {
		if err := ctrl.SetPoleLength(i, 100); err != nil {
			t.Fatalf("SetPoleLength failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("commands not spaced: 3 frames in %v", elapsed)
	}
}

func TestPole_Status(t *testing.T) {
	proxy, _ := NewProxyTable([]int{2, 1})
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, proxy, nil)

	// Logical pole 1 answers under physical ID 2
	mock.AddResponse(2, responseFrame(2, true, 345), 5*time.Millisecond)

	pole := ctrl.Pole(1)
	length, err := pole.Length(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 345 {
		t.Errorf("length: got %d, want 345", length)
	}

	sent := mock.SentFrames()
	if len(sent) != 1 {
		t.Fatalf("frames sent: got %d, want 1", len(sent))
	}
	if sent[0].Data[0] != 2 || sent[0].Data[1] != byte(Read) {
		t.Errorf("status request: got % X", sent[0].Data)
	}
}

func TestPole_StatusTimeout(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, nil, nil)

	_, err := ctrl.Pole(4).Status(context.Background(), "ID", 30*time.Millisecond)
	if !IsTimeout(err) {
		t.Errorf("expected timeout, got %v", err)
	}
	poleErr, ok := GetPoleError(err)
	if !ok || poleErr.Pole != 4 {
		t.Errorf("expected PoleError for pole 4, got %v", err)
	}
}

func TestPole_StatusErrorReply(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, nil, nil)
	mock.AddResponse(1, replyFrame(1, false, IndexMaxLength, 0), 0)

	if _, err := ctrl.Pole(1).MaxLength(context.Background(), 100*time.Millisecond); err == nil {
		t.Error("expected error for error status reply")
	}
}

func TestPole_StatusDiscardsStaleFrames(t *testing.T) {
	mock := &transports.MockBinding{ResponseFunc: echo}
	ctrl := newTestController(t, mock, nil, nil)

	// The length acknowledgement is still queued when the status read starts
	if _, err := ctrl.TransferToModel(context.Background(), NewBodyModel("a", 300), TransferOptions{}); err != nil {
		t.Fatalf("TransferToModel failed: %v", err)
	}

	mock.ResponseFunc = nil
	mock.AddResponse(1, replyFrame(1, true, IndexMaxLength, 777), 5*time.Millisecond)

	maxLength, err := ctrl.Pole(1).MaxLength(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("MaxLength failed: %v", err)
	}
	if maxLength != 777 {
		t.Errorf("max length: got %d, want 777", maxLength)
	}
}

func TestPole_StatusIgnoresOtherFields(t *testing.T) {
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, nil, nil)

	// A length reply arrives first and must not be taken for the MAX answer
	mock.AddResponse(1, replyFrame(1, true, IndexLength, 300), 0)
	mock.AddResponse(1, replyFrame(1, true, IndexMaxLength, 777), 30*time.Millisecond)

	maxLength, err := ctrl.Pole(1).MaxLength(context.Background(), 300*time.Millisecond)
	if err != nil {
		t.Fatalf("MaxLength failed: %v", err)
	}
	if maxLength != 777 {
		t.Errorf("max length: got %d, want 777", maxLength)
	}
}

func TestController_QueryStatus(t *testing.T) {
	proxy, _ := NewProxyTable([]int{2, 1})
	mock := &transports.MockBinding{ResponseFunc: echo}
	ctrl := newTestController(t, mock, proxy, nil)

	// A reply from an unrelated pole is queued before the request
	mock.Inject(replyFrame(1, true, IndexID, 9))

	set, err := ctrl.QueryStatus(context.Background(), []int{1}, "ID", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("QueryStatus failed: %v", err)
	}
	if len(set) != 1 {
		t.Fatalf("responses: got %v, want [1]", set.IDs())
	}
	if set[1].Index != IndexID || set[1].ID != 2 {
		t.Errorf("logical 1: got %+v", set[1])
	}

	sent := mock.SentFrames()
	if len(sent) != 1 || sent[0].ID != 2 {
		t.Errorf("request: got %v, want one frame to physical 2", sent)
	}

	if _, err := ctrl.QueryStatus(context.Background(), []int{1}, "SPEED", 0); !errors.Is(err, ErrUnknownStatusField) {
		t.Errorf("expected ErrUnknownStatusField, got %v", err)
	}
}

// countingBinding reports a fixed number of frames lost to queue overflow.
type countingBinding struct {
	*transports.MockBinding
	dropped int
}

func (b countingBinding) Dropped() int { return b.dropped }

func TestController_TimeoutLogsDroppedFrames(t *testing.T) {
	var buf bytes.Buffer
	ctrl, err := NewController(ControllerConfig{
		Binding:      countingBinding{MockBinding: &transports.MockBinding{}, dropped: 4},
		PollInterval: 10 * time.Millisecond,
		Logger:       log.New(&buf, "", 0),
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	defer ctrl.Close()

	if _, err := ctrl.ReadResponses(context.Background(), []int{1}, 20*time.Millisecond); !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !strings.Contains(buf.String(), "4 frames dropped") {
		t.Errorf("log missing dropped count: %q", buf.String())
	}
}

func TestPole_Commands(t *testing.T) {
	proxy, _ := NewProxyTable([]int{3, 1, 2})
	mock := &transports.MockBinding{}
	ctrl := newTestController(t, mock, proxy, nil)

	pole := ctrl.Pole(1)
	if physical, _ := pole.Physical(); physical != 3 {
		t.Errorf("Physical: got %d, want 3", physical)
	}

	if err := pole.SetLength(150); err != nil {
		t.Fatalf("SetLength failed: %v", err)
	}
	if err := pole.SetMaxLength(500); err != nil {
		t.Fatalf("SetMaxLength failed: %v", err)
	}
	if err := pole.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	for i, f := range mock.SentFrames() {
		if f.Data[0] != 3 {
			t.Errorf("frame %d: got pole %d, want physical 3", i, f.Data[0])
		}
	}
}
