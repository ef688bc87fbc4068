package capture

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeDevice struct {
	index int

	mu     sync.Mutex
	closed bool
	reads  int
}

func (f *fakeDevice) Read(m *gocv.Mat) bool {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()

	src := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer src.Close()
	src.CopyTo(m)

	time.Sleep(time.Millisecond)
	return true
}

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) Info() StreamInfo {
	return StreamInfo{Width: 64, Height: 48, FPS: 30, Codec: "MJPG", Backend: BackendDefault}
}

func (f *fakeDevice) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeOpener struct {
	mu     sync.Mutex
	opened []*fakeDevice
	fail   bool
}

func (o *fakeOpener) open(index int) (device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fail {
		return nil, errors.Errorf("camera %d: both backends failed", index)
	}

	d := &fakeDevice{index: index}
	o.opened = append(o.opened, d)
	return d, nil
}

func (o *fakeOpener) devices() []*fakeDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeDevice(nil), o.opened...)
}

func newTestSession(o *fakeOpener) *Session {
	s := NewSession(0, discardLogger)
	s.open = o.open
	s.settle = 10 * time.Millisecond
	return s
}

func waitForState(t *testing.T, s *Session, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for state %v (got %v)", want, s.State())
}

func awaitStatus(t *testing.T, s *Session, timeout time.Duration) string {
	t.Helper()
	select {
	case msg := <-s.Status():
		return msg
	case <-time.After(timeout):
		t.Fatal("timeout waiting for status")
		return ""
	}
}

func drainStatus(s *Session) {
	for {
		select {
		case <-s.Status():
		default:
			return
		}
	}
}

func TestStartPublishesStreamSummary(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSession(o)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		s.Stop()
		waitForState(t, s, StateIdle, time.Second)
	}()

	msg := awaitStatus(t, s, time.Second)
	want := "camera 0 open: Default backend, 64x48 @ 30.0 fps [MJPG]"
	if msg != want {
		t.Fatalf("status = %q, want %q", msg, want)
	}

	if got := s.Info().Codec; got != "MJPG" {
		t.Fatalf("recorded codec = %q", got)
	}
}

func TestStartWhileRunningIsNoOp(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSession(o)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, s, StateRunning, time.Second)
	drainStatus(s)

	if err := s.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if msg := awaitStatus(t, s, time.Second); msg != "capture already running" {
		t.Fatalf("status = %q, want already-running notice", msg)
	}
	if s.State() != StateRunning {
		t.Fatalf("state changed to %v", s.State())
	}
	if n := s.workers.Load(); n != 1 {
		t.Fatalf("worker count = %d, want 1", n)
	}
	if len(o.devices()) != 1 {
		t.Fatalf("second device was opened")
	}

	s.Stop()
	waitForState(t, s, StateIdle, time.Second)
}

func TestStopWhileIdleIsNoOp(t *testing.T) {
	s := newTestSession(&fakeOpener{})

	s.Stop()

	if msg := awaitStatus(t, s, time.Second); msg != "capture stopped" {
		t.Fatalf("status = %q, want stopped notice", msg)
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", s.State())
	}
	if n := s.workers.Load(); n != 0 {
		t.Fatalf("worker count = %d, want 0", n)
	}
}

func TestStopReleasesDeviceAndClearsFrame(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSession(o)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Wait for at least one real frame.
	deadline := time.Now().Add(time.Second)
	sawFrame := false
	for !sawFrame && time.Now().Before(deadline) {
		select {
		case img := <-s.Frames():
			sawFrame = img != nil
		case <-time.After(50 * time.Millisecond):
		}
	}
	if !sawFrame {
		t.Fatal("no frame published")
	}

	s.Stop()
	waitForState(t, s, StateIdle, time.Second)

	dev := o.devices()[0]
	if !dev.isClosed() {
		t.Fatal("device not released on stop")
	}

	// The final published frame is nil, clearing the display.
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		select {
		case img := <-s.Frames():
			if img == nil {
				return
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("display was not cleared after stop")
}

func TestDeviceChangeRebindsWorker(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSession(o)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, s, StateRunning, time.Second)

	if err := s.SetDevice(2); err != nil {
		t.Fatalf("set device: %v", err)
	}
	waitForState(t, s, StateRunning, time.Second)

	if n := s.workers.Load(); n != 1 {
		t.Fatalf("worker count after settle = %d, want 1", n)
	}
	if s.DeviceIndex() != 2 {
		t.Fatalf("device index = %d, want 2", s.DeviceIndex())
	}

	devs := o.devices()
	if len(devs) != 2 {
		t.Fatalf("opened %d devices, want 2", len(devs))
	}
	if devs[0].index != 0 || !devs[0].isClosed() {
		t.Fatal("original device not released")
	}
	if devs[1].index != 2 {
		t.Fatalf("worker bound to index %d, want 2", devs[1].index)
	}

	s.Stop()
	waitForState(t, s, StateIdle, time.Second)
}

func TestDeviceChangeWhileIdleOnlyRecordsIndex(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSession(o)

	if err := s.SetDevice(3); err != nil {
		t.Fatalf("set device: %v", err)
	}

	if s.DeviceIndex() != 3 {
		t.Fatalf("device index = %d, want 3", s.DeviceIndex())
	}
	if len(o.devices()) != 0 {
		t.Fatal("idle device change must not open anything")
	}
}

func TestOpenFailureReturnsToIdle(t *testing.T) {
	s := newTestSession(&fakeOpener{fail: true})

	if err := s.Start(); err == nil {
		t.Fatal("expected open error")
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", s.State())
	}
	if n := s.workers.Load(); n != 0 {
		t.Fatalf("worker count = %d, want 0", n)
	}
}

// gatedOpener blocks each open until the test releases the gate, holding
// the session in Starting.
type gatedOpener struct {
	fakeOpener
	gate chan struct{}
}

func (o *gatedOpener) open(index int) (device, error) {
	<-o.gate
	return o.fakeOpener.open(index)
}

func TestStopDuringStartIsHonored(t *testing.T) {
	o := &gatedOpener{gate: make(chan struct{})}
	s := NewSession(0, discardLogger)
	s.open = o.open
	s.settle = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	waitForState(t, s, StateStarting, time.Second)

	// Stop lands while the device is still opening.
	s.Stop()
	o.gate <- struct{}{}

	if err := <-done; err != nil {
		t.Fatalf("start: %v", err)
	}

	waitForState(t, s, StateIdle, time.Second)

	if n := s.workers.Load(); n != 0 {
		t.Fatalf("worker count = %d, want 0", n)
	}

	devs := o.devices()
	if len(devs) != 1 || !devs[0].isClosed() {
		t.Fatal("device opened during a pending stop must be released")
	}

	if msg := awaitStatus(t, s, time.Second); msg != "capture stopped" {
		t.Fatalf("status = %q, want stopped notice", msg)
	}

	// The session is not wedged: it can start and stop again.
	go func() { o.gate <- struct{}{} }()
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitForState(t, s, StateRunning, time.Second)

	s.Stop()
	waitForState(t, s, StateIdle, time.Second)
}

func TestSetDeviceDuringStartingRebinds(t *testing.T) {
	o := &gatedOpener{gate: make(chan struct{}, 2)}
	s := NewSession(0, discardLogger)
	s.open = o.open
	s.settle = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	waitForState(t, s, StateStarting, time.Second)

	// Index change while the original open is still in flight.
	if err := s.SetDevice(2); err != nil {
		t.Fatalf("set device: %v", err)
	}

	o.gate <- struct{}{}
	o.gate <- struct{}{}

	if err := <-done; err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, s, StateRunning, time.Second)

	devs := o.devices()
	if len(devs) != 2 {
		t.Fatalf("opened %d devices, want 2", len(devs))
	}
	if devs[0].index != 0 || !devs[0].isClosed() {
		t.Fatal("stale device not released")
	}
	if devs[1].index != 2 {
		t.Fatalf("worker bound to index %d, want 2", devs[1].index)
	}
	if s.DeviceIndex() != 2 {
		t.Fatalf("device index = %d, want 2", s.DeviceIndex())
	}
	if n := s.workers.Load(); n != 1 {
		t.Fatalf("worker count = %d, want 1", n)
	}

	s.Stop()
	waitForState(t, s, StateIdle, time.Second)
}

type failingProcessor struct {
	calls atomic.Int32
}

func (p *failingProcessor) Process(*gocv.Mat) (int, error) {
	p.calls.Add(1)
	return 0, errors.New("detector broke")
}

func TestProcessorErrorDoesNotStopLoop(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSession(o)

	p := &failingProcessor{}
	s.SetProcessor(p)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		s.Stop()
		waitForState(t, s, StateIdle, time.Second)
	}()

	deadline := time.Now().Add(time.Second)
	for p.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.calls.Load() < 3 {
		t.Fatal("loop did not keep running after processor errors")
	}
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want Running", s.State())
	}
}
