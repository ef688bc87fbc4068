package capture

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// FrameProcessor annotates a frame in place and reports how many regions
// it found. The session calls it from the poll goroutine.
type FrameProcessor interface {
	Process(frame *gocv.Mat) (int, error)
}

type openFunc func(index int) (device, error)

const (
	// Delay between releasing a device and reopening it on index change,
	// so the backend can fully free the handle.
	settleDelay = 300 * time.Millisecond

	missDelay = 5 * time.Millisecond
)

// Session owns the lifecycle of one open camera stream: open with backend
// fallback, the poll loop, and teardown. At most one poll goroutine runs
// at a time. Frames and status text are published on single-slot channels
// where the newest value wins; the presentation layer consumes them on its
// own schedule.
type Session struct {
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	index   int
	info    StreamInfo
	proc    FrameProcessor
	stopReq bool

	running atomic.Bool
	workers atomic.Int32

	frames chan image.Image
	status chan string

	open   openFunc
	settle time.Duration
}

func NewSession(deviceIndex int, logger *slog.Logger) *Session {
	return &Session{
		logger: logger,
		index:  deviceIndex,
		frames: make(chan image.Image, 1),
		status: make(chan string, 1),
		open:   openDevice,
		settle: settleDelay,
	}
}

// Frames delivers display-ready images. A nil image means the stream
// stopped and the display should be cleared.
func (s *Session) Frames() <-chan image.Image { return s.frames }

// Status delivers the latest user-facing status line.
func (s *Session) Status() <-chan string { return s.status }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Info() StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *Session) DeviceIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Session) SetProcessor(p FrameProcessor) {
	s.mu.Lock()
	s.proc = p
	s.mu.Unlock()
}

func (s *Session) processor() FrameProcessor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Start opens the selected device and begins polling. Starting an already
// active session is a status-only no-op. An open failure on both backends
// is returned to the caller for a blocking notification.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		s.publishStatus("capture already running")
		return nil
	}
	s.state = StateStarting
	index := s.index
	s.mu.Unlock()

	for {
		dev, err := s.open(index)
		if err != nil {
			s.mu.Lock()
			s.state = StateIdle
			s.stopReq = false
			s.mu.Unlock()

			s.logger.Error("device open failed", "index", index, "error", err)
			s.publishStatus(fmt.Sprintf("camera %d failed to open", index))
			return err
		}

		info := dev.Info()

		s.mu.Lock()

		if s.stopReq {
			// A stop arrived while the device was opening.
			s.stopReq = false
			s.state = StateIdle
			s.mu.Unlock()

			dev.Close()
			s.publishStatus("capture stopped")
			return nil
		}

		if s.index != index {
			// The selected device changed while this one was opening.
			index = s.index
			s.mu.Unlock()

			dev.Close()
			continue
		}

		s.info = info
		s.state = StateRunning
		s.running.Store(true)
		s.mu.Unlock()

		s.logger.Info("capture started", "index", index, "stream", info.String())
		s.publishStatus(fmt.Sprintf("camera %d open: %s", index, info))

		go s.pollLoop(dev)

		return nil
	}
}

// Stop clears the running flag; the poll goroutine exits after its current
// read, releases the device and reports "capture stopped". A stop during a
// still-opening start is remembered and applied as soon as the open
// finishes. Stopping an idle session only refreshes the status.
func (s *Session) Stop() {
	s.mu.Lock()

	switch s.state {
	case StateRunning:
		s.state = StateStopping
		s.running.Store(false)
		s.mu.Unlock()
	case StateStarting:
		s.stopReq = true
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.publishStatus("capture stopped")
	}
}

// SetDevice switches to another camera index. A running session is stopped
// first, then restarted after a short settling delay so the backend can
// release the old handle.
func (s *Session) SetDevice(index int) error {
	s.mu.Lock()
	wasRunning := s.state == StateRunning
	s.index = index
	s.mu.Unlock()

	if !wasRunning {
		return nil
	}

	s.Stop()
	s.awaitIdle(time.Second)
	time.Sleep(s.settle)

	return s.Start()
}

func (s *Session) awaitIdle(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == StateIdle {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *Session) pollLoop(dev device) {
	s.workers.Add(1)
	defer s.workers.Add(-1)

	defer func() {
		dev.Close()

		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()

		s.publishFrame(nil)
		s.publishStatus("capture stopped")
		s.logger.Info("capture stopped")
	}()

	frame := gocv.NewMat()
	defer frame.Close()

	for s.running.Load() {
		if ok := dev.Read(&frame); !ok || frame.Empty() {
			// transient miss, not an error
			time.Sleep(missDelay)
			continue
		}

		if p := s.processor(); p != nil {
			if n, err := p.Process(&frame); err != nil {
				s.logger.Warn("detection failed", "error", err)
				s.publishStatus("detection failed: " + err.Error())
			} else {
				s.publishStatus(fmt.Sprintf("faces detected: %d", n))
			}
		}

		// ToImage copies the pixels; the Mat's storage is reused by the
		// backend on the next Read and must not leak past this iteration.
		img, err := frame.ToImage()
		if err != nil {
			s.logger.Warn("frame conversion failed", "error", err)
			continue
		}

		s.publishFrame(img)
	}
}

func (s *Session) publishFrame(img image.Image) {
	for {
		select {
		case s.frames <- img:
			return
		default:
			select {
			case <-s.frames:
			default:
			}
		}
	}
}

func (s *Session) publishStatus(msg string) {
	for {
		select {
		case s.status <- msg:
			return
		default:
			select {
			case <-s.status:
			default:
			}
		}
	}
}
