package capture

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

type Backend string

const (
	BackendDefault  Backend = "Default"
	BackendFallback Backend = "Fallback"

	maxProbeIndex = 5

	// Shown when the FOURCC integer does not decode to printable characters.
	codecPlaceholder = "----"
)

// StreamInfo holds the properties reported by an opened device.
type StreamInfo struct {
	Width   int
	Height  int
	FPS     float64
	Codec   string
	Backend Backend
}

func (si StreamInfo) String() string {
	return fmt.Sprintf("%s backend, %dx%d @ %.1f fps [%s]", si.Backend, si.Width, si.Height, si.FPS, si.Codec)
}

// device is what the poll loop needs from an open camera. The gocv-backed
// implementation is the only one outside tests.
type device interface {
	Read(m *gocv.Mat) bool
	Close() error
	Info() StreamInfo
}

type cameraDevice struct {
	cap  *gocv.VideoCapture
	info StreamInfo
}

func (c *cameraDevice) Read(m *gocv.Mat) bool { return c.cap.Read(m) }
func (c *cameraDevice) Close() error          { return c.cap.Close() }
func (c *cameraDevice) Info() StreamInfo      { return c.info }

// nativeAPI is the platform capture API tried after the default backend.
func nativeAPI() gocv.VideoCaptureAPI {
	switch runtime.GOOS {
	case "windows":
		return gocv.VideoCaptureDshow
	case "darwin":
		return gocv.VideoCaptureAVFoundation
	default:
		return gocv.VideoCaptureV4L2
	}
}

// openDevice opens the camera at index, retrying with the platform-native
// backend when the default one fails.
func openDevice(index int) (device, error) {
	cap, err := gocv.OpenVideoCaptureWithAPI(index, gocv.VideoCaptureAny)
	backend := BackendDefault

	if err != nil || !cap.IsOpened() {
		if cap != nil {
			cap.Close()
		}

		cap, err = gocv.OpenVideoCaptureWithAPI(index, nativeAPI())
		backend = BackendFallback

		if err != nil {
			return nil, errors.Wrapf(err, "camera %d: both backends failed", index)
		}
		if !cap.IsOpened() {
			cap.Close()
			return nil, errors.Errorf("camera %d: both backends failed", index)
		}
	}

	return &cameraDevice{cap: cap, info: queryInfo(cap, backend)}, nil
}

func queryInfo(cap *gocv.VideoCapture, backend Backend) StreamInfo {
	return StreamInfo{
		Width:   int(cap.Get(gocv.VideoCaptureFrameWidth)),
		Height:  int(cap.Get(gocv.VideoCaptureFrameHeight)),
		FPS:     cap.Get(gocv.VideoCaptureFPS),
		Codec:   DecodeFOURCC(uint32(int64(cap.Get(gocv.VideoCaptureFOURCC)))),
		Backend: backend,
	}
}

// DecodeFOURCC unpacks a four-character codec tag, least-significant byte
// first. Non-printable bytes yield the placeholder.
func DecodeFOURCC(code uint32) string {
	b := []byte{
		byte(code),
		byte(code >> 8),
		byte(code >> 16),
		byte(code >> 24),
	}

	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return codecPlaceholder
		}
	}

	return string(b)
}

// ListCameras probes device indices 0 through maxProbeIndex, opening and
// immediately releasing each. With no usable device it still reports a
// single synthetic entry so the selector is never empty.
func ListCameras() []DeviceEntry {
	var cameras []DeviceEntry

	for i := 0; i <= maxProbeIndex; i++ {
		cap, err := gocv.OpenVideoCapture(i)
		if err != nil {
			continue
		}
		if cap.IsOpened() {
			cameras = append(cameras, DeviceEntry{Index: i, Label: fmt.Sprintf("Camera%d", i)})
		}
		cap.Close()
	}

	if len(cameras) == 0 {
		cameras = []DeviceEntry{{Index: 0, Label: "Camera0"}}
	}

	return cameras
}

type DeviceEntry struct {
	Index int
	Label string
}
