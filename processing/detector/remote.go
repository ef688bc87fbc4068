package detector

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"camview/internal/models"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"
)

// RemoteDetector ships frames to a websocket detection service and keeps
// the latest results, which it draws onto subsequent frames. It implements
// capture.FrameProcessor.
type RemoteDetector struct {
	logger    *slog.Logger
	serverURL string

	inputFrames chan image.Image

	mu          sync.RWMutex
	lastResults []models.DetectionResult

	stopChan chan struct{}
}

func NewRemoteDetector(host string, logger *slog.Logger) *RemoteDetector {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}

	return &RemoteDetector{
		logger:      logger,
		serverURL:   u.String(),
		inputFrames: make(chan image.Image, 5),
		stopChan:    make(chan struct{}),
	}
}

func (d *RemoteDetector) Start() {
	go d.runLoop()
}

func (d *RemoteDetector) Stop() {
	close(d.stopChan)
}

// Process submits the frame for remote detection without blocking and
// annotates it with the last results the service reported. Results arrive
// with normalized [y1, x1, y2, x2] boxes and are rescaled to pixels here.
func (d *RemoteDetector) Process(frame *gocv.Mat) (int, error) {
	if img, err := frame.ToImage(); err == nil {
		select {
		case d.inputFrames <- img:
		default:
		}
	}

	d.mu.RLock()
	results := d.lastResults
	d.mu.RUnlock()

	for _, res := range results {
		if len(res.Box) < 4 {
			continue
		}

		box := res.PixelBox(frame.Cols(), frame.Rows())
		gocv.Rectangle(frame, image.Rect(box.X1, box.Y1, box.X2, box.Y2), boxColor, 2)
	}

	return len(results), nil
}

func (d *RemoteDetector) runLoop() {
	for {
		select {
		case <-d.stopChan:
			return
		default:
		}

		d.logger.Info("connecting to detector server", "url", d.serverURL)
		conn, _, err := websocket.DefaultDialer.Dial(d.serverURL, nil)

		if err != nil {
			d.logger.Warn("connection failed, retrying", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		d.logger.Info("connected to detection server")

		errChan := make(chan error, 1)

		go func() {
			for {
				select {
				case <-d.stopChan:
					return
				case img := <-d.inputFrames:
					var buf bytes.Buffer
					if err := jpeg.Encode(&buf, img, nil); err != nil {
						d.logger.Warn("jpeg encode failed", "error", err)
						continue
					}

					if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
						errChan <- err
						return
					}
				}
			}
		}()

		go func() {
			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					errChan <- err
					return
				}

				var results []models.DetectionResult
				if err := json.Unmarshal(message, &results); err != nil {
					d.logger.Warn("result decode failed", "error", err)
					continue
				}

				d.mu.Lock()
				d.lastResults = results
				d.mu.Unlock()
			}
		}()

		err = <-errChan
		d.logger.Warn("connection lost", "error", err)
		conn.Close()
	}
}
