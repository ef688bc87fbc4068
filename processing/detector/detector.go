package detector

import (
	"image/color"

	"camview/internal/config"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var boxColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// FaceDetector runs the loaded cascade over frames and draws an outline
// around every detected region. It implements capture.FrameProcessor.
type FaceDetector struct {
	loader *Loader
	cfg    *config.Config
}

func NewFaceDetector(loader *Loader, cfg *config.Config) *FaceDetector {
	return &FaceDetector{loader: loader, cfg: cfg}
}

// Process converts the frame to an equalized single-channel image, runs
// multi-scale detection and annotates the color frame in place. A panic
// inside the native detection stage is converted to a per-frame error;
// the frame is still displayed without annotations.
func (d *FaceDetector) Process(frame *gocv.Mat) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("detection stage: %v", r)
		}
	}()

	cls := d.loader.Current()
	if cls == nil {
		return 0, nil
	}

	gray := gocv.NewMat()
	defer gray.Close()

	gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	rects := cls.Detect(gray, Params{
		ScaleFactor:  d.cfg.GetScaleFactor(),
		MinNeighbors: d.cfg.GetMinNeighbors(),
		MinSize:      d.cfg.GetMinSize(),
	})

	for _, r := range rects {
		gocv.Rectangle(frame, r, boxColor, 2)
	}

	return len(rects), nil
}
