package detector

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	// Anything smaller cannot be a real cascade definition.
	minCascadeBytes = 1024
	sniffBytes      = 8192
)

var (
	ErrTooSmall        = errors.New("file too small to be a cascade")
	ErrLooksLikeHTML   = errors.New("file looks like a saved web page, not cascade XML")
	ErrMissingMarkers  = errors.New("file has no cascade XML markers")
	ErrEmptyClassifier = errors.New("classifier loaded but contains no stages")
)

// Params are the multi-scale detection knobs.
type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
}

// Classifier is a successfully constructed detector.
type Classifier interface {
	Detect(gray gocv.Mat, p Params) []image.Rectangle
	Empty() bool
	Close() error
}

type constructor func(path string) (Classifier, error)

// Loader validates cascade files and owns the currently loaded classifier.
// A failed load never disturbs the classifier already held.
type Loader struct {
	logger *slog.Logger

	mu      sync.Mutex
	current Classifier
	path    string

	construct constructor
}

func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger, construct: newCVClassifier}
}

// Load runs the content sniff on path, constructs the classifier and swaps
// it in, releasing the previous one. The returned string is user-facing
// and set on every branch, success included.
func (l *Loader) Load(path string) (string, error) {
	if err := Validate(path); err != nil {
		l.logger.Warn("cascade rejected", "path", path, "error", err)
		return "cascade rejected: " + err.Error(), err
	}

	cls, err := l.construct(path)
	if err != nil {
		l.logger.Warn("cascade construction failed", "path", path, "error", err)
		return "cascade load failed: " + err.Error(), err
	}

	if cls.Empty() {
		cls.Close()
		l.logger.Warn("cascade empty", "path", path)
		return "cascade load failed: " + ErrEmptyClassifier.Error(), ErrEmptyClassifier
	}

	l.mu.Lock()
	old := l.current
	l.current = cls
	l.path = path
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}

	l.logger.Info("cascade loaded", "path", path)

	return fmt.Sprintf("cascade loaded: %s", filepath.Base(path)), nil
}

func (l *Loader) Current() Classifier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Loader) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

func (l *Loader) Loaded() bool {
	return l.Current() != nil
}

func (l *Loader) Close() {
	l.mu.Lock()
	old := l.current
	l.current = nil
	l.path = ""
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Validate decides whether path plausibly holds a usable cascade without
// parsing it: size floor, then a bounded sniff of the file prefix. The
// HTML check guards against users saving a rendered download page instead
// of the raw XML.
func Validate(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "cascade file")
	}
	if fi.Size() < minCascadeBytes {
		return ErrTooSmall
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "cascade file")
	}
	defer f.Close()

	buf := make([]byte, sniffBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return errors.Wrap(err, "cascade file")
	}

	return SniffPrefix(buf[:n])
}

// SniffPrefix applies the marker heuristic to an already-read file prefix.
func SniffPrefix(prefix []byte) error {
	text := strings.ToLower(string(prefix))

	if strings.Contains(text, "<!doctype html") || strings.Contains(text, "<html") {
		return ErrLooksLikeHTML
	}

	if !strings.Contains(text, "<?xml") {
		return ErrMissingMarkers
	}

	if !strings.Contains(text, "opencv_storage") &&
		!strings.Contains(text, "stages") &&
		!strings.Contains(text, "cascade") {
		return ErrMissingMarkers
	}

	return nil
}

type cvClassifier struct {
	cc gocv.CascadeClassifier
}

func newCVClassifier(path string) (Classifier, error) {
	cc := gocv.NewCascadeClassifier()
	if !cc.Load(path) {
		cc.Close()
		return nil, errors.Errorf("opencv rejected cascade file %s", path)
	}
	return &cvClassifier{cc: cc}, nil
}

func (c *cvClassifier) Detect(gray gocv.Mat, p Params) []image.Rectangle {
	return c.cc.DetectMultiScaleWithParams(
		gray,
		p.ScaleFactor,
		p.MinNeighbors,
		0,
		image.Pt(p.MinSize, p.MinSize),
		image.Pt(0, 0),
	)
}

// Empty is always false here: OpenCV's load refuses a logically empty
// cascade, so a constructed classifier has stages.
func (c *cvClassifier) Empty() bool { return false }

func (c *cvClassifier) Close() error { return c.cc.Close() }
