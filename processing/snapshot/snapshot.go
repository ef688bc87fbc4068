package snapshot

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const dirName = "snapshots"

// Save writes img as a PNG under <baseDir>/snapshots, creating the
// directory if needed, and returns the file path. The filename carries a
// second-resolution timestamp.
func Save(img image.Image, baseDir string) (string, error) {
	if img == nil {
		return "", errors.New("no frame to save")
	}

	dir := filepath.Join(baseDir, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "create snapshot dir")
	}

	name := fmt.Sprintf("snapshot_%s.png", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "create snapshot")
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return "", errors.Wrap(err, "encode snapshot")
	}

	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "write snapshot")
	}

	return path, nil
}
