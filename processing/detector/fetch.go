package detector

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"camview/internal/config"

	"github.com/pkg/errors"
)

// DefaultCascadeURL points at the stock frontal-face cascade.
const DefaultCascadeURL = "https://raw.githubusercontent.com/opencv/opencv/master/data/haarcascades/haarcascade_frontalface_default.xml"

var fetchClient = &http.Client{Timeout: 30 * time.Second}

// FetchDefaultCascade downloads the default cascade into dir and returns
// the saved path. Best effort: callers treat any error as "fall back to
// the file picker".
func FetchDefaultCascade(dir string) (string, error) {
	resp, err := fetchClient.Get(DefaultCascadeURL)
	if err != nil {
		return "", errors.Wrap(err, "fetch default cascade")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("fetch default cascade: %s", resp.Status)
	}

	dst := filepath.Join(dir, config.DefaultCascadeFile)

	f, err := os.Create(dst)
	if err != nil {
		return "", errors.Wrap(err, "save default cascade")
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dst)
		return "", errors.Wrap(err, "save default cascade")
	}

	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", errors.Wrap(err, "save default cascade")
	}

	return dst, nil
}
