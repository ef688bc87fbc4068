package ui

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"camview/internal/config"
	"camview/processing/capture"
	"camview/processing/detector"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// A rejected cascade file must still produce a user-facing status line,
// not just a log entry.
func TestResolveCascadeSurfacesFailedLoad(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "cascade.xml")

	content := "<html><body>not a cascade</body></html>\n" +
		strings.Repeat("<!-- padding -->\n", 100)
	if err := os.WriteFile(bad, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.NewDefaultConfig()
	cfg.SetCascadePath(bad)

	loader := detector.NewLoader(discardLogger)

	a := &CamApp{
		config:  cfg,
		session: capture.NewSession(0, discardLogger),
		loader:  loader,
		faceDet: detector.NewFaceDetector(loader, cfg),
		logger:  discardLogger,
		baseDir: dir,
	}

	status, ok := a.resolveCascade()

	if ok {
		t.Fatal("resolve reported success for a rejected file")
	}
	if !strings.Contains(status, "cascade rejected") {
		t.Fatalf("status = %q, want a rejection notice", status)
	}
	if loader.Loaded() {
		t.Fatal("rejected file must not leave a classifier loaded")
	}
}
