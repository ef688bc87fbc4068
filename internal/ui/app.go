package ui

import (
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"camview/internal/config"
	"camview/internal/ui/cwidget"
	"camview/processing/capture"
	"camview/processing/detector"
	"camview/processing/snapshot"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

type CamApp struct {
	fyneApp fyne.App
	mainWin fyne.Window

	config  *config.Config
	session *capture.Session
	loader  *detector.Loader
	faceDet *detector.FaceDetector
	logger  *slog.Logger

	baseDir string

	videoCanvas  *canvas.Image
	statusLabel  *widget.Label
	cascadeLabel *widget.Label

	deviceSelect *widget.Select
	deviceList   []capture.DeviceEntry

	mu        sync.Mutex
	lastFrame image.Image
}

func CreateApp(s *capture.Session, l *detector.Loader, fd *detector.FaceDetector, cfg *config.Config, logger *slog.Logger) *CamApp {
	a := app.New()
	w := a.NewWindow("Camera Viewer")

	w.Resize(fyne.NewSize(1100, 620))

	baseDir, err := os.Getwd()
	if err != nil {
		baseDir = "."
	}

	return &CamApp{
		fyneApp: a,
		mainWin: w,
		config:  cfg,
		session: s,
		loader:  l,
		faceDet: fd,
		logger:  logger,
		baseDir: baseDir,
	}
}

func (a *CamApp) Run() {
	a.videoCanvas = canvas.NewImageFromImage(nil)
	a.videoCanvas.FillMode = canvas.ImageFillContain
	a.videoCanvas.SetMinSize(fyne.NewSize(640, 480))

	a.statusLabel = widget.NewLabel("ready")
	a.statusLabel.Wrapping = fyne.TextWrapWord

	a.cascadeLabel = widget.NewLabel(a.cascadeText())

	settingsLabel := widget.NewLabelWithStyle("Camera", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})

	a.deviceSelect = widget.NewSelect([]string{"Loading cameras..."}, a.onDeviceSelected)
	a.deviceSelect.SetSelected("Loading cameras...")
	a.deviceSelect.Disable()

	startBtn := widget.NewButtonWithIcon("Start", theme.MediaPlayIcon(), a.onStart)
	stopBtn := widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), a.onStop)
	snapshotBtn := widget.NewButtonWithIcon("Snapshot", theme.DocumentSaveIcon(), a.onSnapshot)

	cascadeBtn := widget.NewButtonWithIcon("Load Cascade", theme.FolderOpenIcon(), a.onLoadCascade)

	sidebar := container.NewVBox(
		settingsLabel,
		widget.NewSeparator(),
		widget.NewLabel("Device:"),
		a.deviceSelect,
		container.NewGridWithColumns(2, startBtn, stopBtn),
		widget.NewSeparator(),
		widget.NewLabelWithStyle("Detection", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		a.buildModeSelect(),
		a.cascadeLabel,
		cascadeBtn,
		a.buildParamInputs(),
		widget.NewSeparator(),
		snapshotBtn,
	)

	videoContainer := container.NewBorder(
		nil,
		a.statusLabel,
		nil, nil,
		a.videoCanvas,
	)

	split := container.NewHSplit(
		container.NewPadded(sidebar),
		container.NewPadded(videoContainer),
	)
	split.SetOffset(0.28)

	a.mainWin.SetContent(split)

	a.populateDevices()

	go a.runPlayerLoop()
	go a.runStatusLoop()

	a.mainWin.SetCloseIntercept(func() {
		a.session.Stop()
		a.config.SaveByDefault()
		a.mainWin.Close()
	})

	a.mainWin.CenterOnScreen()
	a.mainWin.ShowAndRun()
}

// buildModeSelect picks the detector backend. The choice is persisted and
// takes effect on the next launch.
func (a *CamApp) buildModeSelect() *widget.Select {
	modeSelect := widget.NewSelect(config.DetectorsList[:], func(s string) {
		a.config.ActiveDetector = config.DetectorMode(s)
	})
	modeSelect.SetSelected(string(a.config.ActiveDetector))

	return modeSelect
}

func (a *CamApp) buildParamInputs() *fyne.Container {
	scaleInput := cwidget.NewFloatInput(
		"Scale factor",
		"Enter number > 1.0",
		a.config.GetScaleFactor(),
		func(f float64) {
			a.config.SetScaleFactor(f)
		},
	)

	neighborsInput := cwidget.NewIntInput(
		"Min neighbors",
		"Enter integer",
		a.config.GetMinNeighbors(),
		func(i int) {
			a.config.SetMinNeighbors(i)
		},
	)

	sizeInput := cwidget.NewIntInput(
		"Min size",
		"Enter integer",
		a.config.GetMinSize(),
		func(i int) {
			a.config.SetMinSize(i)
		},
	)

	return container.NewVBox(scaleInput, neighborsInput, sizeInput)
}

func (a *CamApp) populateDevices() {
	go func() {
		devices := capture.ListCameras()

		fyne.Do(func() {
			a.deviceList = devices

			labels := make([]string, len(devices))
			selected := ""
			for i, d := range devices {
				labels[i] = d.Label
				if d.Index == a.config.GetDeviceIndex() {
					selected = d.Label
				}
			}

			a.deviceSelect.Options = labels
			a.deviceSelect.Enable()

			if selected != "" {
				a.deviceSelect.SetSelected(selected)
			} else {
				a.deviceSelect.SetSelected(labels[0])
			}
			a.deviceSelect.Refresh()
		})
	}()
}

func (a *CamApp) onDeviceSelected(label string) {
	for _, d := range a.deviceList {
		if d.Label == label && d.Index != a.session.DeviceIndex() {
			a.config.SetDeviceIndex(d.Index)

			go func(idx int) {
				if err := a.session.SetDevice(idx); err != nil {
					fyne.Do(func() {
						dialog.ShowError(err, a.mainWin)
					})
				}
			}(d.Index)
			return
		}
	}
}

func (a *CamApp) onStart() {
	go func() {
		a.ensureCascade()

		if err := a.session.Start(); err != nil {
			fyne.Do(func() {
				dialog.ShowError(err, a.mainWin)
			})
		}
	}()
}

func (a *CamApp) onStop() {
	a.session.Stop()
}

func (a *CamApp) onSnapshot() {
	a.mu.Lock()
	frame := a.lastFrame
	a.mu.Unlock()

	if frame == nil {
		a.statusLabel.SetText("no frame to save")
		return
	}

	go func() {
		path, err := snapshot.Save(frame, a.baseDir)

		fyne.Do(func() {
			if err != nil {
				a.statusLabel.SetText("snapshot failed: " + err.Error())
				return
			}
			a.statusLabel.SetText("snapshot saved: " + filepath.Base(path))
		})
	}()
}

func (a *CamApp) onLoadCascade() {
	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil || reader == nil {
			return
		}

		path := reader.URI().Path()
		reader.Close()

		a.applyCascade(path)
	}, a.mainWin)

	fd.SetFilter(storage.NewExtensionFileFilter([]string{".xml"}))
	fd.Show()
}

func (a *CamApp) applyCascade(path string) {
	status, err := a.loader.Load(path)

	a.statusLabel.SetText(status)

	if err != nil {
		return
	}

	a.config.SetCascadePath(path)
	a.cascadeLabel.SetText(a.cascadeText())

	if a.faceDet != nil {
		a.session.SetProcessor(a.faceDet)
	}
}

// ensureCascade resolves a cascade before the first start in cascade mode
// and reports the outcome on the status line either way. Failure leaves
// manual selection open.
func (a *CamApp) ensureCascade() {
	if a.faceDet == nil || a.loader.Loaded() {
		return
	}

	status, ok := a.resolveCascade()
	if ok {
		a.session.SetProcessor(a.faceDet)
	}

	fyne.Do(func() {
		a.statusLabel.SetText(status)
		a.cascadeLabel.SetText(a.cascadeText())
	})
}

// resolveCascade locates and loads a cascade: the configured path, then a
// previously downloaded default file, then a fetch. The returned status is
// user-facing and set on every branch.
func (a *CamApp) resolveCascade() (string, bool) {
	path := a.config.GetCascadePath()

	if path == "" {
		path = filepath.Join(a.baseDir, config.DefaultCascadeFile)

		if _, err := os.Stat(path); os.IsNotExist(err) {
			fetched, err := detector.FetchDefaultCascade(a.baseDir)
			if err != nil {
				a.logger.Warn("default cascade fetch failed", "error", err)
				return "default cascade download failed: " + err.Error(), false
			}
			path = fetched
		}
	}

	status, err := a.loader.Load(path)
	if err != nil {
		a.logger.Warn("cascade load failed", "path", path, "error", err)
		return status, false
	}

	a.config.SetCascadePath(path)
	return status, true
}

func (a *CamApp) cascadeText() string {
	if a.loader != nil && a.loader.Loaded() {
		return "Cascade: " + filepath.Base(a.loader.Path())
	}
	return "Cascade: none"
}

func (a *CamApp) runPlayerLoop() {
	for frame := range a.session.Frames() {
		frame := frame

		a.mu.Lock()
		a.lastFrame = frame
		a.mu.Unlock()

		fyne.Do(func() {
			a.videoCanvas.Image = frame
			a.videoCanvas.Refresh()
		})
	}
}

func (a *CamApp) runStatusLoop() {
	for msg := range a.session.Status() {
		msg := msg

		fyne.Do(func() {
			a.statusLabel.SetText(msg)
		})
	}
}
