package main

import (
	"log/slog"

	"camview/internal/config"
	"camview/internal/ui"
	"camview/processing/capture"
	"camview/processing/detector"
)

func main() {
	logger := NewLogger(slog.LevelInfo)

	cfg := config.LoadConfigFile(config.DefaultConfigPath)

	loader := detector.NewLoader(logger)
	defer loader.Close()

	session := capture.NewSession(cfg.GetDeviceIndex(), logger)

	var faceDet *detector.FaceDetector

	switch cfg.ActiveDetector {
	case config.DetectorRemote:
		remote := detector.NewRemoteDetector(cfg.Remote.Host, logger)
		remote.Start()
		defer remote.Stop()

		session.SetProcessor(remote)
	default:
		faceDet = detector.NewFaceDetector(loader, cfg)
	}

	app := ui.CreateApp(session, loader, faceDet, cfg, logger)

	app.Run()
}
