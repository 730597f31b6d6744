// Package server implements the entry point for running the detection daemon.
package server

import (
	"context"

	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.markscan.dev/markscan/config"
	"go.markscan.dev/markscan/detector"
	"go.markscan.dev/markscan/logging"
)

// Arguments for the daemon.
type Arguments struct {
	ConfigFile string `flag:"0,required,usage=detector config file"`
	Debug      bool   `flag:"debug"`
}

// RunServer is an entry point to starting the daemon that reads a config from the given
// arguments and runs the detection loop until ctx is done.
func RunServer(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := config.Read(argsParsed.ConfigFile)
	if err != nil {
		return err
	}
	if argsParsed.Debug {
		logger.SetLevel(logging.DEBUG)
	} else {
		logger.SetLevel(cfg.LogLevel)
	}
	logger.Infow("config loaded", "path", cfg.ConfigFilePath, "model", cfg.Model.Path, "camera", cfg.Camera.Path)

	d, err := detector.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, d.Close(context.Background()))
	}()
	return d.Run(ctx)
}
