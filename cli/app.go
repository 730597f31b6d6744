// Package cli contains all the logic for the markscan command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"go.markscan.dev/markscan/logging"
)

const (
	flagConfig  = "config"
	flagDebug   = "debug"
	flagOutput  = "output"
	flagURL     = "url"
	flagField   = "field"
	flagTimeout = "timeout"
	flagQuality = "quality"
)

var app = &cli.App{
	Name:            "markscan",
	Usage:           "detect marks in still images",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "detect",
			Usage:     "run one detection cycle over an image file",
			ArgsUsage: "<image>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagConfig,
					Aliases:  []string{"c"},
					Required: true,
					Usage:    "load the detector configuration from `FILE`",
				},
				&cli.PathFlag{
					Name:  flagOutput,
					Usage: "write the annotated image to `FILE`",
				},
			},
			Action: DetectAction,
		},
		{
			Name:      "upload",
			Usage:     "upload an image file to a capture endpoint",
			ArgsUsage: "<image>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     flagURL,
					Required: true,
					Usage:    "capture endpoint",
				},
				&cli.StringFlag{
					Name:  flagField,
					Value: "file",
					Usage: "multipart form field holding the image",
				},
				&cli.DurationFlag{
					Name:  flagTimeout,
					Usage: "request timeout",
				},
				&cli.IntFlag{
					Name:  flagQuality,
					Value: 90,
					Usage: "JPEG quality",
				},
			},
			Action: UploadAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(flagDebug) {
		return logging.NewDebugLogger("markscan")
	}
	logger := logging.NewLogger("markscan")
	logger.SetLevel(logging.WARN)
	return logger
}
