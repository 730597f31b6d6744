package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.markscan.dev/markscan/rimage"
	"go.markscan.dev/markscan/upload"
)

// UploadAction posts the image named by the first argument to a capture endpoint.
func UploadAction(c *cli.Context) error {
	imagePath := c.Args().First()
	if imagePath == "" {
		return errors.New("an image file is required")
	}
	img, err := rimage.ReadImageFromFile(imagePath)
	if err != nil {
		return err
	}
	client, err := upload.NewClient(upload.Config{
		URL:     c.String(flagURL),
		Field:   c.String(flagField),
		Timeout: c.Duration(flagTimeout),
		Quality: c.Int(flagQuality),
	}, newLogger(c))
	if err != nil {
		return err
	}
	resp, err := client.Submit(c.Context, img)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "id: %s", resp.ID)
	printf(c.App.Writer, "image_marked: %s", resp.ImageMarked)
	return nil
}
