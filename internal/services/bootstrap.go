// internal/services/bootstrap.go
package services

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"github.com/Corphon/FlagLens/internal/formatter"
	"github.com/Corphon/FlagLens/internal/intake"
	"github.com/Corphon/FlagLens/internal/models"
	"github.com/Corphon/FlagLens/internal/prompt"
	"github.com/Corphon/FlagLens/internal/storage"
	"github.com/Corphon/FlagLens/internal/utils"
)

// DefaultImageName is the file written under STATIC_DIR/images.
const DefaultImageName = "default-flag.png"

var tricolor = []color.RGBA{
	{0, 85, 164, 255},    // blue
	{255, 255, 255, 255}, // white
	{239, 65, 53, 255},   // red
}

// GenerateDefaultFlag 生成一个简单的竖三色旗 PNG
func GenerateDefaultFlag(width, height int) ([]byte, error) {
	if width < 3 || height < 1 {
		return nil, fmt.Errorf("invalid flag size %dx%d", width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	stripe := width / len(tricolor)
	for i, c := range tricolor {
		x0 := i * stripe
		x1 := x0 + stripe
		if i == len(tricolor)-1 {
			x1 = width
		}
		draw.Draw(img, image.Rect(x0, 0, x1, height), &image.Uniform{c}, image.Point{}, draw.Src)
	}

	// 细边框
	border := color.RGBA{60, 60, 60, 255}
	for x := 0; x < width; x++ {
		img.Set(x, 0, border)
		img.Set(x, height-1, border)
	}
	for y := 0; y < height; y++ {
		img.Set(0, y, border)
		img.Set(width-1, y, border)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode default flag: %w", err)
	}
	return buf.Bytes(), nil
}

// EnsureDefaultImage loads the default flag from staticDir/images, generating
// it first when it does not exist yet.
func EnsureDefaultImage(staticDir string, validator *intake.Validator, logger *utils.Logger) (*intake.EncodedImage, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if validator == nil {
		validator = intake.NewValidator(0)
	}

	if staticDir == "" {
		staticDir = "."
	}
	store, err := storage.NewFileStorage(staticDir)
	if err != nil {
		return nil, err
	}

	data, err := store.LoadFile("images", DefaultImageName)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("default flag image missing, generating", map[string]interface{}{
			"path": store.Path("images", DefaultImageName),
		})

		data, err = GenerateDefaultFlag(600, 400)
		if err != nil {
			return nil, err
		}
		if err := store.SaveFile("images", DefaultImageName, data); err != nil {
			return nil, fmt.Errorf("write default flag: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read default flag: %w", err)
	}

	return validator.Validate(DefaultImageName, data)
}

// DefaultSeed starts every new session ready, showing image with the
// built-in analysis.
func DefaultSeed(image *intake.EncodedImage) SeedFunc {
	text := prompt.DefaultAnalysis
	segments := formatter.Format(text)
	return func() (*intake.EncodedImage, string, []models.Segment) {
		out := make([]models.Segment, len(segments))
		copy(out, segments)
		return image, text, out
	}
}
