package storyteller

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// GradientPNG renders a vertical gradient whose hue depends on the turn, so
// every turn gets a recognisably different picture.
func GradientPNG(turnID, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}

	hue := math.Mod(float64(turnID)*47, 360)
	top := colorful.Hsv(hue, 0.55, 0.95)
	bottom := colorful.Hsv(math.Mod(hue+60, 360), 0.8, 0.35)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		t := 0.0
		if height > 1 {
			t = float64(y) / float64(height-1)
		}
		row := top.BlendLab(bottom, t).Clamped()
		for x := 0; x < width; x++ {
			// a soft diagonal band
			shade := row
			if (x+y)%(width/4+1) == 0 {
				shade = row.BlendLab(colorful.Color{R: 1, G: 1, B: 1}, 0.25)
			}
			r, g, b := shade.RGB255()
			i := img.PixOffset(x, y)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, 0xff
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
