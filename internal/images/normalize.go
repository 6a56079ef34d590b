// Package images fetches challenge images and turns them into model input.
package images

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

const DefaultSize = 64

// Normalizer decodes jpeg, png, gif or webp bytes into a planar RGB tensor
// of shape [1, 3, Size, Size] with values in [0, 1].
type Normalizer struct {
	Size int
}

func (n Normalizer) Decode(data []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("image has no pixels")
	}
	return n.tensor(img), nil
}

func (n Normalizer) tensor(img image.Image) []float32 {
	size := n.Size
	if size <= 0 {
		size = DefaultSize
	}
	resized := resize.Resize(uint(size), uint(size), opaque(img), resize.NearestNeighbor)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	data := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*width + x
			data[i] = float32(r) / 65535.0
			data[plane+i] = float32(g) / 65535.0
			data[2*plane+i] = float32(b) / 65535.0
		}
	}
	return data
}

// opaque drops the alpha channel, keeping the straight (non-premultiplied)
// colour of transparent pixels.
func opaque(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xff
			out.Set(x, y, c)
		}
	}
	return out
}
