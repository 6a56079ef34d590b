package images

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/challenge-api/internal/challenge"
	"github.com/Brownie44l1/challenge-api/internal/remote"
)

func encodePNG(t *testing.T, w, h int, fill func(x, y int) color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizerSolidColor(t *testing.T) {
	data := encodePNG(t, 100, 80, func(int, int) color.Color {
		return color.RGBA{R: 255, G: 0, B: 51, A: 255}
	})

	tensor, err := Normalizer{Size: 64}.Decode(data)
	require.NoError(t, err)
	require.Len(t, tensor, 3*64*64)

	plane := 64 * 64
	for i := 0; i < plane; i++ {
		assert.InDelta(t, 1.0, tensor[i], 1e-6)
		assert.InDelta(t, 0.0, tensor[plane+i], 1e-6)
		assert.InDelta(t, 0.2, tensor[2*plane+i], 1e-6)
	}
}

func TestNormalizerDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 102, B: 0, A: 0})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	tensor, err := Normalizer{Size: 4}.Decode(buf.Bytes())
	require.NoError(t, err)
	plane := 4 * 4
	for i := 0; i < plane; i++ {
		assert.InDelta(t, 1.0, tensor[i], 1e-6)
		assert.InDelta(t, 0.4, tensor[plane+i], 1e-6)
		assert.InDelta(t, 0.0, tensor[2*plane+i], 1e-6)
	}
}

func TestNormalizerIsPlanar(t *testing.T) {
	// Left half white, right half black.
	data := encodePNG(t, 64, 64, func(x, _ int) color.Color {
		if x < 32 {
			return color.White
		}
		return color.Black
	})

	tensor, err := Normalizer{Size: 64}.Decode(data)
	require.NoError(t, err)
	plane := 64 * 64
	for c := 0; c < 3; c++ {
		assert.InDelta(t, 1.0, tensor[c*plane+5], 1e-6)
		assert.InDelta(t, 0.0, tensor[c*plane+60], 1e-6)
	}
}

func TestNormalizerDefaultSize(t *testing.T) {
	data := encodePNG(t, 10, 10, func(int, int) color.Color { return color.Black })
	tensor, err := Normalizer{}.Decode(data)
	require.NoError(t, err)
	assert.Len(t, tensor, 3*DefaultSize*DefaultSize)
}

func TestNormalizerRejectsGarbage(t *testing.T) {
	_, err := Normalizer{Size: 64}.Decode([]byte("definitely not an image"))
	assert.Error(t, err)
}

type mapFetcher map[string][]byte

func (m mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	data, ok := m[url]
	if !ok {
		return nil, &remote.StatusError{URL: url, Status: 404}
	}
	return data, nil
}

func TestFetcher(t *testing.T) {
	good := encodePNG(t, 8, 8, func(int, int) color.Color { return color.White })
	f := NewFetcher(mapFetcher{
		"https://imgs.test/good":    good,
		"https://imgs.test/corrupt": good[:len(good)/2],
	}, "https://imgs.test/{id}", Normalizer{Size: 16})
	ctx := context.Background()

	tensor, err := f.Fetch(ctx, "good")
	require.NoError(t, err)
	assert.Len(t, tensor, 3*16*16)

	_, err = f.Fetch(ctx, "corrupt")
	assert.ErrorIs(t, err, challenge.ErrImageDecode)

	_, err = f.Fetch(ctx, "missing")
	assert.ErrorIs(t, err, challenge.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, remote.ErrNotFound)

	_, err = f.Fetch(ctx, "")
	assert.ErrorIs(t, err, challenge.ErrUpstreamUnavailable)
}
