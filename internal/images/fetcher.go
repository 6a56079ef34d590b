package images

import (
	"context"
	"errors"

	"github.com/Brownie44l1/challenge-api/internal/challenge"
	"github.com/Brownie44l1/challenge-api/internal/remote"
)

// Decoder turns encoded image bytes into a fixed-size float tensor.
type Decoder interface {
	Decode(data []byte) ([]float32, error)
}

// Fetcher downloads an image by id and decodes it.
type Fetcher struct {
	remote remote.Fetcher
	// urlTemplate contains an {id} placeholder.
	urlTemplate string
	decoder     Decoder
}

func NewFetcher(r remote.Fetcher, urlTemplate string, decoder Decoder) *Fetcher {
	return &Fetcher{
		remote:      r,
		urlTemplate: urlTemplate,
		decoder:     decoder,
	}
}

// Download returns the raw bytes of image id.
func (f *Fetcher) Download(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, challenge.UpstreamUnavailable(id, errors.New("empty image id"))
	}
	data, err := f.remote.Fetch(ctx, remote.Expand(f.urlTemplate, "{id}", id))
	if err != nil {
		return nil, challenge.UpstreamUnavailable(id, err)
	}
	return data, nil
}

// Decode runs the decoder on data downloaded for id. It is CPU bound.
func (f *Fetcher) Decode(id string, data []byte) ([]float32, error) {
	tensor, err := f.decoder.Decode(data)
	if err != nil {
		return nil, challenge.ImageDecode(id, err)
	}
	return tensor, nil
}

// Fetch downloads and decodes image id.
func (f *Fetcher) Fetch(ctx context.Context, id string) ([]float32, error) {
	data, err := f.Download(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.Decode(id, data)
}
