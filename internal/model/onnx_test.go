package model

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/challenge-api/internal/artifact"
	"github.com/Brownie44l1/challenge-api/internal/challenge"
)

// solid returns a 2x2 planar RGB tensor filled with one colour.
func solid(r, g, b float32) []float32 {
	tensor := make([]float32, 12)
	for i := 0; i < 4; i++ {
		tensor[i] = r
		tensor[4+i] = g
		tensor[8+i] = b
	}
	return tensor
}

// testdata/red_vs_rest.onnx takes a [1,3,2,2] input and returns
// [sum(red), sum(green)+sum(blue)] via Flatten and MatMul.
func TestONNXRuntime(t *testing.T) {
	lib := os.Getenv("ONNXRUNTIME_LIB")
	if lib == "" {
		t.Skip("ONNXRUNTIME_LIB not set")
	}
	data, err := os.ReadFile(filepath.Join("testdata", "red_vs_rest.onnx"))
	require.NoError(t, err)

	rt := NewONNXRuntime(lib, 2)
	t.Cleanup(func() {
		assert.NoError(t, rt.Close())
	})

	t.Run("compile and run", func(t *testing.T) {
		g, err := rt.Compile(data)
		require.NoError(t, err)
		defer g.Close()

		out, err := g.Run(solid(1, 0, 0))
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{4, 0}, out, 1e-5)

		out, err = g.Run(solid(0, 0.5, 0.5))
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{0, 4}, out, 1e-5)
	})

	t.Run("concurrent classify on one session", func(t *testing.T) {
		s, err := Build(rt, &artifact.Artifact{Key: "red", Data: data})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				red := i%2 == 0
				tensor := solid(0, 1, 0)
				if red {
					tensor = solid(1, 0, 0)
				}
				positive, err := s.Classify(tensor)
				assert.NoError(t, err)
				assert.Equal(t, red, positive)
			}()
		}
		wg.Wait()

		s.Release()
		<-s.Done()
		assert.NoError(t, s.Err())
	})

	t.Run("garbage bytes", func(t *testing.T) {
		_, err := rt.Compile([]byte("definitely not a model"))
		assert.Error(t, err)

		_, err = Build(rt, &artifact.Artifact{Key: "red", Data: []byte("definitely not a model")})
		assert.ErrorIs(t, err, challenge.ErrInvalidModel)
	})
}
