package main

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Brownie44l1/challenge-api/internal/artifact"
	"github.com/Brownie44l1/challenge-api/internal/model"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func TestServeDrainsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		finished.Store(true)
		w.WriteHeader(http.StatusOK)
	})}
	ln := listen(t)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- serve(ctx, server, ln, 5*time.Second)
	}()

	status := make(chan int, 1)
	go func() {
		res, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			status <- 0
			return
		}
		res.Body.Close()
		status <- res.StatusCode
	}()

	<-entered
	cancel()
	select {
	case <-served:
		t.Fatal("serve returned while a request was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-served)
	assert.True(t, finished.Load())
	assert.Equal(t, http.StatusOK, <-status)
}

func TestServeGivesUpAfterGrace(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	})}
	ln := listen(t)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- serve(ctx, server, ln, 20*time.Millisecond)
	}()
	go http.Get("http://" + ln.Addr().String())

	<-entered
	cancel()
	assert.ErrorIs(t, <-served, context.DeadlineExceeded)
}

type stubGraph struct{}

func (stubGraph) Run(input []float32) ([]float32, error) { return []float32{1, 0}, nil }
func (stubGraph) Close() error                           { return nil }

type stubRuntime struct {
	closed atomic.Bool
}

func (r *stubRuntime) Compile(data []byte) (model.Graph, error) { return stubGraph{}, nil }

func (r *stubRuntime) Close() error {
	r.closed.Store(true)
	return nil
}

func TestShutdownModelsWaitsForSessions(t *testing.T) {
	rt := &stubRuntime{}
	sessions := model.NewSessions(rt, nil)
	s, err := sessions.Acquire(context.Background(), &artifact.Artifact{Key: "dog", Data: []byte("weights")})
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() {
		done <- shutdownModels(sessions, rt, 5*time.Second, zap.NewNop())
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, rt.closed.Load(), "runtime closed while a session was held")
	positive, err := s.Classify(make([]float32, 12))
	require.NoError(t, err)
	assert.True(t, positive)

	s.Release()
	assert.True(t, <-done)
	assert.True(t, rt.closed.Load())
}

func TestShutdownModelsLeavesRuntimeUpOnTimeout(t *testing.T) {
	rt := &stubRuntime{}
	sessions := model.NewSessions(rt, nil)
	s, err := sessions.Acquire(context.Background(), &artifact.Artifact{Key: "dog", Data: []byte("weights")})
	require.NoError(t, err)
	defer s.Release()

	assert.False(t, shutdownModels(sessions, rt, 20*time.Millisecond, zap.NewNop()))
	assert.False(t, rt.closed.Load())
}
