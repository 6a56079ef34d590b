// Package model compiles model artifacts into shareable inference sessions.
package model

import (
	"fmt"
	"sync"

	"github.com/Brownie44l1/challenge-api/internal/artifact"
	"github.com/Brownie44l1/challenge-api/internal/challenge"
)

// Session is a compiled artifact shared by concurrent classifications.
//
// It is reference counted: Build returns it holding one reference, every
// additional holder calls Acquire and later Release. The graph is closed and
// the artifact dropped only once the count reaches zero, so neither can go
// away under an in-flight Classify.
type Session struct {
	key   challenge.Key
	graph Graph

	mu       sync.Mutex
	refs     int
	artifact *artifact.Artifact
	done     chan struct{}
	closeErr error
}

// Build compiles a.
func Build(runtime Runtime, a *artifact.Artifact) (*Session, error) {
	if a == nil || len(a.Data) == 0 {
		return nil, challenge.InvalidModel(keyOf(a), fmt.Errorf("empty artifact"))
	}
	graph, err := runtime.Compile(a.Data)
	if err != nil {
		return nil, challenge.InvalidModel(string(a.Key), err)
	}
	return &Session{
		key:      a.Key,
		graph:    graph,
		refs:     1,
		artifact: a,
		done:     make(chan struct{}),
	}, nil
}

func keyOf(a *artifact.Artifact) string {
	if a == nil {
		return ""
	}
	return string(a.Key)
}

func (s *Session) Key() challenge.Key { return s.key }

// Acquire takes a reference. It reports false if the session is already
// released, in which case the caller must not use it.
func (s *Session) Acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		return false
	}
	s.refs++
	return true
}

// Release drops a reference, closing the graph on the last one.
func (s *Session) Release() {
	s.mu.Lock()
	if s.refs == 0 {
		s.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		s.mu.Unlock()
		return
	}
	s.closeErr = s.graph.Close()
	s.artifact = nil
	s.mu.Unlock()
	close(s.done)
}

// Done is closed once the graph has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error from closing the graph, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Refs reports the number of live references.
func (s *Session) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Artifact returns the backing artifact, or nil once released.
func (s *Session) Artifact() *artifact.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// Classify runs one normalized image tensor through the graph. It holds its
// own reference for the duration of the run.
func (s *Session) Classify(tensor []float32) (bool, error) {
	if !s.Acquire() {
		return false, challenge.InferenceFailure(ErrSessionReleased)
	}
	defer s.Release()

	out, err := s.graph.Run(tensor)
	if err != nil {
		return false, challenge.InferenceFailure(err)
	}
	if len(out) != 2 {
		return false, challenge.InferenceFailure(fmt.Errorf("expected 2 output scores, got %d", len(out)))
	}
	return out[0] > out[1], nil
}
