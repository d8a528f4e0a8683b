package services

import (
	"sync"

	"github.com/rs/zerolog/log"

	"taxiflow/artifact"
)

// ModelService loads the artifact on first use and keeps it for the life of
// the process. A failed load is retried on the next call.
type ModelService struct {
	path string
	load func(string) (*artifact.Artifact, error)

	mu       sync.Mutex
	artifact *artifact.Artifact
}

func NewModelService(path string) *ModelService {
	return &ModelService{path: path, load: artifact.Load}
}

// NewModelServiceWith serves an already loaded artifact.
func NewModelServiceWith(a *artifact.Artifact) *ModelService {
	return &ModelService{artifact: a, load: artifact.Load}
}

func (s *ModelService) Get() (*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact != nil {
		return s.artifact, nil
	}

	a, err := s.load(s.path)
	if err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("model load failed")
		return nil, err
	}
	log.Info().Str("path", s.path).Str("model_version", a.Version()).Msg("model loaded")
	s.artifact = a
	return a, nil
}

func (s *ModelService) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact != nil
}
