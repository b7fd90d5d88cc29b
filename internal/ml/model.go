package ml

import (
	"encoding/gob"
	"fmt"
	"os"
	"time"

	"github.com/noctisids/noctis/internal/forest"
)

// Artifact is the persisted ML model: a trained Isolation Forest plus its
// standardizer, the ordered feature-name list, and a training timestamp.
// The on-disk encoding is gob, chosen because it needs no schema alongside
// the binary and the spec treats the artifact's serialization as opaque.
type Artifact struct {
	Forest       *forest.Forest
	Standardizer Standardizer
	FeatureNames []string
	TrainedAt    time.Time
	NSamples     int
}

// SaveArtifact gob-encodes m to path.
func SaveArtifact(path string, m Artifact) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create model artifact: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(m); err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}
	return nil
}

// LoadArtifact decodes a model previously written by SaveArtifact.
func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model artifact: %w", err)
	}
	defer f.Close()
	var m Artifact
	if err := gob.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	return &m, nil
}
