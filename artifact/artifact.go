// Package artifact loads and saves the fitted (encoder, model) pair used
// for trip duration inference.
//
// An artifact is a single JSON document, zstd-compressed when its path ends
// in ".zst". It is read-only once loaded and safe for concurrent use.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"taxiflow/errors"
	"taxiflow/features"
)

// FormatVersion is the only document version Load accepts.
const FormatVersion = 1

const compressedSuffix = ".zst"

type document struct {
	FormatVersion int          `json:"format_version"`
	ModelVersion  string       `json:"model_version,omitempty"`
	RunID         string       `json:"run_id,omitempty"`
	Encoder       *Encoder     `json:"encoder"`
	Model         *LinearModel `json:"model"`
}

type Artifact struct {
	Encoder *Encoder
	Model   *LinearModel

	// ModelVersion and RunID come from experiment tracking when present.
	ModelVersion string
	RunID        string

	digest string
}

// New pairs an encoder with a model and checks their dimensions agree.
func New(enc *Encoder, model *LinearModel) (*Artifact, error) {
	if enc == nil || model == nil {
		return nil, errors.New("encoder and model are required")
	}
	if err := model.check(enc.Len()); err != nil {
		return nil, err
	}
	return &Artifact{Encoder: enc, Model: model}, nil
}

// Load reads the artifact at path. A missing file is ErrArtifactNotFound;
// anything that fails to decode or check out is ErrArtifactCorrupt.
func Load(path string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Mark(errors.Wrapf(err, "load artifact"), errors.ErrArtifactNotFound)
		}
		return nil, errors.Wrapf(err, "load artifact %s", path)
	}

	sum := sha256.Sum256(raw)
	digest := "sha256:" + hex.EncodeToString(sum[:6])

	if strings.HasSuffix(path, compressedSuffix) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, "create zstd decoder")
		}
		defer dec.Close()
		if raw, err = dec.DecodeAll(raw, nil); err != nil {
			return nil, corrupt(path, err)
		}
	}

	var doc document
	d := json.NewDecoder(bytes.NewReader(raw))
	d.DisallowUnknownFields()
	if err := d.Decode(&doc); err != nil {
		return nil, corrupt(path, err)
	}
	if doc.FormatVersion != FormatVersion {
		return nil, corrupt(path, errors.Newf("unknown format version %d", doc.FormatVersion))
	}
	if doc.Encoder == nil || doc.Model == nil {
		return nil, corrupt(path, errors.New("encoder or model missing"))
	}
	if err := doc.Encoder.index(); err != nil {
		return nil, corrupt(path, err)
	}

	a, err := New(doc.Encoder, doc.Model)
	if err != nil {
		return nil, corrupt(path, err)
	}
	a.ModelVersion = doc.ModelVersion
	a.RunID = doc.RunID
	a.digest = digest
	return a, nil
}

func corrupt(path string, err error) error {
	return errors.Mark(errors.Wrapf(err, "artifact %s", path), errors.ErrArtifactCorrupt)
}

// Save writes a to path, compressing when path ends in ".zst".
func (a *Artifact) Save(path string) error {
	raw, err := json.Marshal(document{
		FormatVersion: FormatVersion,
		ModelVersion:  a.ModelVersion,
		RunID:         a.RunID,
		Encoder:       a.Encoder,
		Model:         a.Model,
	})
	if err != nil {
		return errors.Wrap(err, "encode artifact")
	}

	if strings.HasSuffix(path, compressedSuffix) {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return errors.Wrap(err, "create zstd encoder")
		}
		raw = enc.EncodeAll(raw, nil)
		enc.Close()
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "write artifact %s", path)
	}
	return nil
}

// Version identifies the artifact in run provenance: the tracked model
// version when set, otherwise a digest of the loaded file.
func (a *Artifact) Version() string {
	if a.ModelVersion != "" {
		return a.ModelVersion
	}
	if a.digest != "" {
		return a.digest
	}
	return "unversioned"
}

// Predict encodes the vectors in one call and scores them in one call.
func (a *Artifact) Predict(vectors []features.Vector) ([]float64, error) {
	rows, err := a.Encoder.TransformBatch(vectors)
	if err != nil {
		return nil, err
	}
	return a.Model.Predict(rows), nil
}
