// Package dataset produces the labeled arrivals dataset a training campaign
// runs over. A dataset is one CSV artifact (one row per day in the requested
// range) plus a sidecar manifest that lets training jobs validate
// compatibility without re-deriving the generation spec.
package dataset

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DateLayout is the wire format for all dates in specs and manifests.
const DateLayout = "2006-01-02"

// Strategy names a dataset generation mode.
type Strategy string

const (
	// StrategyRandomCyclic synthesizes daily arrival counts with a yearly
	// seasonal cycle, deterministically seeded from the spec.
	StrategyRandomCyclic Strategy = "random_cyclic"

	// StrategyUpstreamReferrals pulls real daily referral counts from the
	// backend API instead of synthesizing them.
	StrategyUpstreamReferrals Strategy = "upstream_referrals"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRandomCyclic, StrategyUpstreamReferrals:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unrecognized strategy %q", s)
}

// Spec describes one dataset generation request.
type Spec struct {
	Strategy   Strategy `json:"strategy" yaml:"strategy"`
	StartDate  string   `json:"start_date" yaml:"start_date"`
	EndDate    string   `json:"end_date" yaml:"end_date"`
	OutputPath string   `json:"output_path" yaml:"output_path"`
}

// Validate checks the spec fields without touching the filesystem.
func (s Spec) Validate() error {
	if _, err := ParseStrategy(string(s.Strategy)); err != nil {
		return err
	}
	start, end, err := s.dateRange()
	if err != nil {
		return err
	}
	if start.After(end) {
		return fmt.Errorf("start date %s is after end date %s", s.StartDate, s.EndDate)
	}
	if s.OutputPath == "" {
		return fmt.Errorf("output path required")
	}
	return nil
}

func (s Spec) dateRange() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, s.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", s.StartDate, err)
	}
	end, err := time.Parse(DateLayout, s.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", s.EndDate, err)
	}
	return start, end, nil
}

// Manifest is the sidecar written alongside every artifact. It is the
// spec-derived marker that detects incompatible overwrites and lets training
// jobs validate a dataset before use.
type Manifest struct {
	Strategy  Strategy `json:"strategy"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	RowCount  int      `json:"row_count"`
	Checksum  string   `json:"checksum"` // sha256 of the artifact file
}

// CompatibleWith reports whether the manifest describes the same logical
// dataset as the spec.
func (m *Manifest) CompatibleWith(spec Spec) bool {
	return m.Strategy == spec.Strategy &&
		m.StartDate == spec.StartDate &&
		m.EndDate == spec.EndDate
}

// ManifestPath returns the sidecar path for an artifact path.
func ManifestPath(artifactPath string) string {
	return artifactPath + ".manifest.json"
}

// LoadManifest reads the sidecar manifest for an artifact.
func LoadManifest(artifactPath string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(artifactPath))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Artifact is an immutable dataset file plus its manifest. Once returned by
// Generate the file handle is closed and the content is sealed by checksum.
type Artifact struct {
	Path     string
	Manifest Manifest
}

// Row is one day of arrivals.
type Row struct {
	Date     string
	Arrivals float64
}

// ReadRows parses an artifact CSV.
func ReadRows(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	if len(header) != 2 || header[0] != "date" || header[1] != "arrivals" {
		return nil, fmt.Errorf("unexpected dataset header %v", header)
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset row: %w", err)
		}
		arrivals, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("row %s: bad arrivals %q: %w", rec[0], rec[1], err)
		}
		rows = append(rows, Row{Date: rec[0], Arrivals: arrivals})
	}
	return rows, nil
}

// Validate checks an artifact against its sidecar manifest: the checksum must
// match the file content and the row count must match the CSV. Returns the
// manifest on success so callers can reference the validated dataset.
func Validate(path string) (*Manifest, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}

	sum, err := fileChecksum(path)
	if err != nil {
		return nil, err
	}
	if sum != m.Checksum {
		return nil, fmt.Errorf("dataset %s: checksum mismatch (manifest %s, file %s)", path, m.Checksum, sum)
	}

	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) != m.RowCount {
		return nil, fmt.Errorf("dataset %s: row count mismatch (manifest %d, file %d)", path, m.RowCount, len(rows))
	}

	return m, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open dataset for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum dataset: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeManifest(artifactPath string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ManifestPath(artifactPath), data, 0644)
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// GenerationError is the failure type for dataset generation. It is fatal to
// the whole campaign: no training runs without a dataset.
type GenerationError struct {
	Strategy Strategy
	Reason   string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dataset generation failed (%s): %s: %v", e.Strategy, e.Reason, e.Err)
	}
	return fmt.Sprintf("dataset generation failed (%s): %s", e.Strategy, e.Reason)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func generationErr(strategy Strategy, reason string, err error) *GenerationError {
	return &GenerationError{Strategy: strategy, Reason: reason, Err: err}
}
