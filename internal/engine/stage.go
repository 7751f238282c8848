package engine

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"
)

var ErrNoStages = errors.New("no stages configured")
var ErrInvalidTarget = errors.New("invalid stage target")
var ErrInvalidProbability = errors.New("anomaly probability must be within [0,100]")
var ErrTooManyVariants = errors.New("too many anomaly variants")
var ErrMarkerMismatch = errors.New("progress marker count does not match target")

// StageConfig is the static description of one stage.
type StageConfig struct {
	Name                      string `json:"name"`
	Target                    int    `json:"target"`
	AnomalyProbabilityPercent int    `json:"anomaly_probability_percent"`
	VariantCount              int    `json:"variant_count"`
	ProgressMarkers           int    `json:"progress_markers"`
	// StartPoint names the teleport destination used while the stage is in progress.
	StartPoint string `json:"start_point,omitempty"`
}

// MarkersMatch reports whether the stage has one progress marker per required success.
func (c StageConfig) MarkersMatch() bool { return c.ProgressMarkers == c.Target }

// Validate reports problems that make the stage unusable. A marker
// mismatch is not one of them, see MarkersMatch.
func (c StageConfig) Validate() error {
	var err error
	if c.Target < 1 || c.Target > math.MaxInt8 {
		err = multierr.Append(err, fmt.Errorf("%w: %d", ErrInvalidTarget, c.Target))
	}
	if c.AnomalyProbabilityPercent < 0 || c.AnomalyProbabilityPercent > 100 {
		err = multierr.Append(err, fmt.Errorf("%w: %d", ErrInvalidProbability, c.AnomalyProbabilityPercent))
	}
	if c.VariantCount < 0 || c.VariantCount > math.MaxInt8 {
		err = multierr.Append(err, fmt.Errorf("%w: %d", ErrTooManyVariants, c.VariantCount))
	}
	return err
}

// ValidateStages checks the whole stage set; stage indexes must fit the
// signed byte of the replicated record.
func ValidateStages(stages []StageConfig) error {
	if len(stages) == 0 {
		return ErrNoStages
	}
	var err error
	if len(stages) > math.MaxInt8 {
		err = multierr.Append(err, fmt.Errorf("too many stages: %d", len(stages)))
	}
	for i, stage := range stages {
		if stageErr := stage.Validate(); stageErr != nil {
			for _, e := range multierr.Errors(stageErr) {
				err = multierr.Append(err, fmt.Errorf("stage %d (%s): %w", i, stage.Name, e))
			}
		}
	}
	return err
}

// MarkerMismatches lists the stages whose progress markers will not be shown.
func MarkerMismatches(stages []StageConfig) error {
	var err error
	for i, stage := range stages {
		if !stage.MarkersMatch() {
			err = multierr.Append(err, fmt.Errorf("stage %d (%s): %w: markers=%d target=%d",
				i, stage.Name, ErrMarkerMismatch, stage.ProgressMarkers, stage.Target))
		}
	}
	return err
}
