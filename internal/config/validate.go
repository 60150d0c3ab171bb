package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCohort(); err != nil {
		return err
	}
	if err := c.validateTractography(); err != nil {
		return err
	}
	if err := c.validateRecognition(); err != nil {
		return err
	}
	if err := c.validateProfiles(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.ArtifactDir == "" {
		return errors.New("paths.artifact_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateCohort() error {
	if c.Cohort.Workers < 1 {
		return errors.New("cohort.workers must be at least 1")
	}
	return nil
}

func (c *Config) validateTractography() error {
	if c.Tractography.StepSizeMM <= 0 {
		return errors.New("tractography.step_size_mm must be positive")
	}
	if c.Tractography.MaxAngleDeg <= 0 || c.Tractography.MaxAngleDeg > 90 {
		return errors.New("tractography.max_angle_deg must be in (0, 90]")
	}
	if c.Tractography.SeedDensity < 1 {
		return errors.New("tractography.seed_density must be at least 1")
	}
	return nil
}

func (c *Config) validateRecognition() error {
	switch c.Recognition.Membership {
	case "exclusive", "probabilistic":
	default:
		return fmt.Errorf("recognition.membership must be %q or %q", "exclusive", "probabilistic")
	}
	if c.Recognition.MaxDistanceMM <= 0 {
		return errors.New("recognition.max_distance_mm must be positive")
	}
	return nil
}

func (c *Config) validateProfiles() error {
	if c.Profiles.Nodes < 2 {
		return errors.New("profiles.nodes must be at least 2")
	}
	if len(c.Profiles.Properties) == 0 {
		return errors.New("profiles.properties must list at least one tissue property")
	}
	switch c.Profiles.Weighting {
	case "gaussian", "uniform":
	default:
		return fmt.Errorf("profiles.weighting must be %q or %q", "gaussian", "uniform")
	}
	return nil
}
