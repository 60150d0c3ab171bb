package config

const (
	defaultDataDir     = "~/fascicle/data"
	defaultArtifactDir = "~/.local/share/fascicle/artifacts"
	defaultLogDir      = "~/.local/share/fascicle/logs"

	defaultWorkers = 4

	defaultLogLevel  = "info"
	defaultLogFormat = "console"

	defaultDenoise       = "mppca"
	defaultMaskThreshold = 0.5

	defaultModel       = "csd"
	defaultStepSizeMM  = 0.5
	defaultMaxAngleD   = 30.0
	defaultSeedDensity = 2
	defaultMinLengthMM = 10.0

	defaultTemplate  = "mni152"
	defaultTransform = "syn"

	defaultMembership    = "exclusive"
	defaultMaxDistanceMM = 8.0

	defaultProfileNodes = 100
	defaultWeighting    = "gaussian"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
		},
		Cohort: Cohort{
			Workers: defaultWorkers,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Preprocess: Preprocess{
			Denoise:       defaultDenoise,
			MaskThreshold: defaultMaskThreshold,
		},
		Tractography: Tractography{
			Model:       defaultModel,
			StepSizeMM:  defaultStepSizeMM,
			MaxAngleDeg: defaultMaxAngleD,
			SeedDensity: defaultSeedDensity,
			MinLengthMM: defaultMinLengthMM,
		},
		Registration: Registration{
			Template:  defaultTemplate,
			Transform: defaultTransform,
		},
		Recognition: Recognition{
			Membership:    defaultMembership,
			MaxDistanceMM: defaultMaxDistanceMM,
		},
		Profiles: Profiles{
			Nodes:      defaultProfileNodes,
			Properties: []string{"fa", "md"},
			Weighting:  defaultWeighting,
		},
	}
}
