package pipeline

import (
	"log/slog"

	"fascicle/internal/artifact"
	"fascicle/internal/compute"
	"fascicle/internal/preprocess"
	"fascicle/internal/profiling"
	"fascicle/internal/recognition"
	"fascicle/internal/registration"
	"fascicle/internal/services"
	"fascicle/internal/tracking"
)

// Build assembles the standard five-stage tractometry graph around toolkit.
// The bundle templates at templatesPath are loaded once and their fingerprint
// joins the recognition stage's provenance.
func Build(store *artifact.Store, logger *slog.Logger, toolkit compute.Toolkit, templatesPath string) (*Graph, error) {
	if err := toolkit.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "pipeline", "incomplete toolkit", err)
	}
	recognize, err := recognition.NewHandler(toolkit.Recognizer, templatesPath)
	if err != nil {
		return nil, err
	}
	return New(store, logger,
		preprocess.NewHandler(toolkit.Preprocessor),
		tracking.NewHandler(toolkit.Tracker),
		registration.NewHandler(toolkit.Registrar),
		recognize,
		profiling.NewHandler(toolkit.Profiler),
	)
}
