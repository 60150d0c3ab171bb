package main

import (
	"log/slog"
	"strings"
	"sync"

	"fascicle/internal/artifact"
	"fascicle/internal/compute"
	"fascicle/internal/config"
	"fascicle/internal/logging"
	"fascicle/internal/pipeline"
	"fascicle/internal/toolchain"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// quietLogger returns a console logger for one-shot commands that only need
// warnings.
func (c *commandContext) quietLogger() (*slog.Logger, error) {
	return logging.New(logging.Options{Level: "warn", Format: "console"})
}

func (c *commandContext) openStore(logger *slog.Logger) (*artifact.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return artifact.NewStore(cfg.Paths.ArtifactDir, logger)
}

// toolkit assembles the compute collaborators: external tools for the
// exec-backed stages, native implementations for recognition and profiling.
func (c *commandContext) toolkit() (compute.Toolkit, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return compute.Toolkit{}, err
	}
	tools := toolchain.New(toolchain.Config{
		DenoiseCommand:  cfg.Toolchain.DenoiseCommand,
		TrackingCommand: cfg.Toolchain.TrackingCommand,
		RegisterCommand: cfg.Toolchain.RegisterCommand,
	})
	return compute.Toolkit{
		Preprocessor: tools,
		Tracker:      tools,
		Registrar:    tools,
		Recognizer:   compute.NativeRecognizer{},
		Profiler:     compute.NativeProfiler{},
	}, nil
}

func (c *commandContext) buildGraph(store *artifact.Store, logger *slog.Logger) (*pipeline.Graph, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	toolkit, err := c.toolkit()
	if err != nil {
		return nil, err
	}
	return pipeline.Build(store, logger, toolkit, cfg.Recognition.TemplatesPath)
}
