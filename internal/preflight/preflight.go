// Package preflight verifies the runtime environment before a cohort run:
// directory permissions, free disk space, external tool availability, and
// the bundle template file.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"fascicle/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// minFreeBytes is the artifact volume headroom below which the check fails.
const minFreeBytes = 1 << 30

// RunAll executes every applicable check for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir, unix.R_OK|unix.X_OK),
		CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir, unix.R_OK|unix.W_OK|unix.X_OK),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir, unix.R_OK|unix.W_OK|unix.X_OK),
		CheckFreeSpace("Artifact volume", cfg.Paths.ArtifactDir),
		CheckTemplates(cfg.Recognition.TemplatesPath),
	}

	for _, tool := range []struct {
		name    string
		command string
	}{
		{"Denoise tool", cfg.Toolchain.DenoiseCommand},
		{"Tracking tool", cfg.Toolchain.TrackingCommand},
		{"Registration tool", cfg.Toolchain.RegisterCommand},
	} {
		results = append(results, CheckCommand(tool.name, tool.command))
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// CheckDirectoryAccess verifies that path is a directory with the requested
// access bits.
func CheckDirectoryAccess(name, path string, mode uint32) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (access ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has workable headroom.
func CheckFreeSpace(name, path string) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	detail := fmt.Sprintf("%s (%.1f GiB free)", path, float64(free)/(1<<30))
	if free < minFreeBytes {
		return Result{Name: name, Detail: detail + " below 1 GiB minimum"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckTemplates verifies the bundle template file is readable.
func CheckTemplates(path string) Result {
	const name = "Bundle templates"
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "recognition.templates_path is not set"}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckCommand verifies the first token of a command template resolves to an
// executable.
func CheckCommand(name, command string) Result {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return Result{Name: name, Detail: "command template is not configured"}
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", fields[0], err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}
