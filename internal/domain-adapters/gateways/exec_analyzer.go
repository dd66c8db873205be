package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces"
	"github.com/ochairo/tally/internal/domain/interfaces/gateways"
)

// ExcludeDirsEnv carries the excluded directory names to an external analyzer, comma separated
const ExcludeDirsEnv = "TALLY_EXCLUDE_DIRS"

// ExecAnalyzer runs an external component analyzer (react-scanner or anything
// printing the same raw report) and parses its JSON output.
// "{root}" and "{package}" in the command are replaced before execution.
type ExecAnalyzer struct {
	command        []string
	pkg            string
	defaultTimeout time.Duration
	logger         interfaces.Logger
}

// NewExecAnalyzer creates an analyzer running command for imports of pkg
func NewExecAnalyzer(command []string, pkg string, timeout time.Duration, logger interfaces.Logger) (*ExecAnalyzer, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("analyzer command is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &ExecAnalyzer{
		command:        command,
		pkg:            pkg,
		defaultTimeout: timeout,
		logger:         logger,
	}, nil
}

var _ gateways.ComponentAnalyzer = (*ExecAnalyzer)(nil)

// ExecuteConfig contains configuration for running a command
type ExecuteConfig struct {
	Args       []string
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
}

// ExecuteResult contains the result of command execution
type ExecuteResult struct {
	Success  bool
	ExitCode int
	Stdout   []byte
	Stderr   string
	Duration time.Duration
	Error    error
}

// Execute runs a command with the given configuration
func (a *ExecAnalyzer) Execute(ctx context.Context, config ExecuteConfig) *ExecuteResult {
	startTime := time.Now()
	result := &ExecuteResult{}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = a.defaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: Command execution is intentional and controlled by configuration
	cmd := exec.CommandContext(execCtx, config.Args[0], config.Args[1:]...)
	if config.WorkingDir != "" {
		cmd.Dir = config.WorkingDir
	}

	env := os.Environ()
	for key, value := range config.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Duration = time.Since(startTime)
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.String()

	if err != nil {
		result.Error = err
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			result.Error = fmt.Errorf("analyzer timeout after %v", timeout)
		} else if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result
	}

	result.Success = true
	return result
}

// rawReport is react-scanner's "raw-report" output
type rawReport map[string]struct {
	Instances []struct {
		Location struct {
			File  string `json:"file"`
			Start struct {
				Line int `json:"line"`
			} `json:"start"`
		} `json:"location"`
	} `json:"instances"`
}

// Analyze runs the command against root
func (a *ExecAnalyzer) Analyze(ctx context.Context, root string, exclude entities.DirExclusion) (entities.ComponentUsage, error) {
	replacer := strings.NewReplacer("{root}", root, "{package}", a.pkg)
	args := make([]string, len(a.command))
	for i, arg := range a.command {
		args[i] = replacer.Replace(arg)
	}

	result := a.Execute(ctx, ExecuteConfig{
		Args:       args,
		WorkingDir: root,
		Env:        map[string]string{ExcludeDirsEnv: strings.Join(exclude, ",")},
	})
	if !result.Success {
		return nil, fmt.Errorf("analyzer failed (exit %d): %w\nStderr: %s",
			result.ExitCode, result.Error, strings.TrimSpace(result.Stderr))
	}
	a.logger.Debug("Analyzer finished", interfaces.F("root", root), interfaces.F("duration", result.Duration))

	usage, err := parseRawReport(result.Stdout, root)
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// parseRawReport converts the analyzer output, making file paths relative to root
func parseRawReport(data []byte, root string) (entities.ComponentUsage, error) {
	var report rawReport
	if err := json.Unmarshal(bytes.TrimSpace(data), &report); err != nil {
		return nil, fmt.Errorf("failed to parse analyzer output: %w", err)
	}

	usage := entities.ComponentUsage{}
	for component, entry := range report {
		for _, inst := range entry.Instances {
			file := inst.Location.File
			if filepath.IsAbs(file) {
				if rel, err := filepath.Rel(root, file); err == nil {
					file = rel
				}
			}
			usage[component] = append(usage[component], entities.UsageInstance{
				File: filepath.ToSlash(file),
				Line: inst.Location.Start.Line,
			})
		}
	}
	return usage, nil
}
