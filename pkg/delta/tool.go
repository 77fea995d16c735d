package delta

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/errors"
	"github.com/lightfold/catsync/pkg/revision"
)

// fs is used for mock tests. It will be overridden by afero.NewMemMapFs()
// in the tests.
var fs = afero.NewOsFs()

// Defaults for the external tool templates. bsdiff copes well with the
// SQLite files that image catalogs are.
const (
	DefaultName     = "bsdiff"
	DefaultDiffCmd  = "bsdiff $in1 $in2 $out"
	DefaultPatchCmd = "bspatch $in1 $patch $out"
	DefaultTimeout  = 10 * time.Minute
)

// runner abstracts process execution so tests can fake tool behavior.
type runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// ToolCodec runs external diff and patch binaries. Command templates name
// their arguments with the $in1, $in2, $patch, and $out placeholders,
// substituted after the template is split into arguments so that paths
// with spaces survive. Each invocation runs in a fresh scratch directory,
// bounded by the configured timeout.
type ToolCodec struct {
	name     string
	diffCmd  string
	patchCmd string
	timeout  time.Duration
	run      runner
}

// NewToolCodec builds a codec from the configured command templates.
// Empty templates and a zero timeout fall back to the bsdiff defaults.
func NewToolCodec(name, diffCmd, patchCmd string, timeout time.Duration) *ToolCodec {
	if name == "" {
		name = DefaultName
	}
	if diffCmd == "" {
		diffCmd = DefaultDiffCmd
	}
	if patchCmd == "" {
		patchCmd = DefaultPatchCmd
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ToolCodec{
		name:     name,
		diffCmd:  diffCmd,
		patchCmd: patchCmd,
		timeout:  timeout,
		run:      execRunner{},
	}
}

// Default returns the bsdiff/bspatch codec.
func Default() *ToolCodec {
	return NewToolCodec("", "", "", 0)
}

func (c *ToolCodec) Name() string {
	return c.name
}

func (c *ToolCodec) Diff(ctx context.Context, base, target, out string) error {
	same, err := identical(base, target)
	if err != nil {
		return err
	}
	if same {
		return ErrEmptyDelta
	}

	args := substituteArgs(c.diffCmd, map[string]string{
		"$in1": base,
		"$in2": target,
		"$out": out,
	})
	return c.invoke(ctx, args, out)
}

func (c *ToolCodec) Patch(ctx context.Context, base, deltaPath, out string) error {
	args := substituteArgs(c.patchCmd, map[string]string{
		"$in1":   base,
		"$patch": deltaPath,
		"$out":   out,
	})

	err := c.invoke(ctx, args, out)
	var execErr errors.ToolExecutionError
	if errors.As(err, &execErr) {
		return errors.PatchApplicationError{
			Tool:   execErr.Tool,
			Output: execErr.Output,
			Err:    execErr.Err,
		}
	}
	return err
}

func (c *ToolCodec) invoke(ctx context.Context, args []string, out string) error {
	if len(args) == 0 {
		return errors.New("empty tool command")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Tools get a scratch directory of their own so that partial output
	// from a failed run never lands next to a real catalog.
	workDir, err := afero.TempDir(fs, "", "catsync-tool-")
	if err != nil {
		return errors.WithContext(err, "create scratch dir")
	}
	defer fs.RemoveAll(workDir)

	output, err := c.run.Run(ctx, workDir, args[0], args[1:]...)
	if ctx.Err() == context.DeadlineExceeded {
		return errors.ToolTimeoutError{Tool: args[0], Timeout: c.timeout}
	}
	if err != nil {
		return errors.ToolExecutionError{
			Tool:   args[0],
			Output: strings.TrimSpace(string(output)),
			Err:    err,
		}
	}

	exists, err := afero.Exists(fs, out)
	if err != nil {
		return errors.WithContext(err, "check output file")
	}
	if !exists {
		return errors.ToolExecutionError{
			Tool: args[0],
			Err:  errors.New("tool exited 0 but produced no output file"),
		}
	}
	return nil
}

func identical(base, target string) (bool, error) {
	baseFingerprint, err := revision.HashFile(fs, base)
	if err != nil {
		return false, err
	}
	targetFingerprint, err := revision.HashFile(fs, target)
	if err != nil {
		return false, err
	}
	return baseFingerprint == targetFingerprint, nil
}

// substituteArgs splits the template into arguments and then replaces the
// placeholders, so substituted paths may contain spaces.
func substituteArgs(template string, vars map[string]string) []string {
	fields := strings.Fields(template)
	args := make([]string, 0, len(fields))
	for _, field := range fields {
		for placeholder, value := range vars {
			field = strings.ReplaceAll(field, placeholder, value)
		}
		args = append(args, field)
	}
	return args
}
