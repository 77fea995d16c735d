// Package editor launches the catalog editor between the pull and push
// halves of a sync.
package editor

import (
	"context"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/errors"
)

// Session opens the catalog for editing and returns once the editing
// session has ended.
type Session interface {
	Run(ctx context.Context, catalog string) error
}

type runner interface {
	run(ctx context.Context, name string, args []string) error
}

// execRunner hands the user's terminal to the editor. GUI editors ignore
// it, terminal ones need it.
type execRunner struct{}

func (execRunner) run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// ExecSession runs a user-configured command, substituting $cat with the
// catalog path. Commands without a $cat placeholder get the path appended
// as their final argument.
type ExecSession struct {
	command string
	run     runner
}

func NewExecSession(command string) *ExecSession {
	return &ExecSession{command: command, run: execRunner{}}
}

func (s *ExecSession) Run(ctx context.Context, catalog string) error {
	args := strings.Fields(s.command)
	if len(args) == 0 {
		return errors.NewFriendlyError("No editor is configured. Set " +
			"`editor` in the catsync config, or rerun with --editor.")
	}

	substituted := false
	for i, arg := range args {
		if strings.Contains(arg, "$cat") {
			args[i] = strings.ReplaceAll(arg, "$cat", catalog)
			substituted = true
		}
	}
	if !substituted {
		args = append(args, catalog)
	}

	log.WithField("command", strings.Join(args, " ")).Info("Starting editor")
	if err := s.run.run(ctx, args[0], args[1:]); err != nil {
		return errors.WithContext(err, "run editor")
	}
	return nil
}

// AppendSession stands in for an interactive editor by appending a line to
// the catalog. It exists so the whole sync flow can be exercised without
// launching Lightroom.
type AppendSession struct {
	Fs   afero.Fs
	Text string
}

func (s AppendSession) Run(_ context.Context, catalog string) error {
	log.WithField("catalog", catalog).Infof("Appending %q instead of editing", s.Text)
	f, err := s.Fs.OpenFile(catalog, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.WithContext(err, "open catalog")
	}
	_, err = f.WriteString(s.Text + "\n")
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.WithContext(err, "append")
	}
	return nil
}
