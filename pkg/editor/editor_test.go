package editor

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightfold/catsync/pkg/errors"
)

type fakeRunner struct {
	name string
	args []string
	err  error
}

func (r *fakeRunner) run(_ context.Context, name string, args []string) error {
	r.name = name
	r.args = args
	return r.err
}

func TestExecSessionSubstitutes(t *testing.T) {
	run := &fakeRunner{}
	session := &ExecSession{command: "open -a Lightroom $cat", run: run}

	require.NoError(t, session.Run(context.Background(), "/pics/main.lrcat"))
	assert.Equal(t, "open", run.name)
	assert.Equal(t, []string{"-a", "Lightroom", "/pics/main.lrcat"}, run.args)
}

func TestExecSessionAppendsCatalog(t *testing.T) {
	run := &fakeRunner{}
	session := &ExecSession{command: "lightroom", run: run}

	require.NoError(t, session.Run(context.Background(), "/pics/main.lrcat"))
	assert.Equal(t, "lightroom", run.name)
	assert.Equal(t, []string{"/pics/main.lrcat"}, run.args)
}

func TestExecSessionEmptyCommand(t *testing.T) {
	session := &ExecSession{command: "", run: &fakeRunner{}}
	err := session.Run(context.Background(), "/pics/main.lrcat")
	require.Error(t, err)
	assert.Contains(t, errors.GetPrintableMessage(err), "No editor is configured")
}

func TestExecSessionFailure(t *testing.T) {
	run := &fakeRunner{err: errors.New("exit status 1")}
	session := &ExecSession{command: "lightroom $cat", run: run}

	err := session.Run(context.Background(), "/pics/main.lrcat")
	assert.EqualError(t, err, "run editor: exit status 1")
}

func TestAppendSession(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/pics/main.lrcat", []byte("CAT-V1"), 0644))

	session := AppendSession{Fs: fsys, Text: "local edit"}
	require.NoError(t, session.Run(context.Background(), "/pics/main.lrcat"))

	contents, err := afero.ReadFile(fsys, "/pics/main.lrcat")
	require.NoError(t, err)
	assert.Equal(t, "CAT-V1local edit\n", string(contents))
}

func TestAppendSessionMissingCatalog(t *testing.T) {
	session := AppendSession{Fs: afero.NewMemMapFs(), Text: "local edit"}
	assert.Error(t, session.Run(context.Background(), "/pics/missing.lrcat"))
}
