package delta

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightfold/catsync/pkg/errors"
)

type fakeRunner struct {
	calls [][]string
	fn    func(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

func (r *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.fn == nil {
		return nil, nil
	}
	return r.fn(ctx, dir, name, args...)
}

func newTestCodec(t *testing.T, fn func(ctx context.Context, dir, name string, args ...string) ([]byte, error)) (*ToolCodec, *fakeRunner) {
	fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "base", []byte("CAT-V1"), 0644))
	require.NoError(t, afero.WriteFile(fs, "target", []byte("CAT-V2"), 0644))

	run := &fakeRunner{fn: fn}
	codec := NewToolCodec("", "", "", time.Minute)
	codec.run = run
	return codec, run
}

func TestSubstituteArgs(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		exp      []string
	}{
		{
			name:     "Diff",
			template: "bsdiff $in1 $in2 $out",
			vars:     map[string]string{"$in1": "a", "$in2": "b", "$out": "c"},
			exp:      []string{"bsdiff", "a", "b", "c"},
		},
		{
			name:     "PathsWithSpaces",
			template: "bspatch $in1 $patch $out",
			vars: map[string]string{
				"$in1":   "/pics/My Catalog.lrcat",
				"$patch": "/tmp/delta",
				"$out":   "/tmp/out",
			},
			exp: []string{"bspatch", "/pics/My Catalog.lrcat", "/tmp/delta", "/tmp/out"},
		},
		{
			name:     "ExtraFlags",
			template: "xdelta3 -e -s $in1 $in2 $out",
			vars:     map[string]string{"$in1": "a", "$in2": "b", "$out": "c"},
			exp:      []string{"xdelta3", "-e", "-s", "a", "b", "c"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.exp, substituteArgs(test.template, test.vars))
		})
	}
}

func TestDiff(t *testing.T) {
	codec, run := newTestCodec(t, func(_ context.Context, _, _ string, _ ...string) ([]byte, error) {
		return nil, afero.WriteFile(fs, "out", []byte("delta"), 0644)
	})

	require.NoError(t, codec.Diff(context.Background(), "base", "target", "out"))
	require.Len(t, run.calls, 1)
	assert.Equal(t, []string{"bsdiff", "base", "target", "out"}, run.calls[0])
}

func TestDiffIdenticalInputs(t *testing.T) {
	codec, run := newTestCodec(t, nil)
	require.NoError(t, afero.WriteFile(fs, "target", []byte("CAT-V1"), 0644))

	err := codec.Diff(context.Background(), "base", "target", "out")
	assert.Equal(t, ErrEmptyDelta, err)

	// The tool is never invoked for identical inputs.
	assert.Empty(t, run.calls)
}

func TestDiffToolFailure(t *testing.T) {
	codec, _ := newTestCodec(t, func(_ context.Context, _, _ string, _ ...string) ([]byte, error) {
		return []byte("usage: bsdiff oldfile newfile patchfile\n"), errors.New("exit status 1")
	})

	err := codec.Diff(context.Background(), "base", "target", "out")
	var execErr errors.ToolExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "bsdiff", execErr.Tool)
	assert.Equal(t, "usage: bsdiff oldfile newfile patchfile", execErr.Output)
}

func TestDiffNoOutputFile(t *testing.T) {
	codec, _ := newTestCodec(t, nil)

	err := codec.Diff(context.Background(), "base", "target", "out")
	var execErr errors.ToolExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.EqualError(t, execErr.Err, "tool exited 0 but produced no output file")
}

func TestDiffTimeout(t *testing.T) {
	fn := func(ctx context.Context, _, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	codec, _ := newTestCodec(t, fn)
	codec.timeout = 10 * time.Millisecond

	err := codec.Diff(context.Background(), "base", "target", "out")
	assert.Equal(t, errors.ToolTimeoutError{Tool: "bsdiff", Timeout: codec.timeout}, err)
}

func TestPatch(t *testing.T) {
	codec, run := newTestCodec(t, func(_ context.Context, _, _ string, _ ...string) ([]byte, error) {
		return nil, afero.WriteFile(fs, "restored", []byte("CAT-V2"), 0644)
	})

	require.NoError(t, codec.Patch(context.Background(), "base", "delta", "restored"))
	require.Len(t, run.calls, 1)
	assert.Equal(t, []string{"bspatch", "base", "delta", "restored"}, run.calls[0])
}

func TestPatchFailure(t *testing.T) {
	codec, _ := newTestCodec(t, func(_ context.Context, _, _ string, _ ...string) ([]byte, error) {
		return []byte("corrupt patch\n"), errors.New("exit status 1")
	})

	err := codec.Patch(context.Background(), "base", "delta", "restored")
	var patchErr errors.PatchApplicationError
	require.True(t, errors.As(err, &patchErr))
	assert.Equal(t, "bspatch", patchErr.Tool)
	assert.Equal(t, "corrupt patch", patchErr.Output)
}
