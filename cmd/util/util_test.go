package util

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightfold/catsync/pkg/config"
	"github.com/lightfold/catsync/pkg/errors"
	"github.com/lightfold/catsync/pkg/lockfile"
)

func TestHandleFatalError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		expCode int
		expOut  string
	}{
		{
			name:    "Plain",
			err:     errors.New("boom"),
			expCode: ExitError,
			expOut:  "boom\n",
		},
		{
			name: "FriendlyWinsOverContext",
			err: errors.WithContext(
				errors.NewFriendlyError("Nothing to push."), "push"),
			expCode: ExitError,
			expOut:  "Nothing to push.\n",
		},
		{
			name: "Conflict",
			err: errors.WithContext(errors.ConflictError{
				LocalAncestor: "aa", CloudAncestor: "aa",
				LocalCurrent: "bb", CloudCurrent: "cc",
			}, "push"),
			expCode: ExitConflict,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			var code int
			stderr = &out
			exit = func(c int) { code = c }

			HandleFatalError(test.err)
			assert.Equal(t, test.expCode, code)
			if test.expOut != "" {
				assert.Equal(t, test.expOut, out.String())
			}
		})
	}
}

func TestHandlePanic(t *testing.T) {
	var out bytes.Buffer
	var code int
	stderr = &out
	exit = func(c int) { code = c }

	func() {
		defer HandlePanic()
		panic("boom")
	}()

	assert.Equal(t, ExitError, code)
	assert.Contains(t, out.String(), "boom")
	assert.Contains(t, out.String(), "bug-tool")
}

func TestPromptYesOrNo(t *testing.T) {
	tests := []struct {
		name  string
		input string
		exp   bool
	}{
		{"Yes", "y\n", true},
		{"YesWord", "Yes\n", true},
		{"No", "n\n", false},
		{"RetryUntilValid", "maybe\nno\n", false},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			stdin = strings.NewReader(test.input)
			stdout = &bytes.Buffer{}

			resp, err := PromptYesOrNo("Continue?")
			assert.NoError(t, err)
			assert.Equal(t, test.exp, resp)
		})
	}
}

func TestLoadSyncEnv(t *testing.T) {
	fs = afero.NewMemMapFs()
	parseUserConfig = func() (config.User, error) {
		return config.User{
			Catalog: "/pics/main.lrcat",
			Cloud:   "/cloud/main.lrcat",
		}, nil
	}

	// Not initialized yet.
	_, err := LoadSyncEnv("")
	assert.EqualError(t, err, "The catalog \"/pics/main.lrcat\" isn't synced "+
		"yet. Run `catsync init-push-to-cloud` to share it, or "+
		"`catsync init-pull-from-cloud` to fetch an existing cloud copy.")

	require.NoError(t, config.WriteState(fs, config.SyncState{
		Catalog:     "/pics/main.lrcat",
		Cloud:       "/cloud/main.lrcat",
		Compression: true,
	}))

	env, err := LoadSyncEnv("")
	require.NoError(t, err)
	assert.Equal(t, "/pics/main.lrcat", env.State.Catalog)
	assert.Equal(t, "/cloud/main.lrcat", env.State.Cloud)
	assert.True(t, env.State.Compression)
	assert.NotNil(t, env.Engine)

	// The flag selects a different catalog.
	require.NoError(t, config.WriteState(fs, config.SyncState{
		Catalog: "/work/other.lrcat",
		Cloud:   "/cloud/other.lrcat",
	}))
	env, err = LoadSyncEnv("/work/other.lrcat")
	require.NoError(t, err)
	assert.Equal(t, "/cloud/other.lrcat", env.State.Cloud)

	// A broken user config only matters when there's no flag.
	parseUserConfig = func() (config.User, error) {
		return config.User{}, errors.NewFriendlyError("no config")
	}
	_, err = LoadSyncEnv("")
	assert.EqualError(t, err, "no config")
	_, err = LoadSyncEnv("/work/other.lrcat")
	assert.NoError(t, err)
}

func TestLoadInitEnv(t *testing.T) {
	parseUserConfig = func() (config.User, error) {
		return config.User{
			Catalog: "/pics/main.lrcat",
			Cloud:   "/cloud/main.lrcat",
		}, nil
	}

	env, err := LoadInitEnv("", "")
	require.NoError(t, err)
	assert.Equal(t, "/pics/main.lrcat", env.State.Catalog)
	assert.True(t, env.State.Compression)
	require.NotNil(t, env.State.Previews)
	assert.True(t, env.State.Previews.Enabled)
	assert.True(t, env.State.Ancestor.IsZero())

	env, err = LoadInitEnv("/work/other.lrcat", "/cloud/other.lrcat")
	require.NoError(t, err)
	assert.Equal(t, "/work/other.lrcat", env.State.Catalog)
	assert.Equal(t, "/cloud/other.lrcat", env.State.Cloud)

	parseUserConfig = func() (config.User, error) {
		return config.User{
			Catalog:              "/pics/main.lrcat",
			Cloud:                "/cloud/main.lrcat",
			DisableSmartPreviews: true,
			DisableCompression:   true,
		}, nil
	}
	env, err = LoadInitEnv("", "")
	require.NoError(t, err)
	assert.False(t, env.State.Compression)
	assert.Nil(t, env.State.Previews)

	// Without a config file both paths must come from flags.
	parseUserConfig = func() (config.User, error) {
		return config.User{}, errors.NewFriendlyError("no config")
	}
	_, err = LoadInitEnv("/work/other.lrcat", "")
	assert.EqualError(t, err, "no config")
	_, err = LoadInitEnv("/work/other.lrcat", "/cloud/other.lrcat")
	assert.NoError(t, err)
}

func TestBuildCodec(t *testing.T) {
	codec, err := BuildCodec(config.User{})
	require.NoError(t, err)
	assert.Equal(t, "bsdiff", codec.Name())

	codec, err = BuildCodec(config.User{
		DiffCmd: "/usr/local/bin/xdelta3 -e -s $in1 $in2 $out",
	})
	require.NoError(t, err)
	assert.Equal(t, "xdelta3", codec.Name())

	_, err = BuildCodec(config.User{ToolTimeout: "bogus"})
	assert.Error(t, err)
}

func TestWithLock(t *testing.T) {
	fs = afero.NewMemMapFs()
	clock = clockwork.NewFakeClock()
	catalog := "/pics/main.lrcat"

	calls := 0
	err := WithLock(catalog, false, func() error {
		calls++
		_, err := fs.Stat(lockfile.Path(catalog))
		assert.NoError(t, err)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = fs.Stat(lockfile.Path(catalog))
	assert.True(t, os.IsNotExist(err))

	// A lock held from another host is respected.
	held := "owner: someone\npid: 1\nhost: elsewhere\n"
	require.NoError(t, afero.WriteFile(fs,
		lockfile.Path(catalog), []byte(held), 0644))
	err = WithLock(catalog, false, func() error {
		t.Fatal("must not run while locked")
		return nil
	})
	var locked errors.CatalogLockedError
	assert.True(t, errors.As(err, &locked))

	// Unless the user forces it.
	err = WithLock(catalog, true, func() error { return nil })
	assert.NoError(t, err)
}
