package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightfold/catsync/pkg/config"
	"github.com/lightfold/catsync/pkg/errors"
)

func TestMerge(t *testing.T) {
	curr := config.User{
		Catalog: "/pics/main.lrcat",
		Cloud:   "/cloud/main.lrcat",
		Editor:  "open -a Lightroom $cat",
	}

	assert.Equal(t, curr, merge(curr, config.User{}))

	merged := merge(curr, config.User{
		Editor:             "sqlite3 $cat",
		DisableCompression: true,
	})
	assert.Equal(t, "/pics/main.lrcat", merged.Catalog)
	assert.Equal(t, "sqlite3 $cat", merged.Editor)
	assert.True(t, merged.DisableCompression)
	assert.False(t, merged.DisableSmartPreviews)
}

func TestSetupConfig(t *testing.T) {
	var written []config.User
	var out bytes.Buffer
	stdout = &out
	parseUserConfig = func() (config.User, error) {
		return config.User{}, errors.NewFriendlyError("no config")
	}
	writeUserConfig = func(cfg config.User) error {
		written = append(written, cfg)
		return nil
	}

	// The first write requires both paths.
	err := SetupConfig(config.User{Catalog: "/pics/main.lrcat"})
	assert.EqualError(t, err, "Both --catalog and --cloud are required the "+
		"first time the config is written.")

	require.NoError(t, SetupConfig(config.User{
		Catalog: "/pics/main.lrcat",
		Cloud:   "/cloud/main.lrcat",
	}))
	require.Len(t, written, 1)
	assert.Equal(t, "/pics/main.lrcat", written[0].Catalog)

	// Switching to a different catalog asks first.
	parseUserConfig = func() (config.User, error) {
		return config.User{
			Catalog: "/pics/main.lrcat",
			Cloud:   "/cloud/main.lrcat",
		}, nil
	}
	confirm = func(string) (bool, error) { return false, nil }
	out.Reset()
	require.NoError(t, SetupConfig(config.User{Catalog: "/work/other.lrcat"}))
	assert.Len(t, written, 1)
	assert.Equal(t, "Config unchanged.\n", out.String())

	confirm = func(string) (bool, error) { return true, nil }
	require.NoError(t, SetupConfig(config.User{Catalog: "/work/other.lrcat"}))
	require.Len(t, written, 2)
	assert.Equal(t, "/work/other.lrcat", written[1].Catalog)
	assert.Equal(t, "/cloud/main.lrcat", written[1].Cloud)

	// An invalid timeout is rejected before anything is written.
	err = SetupConfig(config.User{ToolTimeout: "soon"})
	assert.Error(t, err)
	assert.Len(t, written, 2)
}
