package revision

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
)

func TestHashBytes(t *testing.T) {
	v1 := HashBytes([]byte("CAT-V1"))
	v2 := HashBytes([]byte("CAT-V2"))

	assert.Len(t, v1, 64)
	assert.Equal(t, strings.ToLower(v1), v1)
	assert.NotEqual(t, v1, v2)
	assert.Equal(t, v1, HashBytes([]byte("CAT-V1")))
}

func TestHashFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, "cat.lrcat", []byte("CAT-V1"), 0644))

	fingerprint, err := HashFile(fs, "cat.lrcat")
	assert.NoError(t, err)
	assert.Equal(t, HashBytes([]byte("CAT-V1")), fingerprint)

	_, err = HashFile(fs, "missing.lrcat")
	assert.EqualError(t, err, `"missing.lrcat" does not exist`)
}

func TestRevision(t *testing.T) {
	v1 := Revision{Fingerprint: HashBytes([]byte("CAT-V1")), Sequence: 0}
	sameContents := Revision{Fingerprint: v1.Fingerprint, Sequence: 7}
	v2 := Revision{Fingerprint: HashBytes([]byte("CAT-V2")), Sequence: 1}

	assert.True(t, v1.Equal(sameContents))
	assert.False(t, v1.Equal(v2))
	assert.False(t, v1.IsZero())
	assert.True(t, Revision{}.IsZero())
	assert.Equal(t, v1.Fingerprint[:12], v1.Short())
}
