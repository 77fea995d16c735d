package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightfold/catsync/pkg/editor"
)

func TestEditorCommand(t *testing.T) {
	assert.Equal(t, "open -a Lightroom $cat",
		editorCommand("open -a Lightroom $cat", options{}))
	assert.Equal(t, "sqlite3 $cat",
		editorCommand("open -a Lightroom $cat", options{editor: "sqlite3 $cat"}))
	assert.Equal(t, "", editorCommand("", options{}))
}

func TestBuildSession(t *testing.T) {
	session := buildSession("open -a Lightroom $cat", options{appendDebug: "trace"})
	appendSession, ok := session.(editor.AppendSession)
	require.True(t, ok)
	assert.Equal(t, "trace", appendSession.Text)

	session = buildSession("open -a Lightroom $cat", options{})
	_, ok = session.(*editor.ExecSession)
	assert.True(t, ok)
}
