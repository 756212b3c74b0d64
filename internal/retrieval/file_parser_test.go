package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileParserManagerDispatch(t *testing.T) {
	manager := NewFileParserManager()

	text, err := manager.ParseFile(strings.NewReader("weekly report body\n"), "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "weekly report body\n", text)

	markdown, err := manager.ParseFile(strings.NewReader("# title\ncontent"), "notes.MD")
	require.NoError(t, err)
	assert.Contains(t, markdown, "content")

	_, err = manager.ParseFile(strings.NewReader("x"), "archive.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file format")
}

func TestFileParserManagerRejectsLegacyFormats(t *testing.T) {
	manager := NewFileParserManager()

	_, err := manager.ParseFile(strings.NewReader("binary"), "old.doc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "legacy .doc format")

	_, err = manager.ParseFile(strings.NewReader("binary"), "old.xls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "legacy .xls format")
}

func TestFileParserManagerSupports(t *testing.T) {
	manager := NewFileParserManager()

	assert.True(t, manager.Supports("report.pdf"))
	assert.True(t, manager.Supports("report.docx"))
	assert.True(t, manager.Supports("summary.xlsx"))
	assert.False(t, manager.Supports("noextension"))
	assert.False(t, manager.Supports("archive.zip"))

	formats := manager.SupportedFormats()
	assert.Contains(t, formats, ".txt")
	assert.Contains(t, formats, ".pdf")
}
