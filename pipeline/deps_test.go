package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/interflow/attach"
)

func TestStripCodeFences(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "no fences here", "no fences here"},
		{"python fence", "```python\nprint('hi')\n```", "print('hi')"},
		{"bare fence", "```\nprint('hi')\n```", "print('hi')"},
		{"prose around fence", "Here is the code:\n```python\nx = 1\n```\nEnjoy.", "x = 1"},
		{"unterminated fence", "```python\nx = 1", "x = 1"},
		{"whitespace", "  \n x = 1 \n ", "x = 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, stripCodeFences(tc.in))
		})
	}
}

func TestPreviewAttachment(t *testing.T) {
	t.Parallel()

	store, err := attach.NewLocalStore(attach.LocalConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	ref, err := store.Save("data.csv", strings.NewReader("a,b\n1,2\n3,4\n"))
	require.NoError(t, err)

	assert.Equal(t, "No dataset provided.", previewAttachment(store, "", 0))
	assert.Equal(t, "Dataset preview unavailable.", previewAttachment(nil, ref, 0))
	assert.Equal(t, "a,b\n1,2\n3,4\n", previewAttachment(store, ref, 4096))

	preview := previewAttachment(store, "missing-ref", 4096)
	assert.Contains(t, preview, "could not be read")
}

func TestPreviewAttachmentCutsAtLine(t *testing.T) {
	t.Parallel()

	store, err := attach.NewLocalStore(attach.LocalConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	ref, err := store.Save("rows.csv", strings.NewReader("header\nrow-one\nrow-two\nrow-three\n"))
	require.NoError(t, err)

	// The preview stops at the last full line inside the byte budget.
	preview := previewAttachment(store, ref, 18)
	assert.Equal(t, "header\nrow-one", preview)
}
