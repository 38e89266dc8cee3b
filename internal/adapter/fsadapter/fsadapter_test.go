package fsadapter

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/enhbat/bundlezip/internal/config"
	"github.com/enhbat/bundlezip/internal/entity"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, fs afero.Fs) *fsAdapter {
	t.Helper()

	cfg := &config.IndexerConfig{ContentDir: "/content", DescFileName: "bundle.md", Workers: 1}
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	adapter, err := NewFSAdapterWithFS(fs, "http://example.com", cfg, log)
	require.NoError(t, err)

	return adapter
}

func writeDescriptor(t *testing.T, fs afero.Fs, folder, content string) {
	t.Helper()

	require.NoError(t, fs.MkdirAll(folder, os.ModeDir))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(folder, "bundle.md"), []byte(content), 0o644))
}

func TestToBundle(t *testing.T) {
	testCases := []struct {
		name          string
		descriptor    string
		noDescriptor  bool
		expectError   bool
		expectedName  string
		expectedLinks []entity.Link
		disabled      bool
	}{
		{
			name:         "no descriptor file",
			noDescriptor: true,
			expectError:  true,
		},
		{
			name: "no links",
			descriptor: `---
name: "Empty bundle"
---
# Empty
`,
			expectError: true,
		},
		{
			name: "object links",
			descriptor: `---
name: "Party Mix 1"
enabled: true
links:
  - name: "Opening song"
    url: "https://www.youtube.com/watch?v=abc123"
  - name: "Second song"
    url: "https://www.youtube.com/watch?v=def456"
---
# Party Mix 1

Best songs for the party.
`,
			expectedName: "Party Mix 1",
			expectedLinks: []entity.Link{
				{Name: "Opening song", URL: "https://www.youtube.com/watch?v=abc123"},
				{Name: "Second song", URL: "https://www.youtube.com/watch?v=def456"},
			},
		},
		{
			name: "legacy bare string links",
			descriptor: `---
name: "Legacy"
links:
  - "https://youtu.be/abc123"
  - "https://youtu.be/def456?list=PL1"
---
`,
			expectedName: "Legacy",
			expectedLinks: []entity.Link{
				{URL: "https://youtu.be/abc123"},
				{URL: "https://youtu.be/def456?list=PL1"},
			},
		},
		{
			name: "disabled bundle",
			descriptor: `---
name: "Hidden"
enabled: false
links:
  - "https://youtu.be/abc123"
---
`,
			expectedName:  "Hidden",
			expectedLinks: []entity.Link{{URL: "https://youtu.be/abc123"}},
			disabled:      true,
		},
		{
			name: "name falls back to folder name",
			descriptor: `---
links:
  - "https://youtu.be/abc123"
---
`,
			expectedName:  "one",
			expectedLinks: []entity.Link{{URL: "https://youtu.be/abc123"}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			folder := "/content/one"
			if tc.noDescriptor {
				require.NoError(t, fs.MkdirAll(folder, os.ModeDir))
			} else {
				writeDescriptor(t, fs, folder, tc.descriptor)
			}

			adapter := newTestAdapter(t, fs)
			bundle, err := adapter.ToBundle(folder)

			if tc.expectError {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expectedName, bundle.Name)
			require.Equal(t, tc.expectedLinks, bundle.Links)
			require.Equal(t, !tc.disabled, bundle.Enabled)
			require.Len(t, bundle.ID, 40)
			require.NotEmpty(t, bundle.PageHash)
		})
	}
}

func TestToBundlePageContent(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeDescriptor(t, fs, "/content/one", `---
name: "Party Mix 1"
links:
  - name: "Opening song"
    url: "https://youtu.be/abc123"
---
# Party Mix 1

Description body.
`)

	adapter := newTestAdapter(t, fs)
	bundle, err := adapter.ToBundle("/content/one")
	require.NoError(t, err)

	require.Contains(t, bundle.PageContent, "<title>Party Mix 1</title>")
	require.Contains(t, bundle.PageContent, "Description body.")
	require.Contains(t, bundle.PageContent, "Opening song")
	require.Contains(t, bundle.PageContent, "/download-bundle-mp3/"+bundle.ID)
	require.Contains(t, bundle.PageContent, "/download-bundle-mp4/"+bundle.ID)
}

func TestToBundleRejectsPathTraversal(t *testing.T) {
	adapter := newTestAdapter(t, afero.NewMemMapFs())

	_, err := adapter.ToBundle("/content/../etc")
	require.Error(t, err)
}
