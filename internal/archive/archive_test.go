package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func readEntries(t *testing.T, data []byte) map[string]string {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	entries := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		entries[f.Name] = string(content)
	}

	return entries
}

func TestWriterAppendAndFinalize(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, testLogger())

	require.NoError(t, w.Append("1_first.mp3", strings.NewReader("first content")))
	require.NoError(t, w.Append("2_second.mp3", strings.NewReader("second content")))
	require.Equal(t, 2, w.Entries())
	require.NoError(t, w.Finalize())

	entries := readEntries(t, buf.Bytes())
	require.Equal(t, map[string]string{
		"1_first.mp3":  "first content",
		"2_second.mp3": "second content",
	}, entries)
}

func TestWriterPreservesAppendOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, testLogger())

	names := []string{"3_c.mp3", "1_a.mp3", "2_b.mp3"}
	for _, name := range names {
		require.NoError(t, w.Append(name, strings.NewReader(name)))
	}
	require.NoError(t, w.Finalize())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var got []string
	for _, f := range zr.File {
		got = append(got, f.Name)
	}
	require.Equal(t, names, got)
}

func TestWriterStreamsEntriesBeforeFinalize(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, testLogger())

	require.NoError(t, w.Append("1_x.mp3", strings.NewReader(strings.Repeat("x", 4096))))

	// Entry bytes must reach the sink without waiting for Finalize.
	require.Greater(t, buf.Len(), 0)
}

func TestWriterSourceFailureDoesNotPoisonArchive(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, testLogger())

	bad := io.MultiReader(strings.NewReader("partial"), &failingReader{})
	err := w.Append("1_bad.mp3", bad)
	require.Error(t, err)
	require.NoError(t, w.Err())

	require.NoError(t, w.Append("2_good.mp3", strings.NewReader("ok")))
	require.NoError(t, w.Finalize())

	entries := readEntries(t, buf.Bytes())
	require.Equal(t, "ok", entries["2_good.mp3"])
}

func TestWriterSinkFailureIsSticky(t *testing.T) {
	sink := &failingWriter{failAfter: 10}
	w := NewWriter(sink, testLogger())

	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = w.Append(fmt.Sprintf("%d_e.mp3", i+1), strings.NewReader(strings.Repeat("y", 1024)))
	}
	require.Error(t, err)
	require.Error(t, w.Err())

	// Later appends fail fast with the same error.
	require.ErrorIs(t, w.Append("9_z.mp3", strings.NewReader("z")), w.Err())
	require.NoError(t, w.Finalize())
}

func TestWriterAbort(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, testLogger())

	w.Abort()
	require.Error(t, w.Append("1_a.mp3", strings.NewReader("a")))
	require.NoError(t, w.Finalize())
	// No central directory is written for an aborted archive.
	require.Equal(t, 0, buf.Len())
}

type failingReader struct{}

func (f *failingReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("stream reset")
}

type failingWriter struct {
	written   int
	failAfter int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.written += len(p)
	if f.written > f.failAfter {
		return 0, fmt.Errorf("broken pipe")
	}

	return len(p), nil
}
