// Package archive builds a ZIP file incrementally on top of an output sink,
// flushing each entry to the sink as soon as it is written so downloads of
// large bundles never buffer the whole archive in memory.
package archive

import (
	"archive/zip"
	"compress/flate"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Writer serializes named byte streams into one compressed archive. Entries
// are written strictly one after another; a Writer is not safe for
// concurrent use.
type Writer struct {
	zw      *zip.Writer
	entries int
	aborted bool
	sinkErr error
	log     *slog.Logger
}

// trackingReader tells a failed copy apart: an error recorded here came from
// the entry's source stream, not from the sink.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}

	return n, err
}

// NewWriter begins a new archive bound to sink. Output is an end-user
// download, so entries are deflated at the highest compression level.
func NewWriter(sink io.Writer, log *slog.Logger) *Writer {
	zw := zip.NewWriter(sink)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	return &Writer{
		zw:  zw,
		log: log.With(slog.String("item", "ArchiveWriter")),
	}
}

// Append writes one named entry read fully from r. A failure of the source
// stream poisons only this entry; a failure of the sink poisons the whole
// archive and every later call returns it.
func (w *Writer) Append(name string, r io.Reader) error {
	if w.sinkErr != nil {
		return w.sinkErr
	}
	if w.aborted {
		return fmt.Errorf("archive is aborted")
	}

	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	}

	ew, err := w.zw.CreateHeader(hdr)
	if err != nil {
		w.sinkErr = fmt.Errorf("cannot create archive entry %s: %w", name, err)

		return w.sinkErr
	}

	tr := &trackingReader{r: r}
	if _, err := io.Copy(ew, tr); err != nil {
		if tr.err != nil {
			return fmt.Errorf("cannot read entry %s source: %w", name, tr.err)
		}

		w.sinkErr = fmt.Errorf("cannot write archive entry %s: %w", name, err)

		return w.sinkErr
	}

	// Push the finished entry down to the sink right away so the client
	// sees bytes while later links are still being fetched.
	if err := w.zw.Flush(); err != nil {
		w.sinkErr = fmt.Errorf("cannot flush archive: %w", err)

		return w.sinkErr
	}

	w.entries++

	return nil
}

// Entries returns the number of successfully appended entries.
func (w *Writer) Entries() int {
	return w.entries
}

// Err returns the sticky sink error, if the sink has failed.
func (w *Writer) Err() error {
	return w.sinkErr
}

// Abort marks the archive invalid. No central directory is written; the
// caller is expected to answer with an explicit error instead of a ZIP.
func (w *Writer) Abort() {
	w.aborted = true
}

// Finalize writes the central directory and closes the archive. It is a
// no-op after Abort or a sink failure.
func (w *Writer) Finalize() error {
	if w.aborted || w.sinkErr != nil {
		return nil
	}

	if err := w.zw.Close(); err != nil {
		w.sinkErr = fmt.Errorf("cannot finalize archive: %w", err)

		return w.sinkErr
	}

	return nil
}
