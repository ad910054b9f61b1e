package sandbox

import (
	"archive/tar"
	"bytes"
	"fmt"
	"time"

	"github.com/codevat/runbox/internal/job"
)

// BuildArchive assembles the tar stream uploaded into a fresh sandbox: the
// program source under sourceName plus each input file under its own name.
// Callers validate file names before this point; the archive writes them
// verbatim.
func BuildArchive(sourceName, source string, files []job.InputFile) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	now := time.Now()

	add := func(name string, content []byte) error {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", name, err)
		}
		if _, err := tw.Write(content); err != nil {
			return fmt.Errorf("failed to write tar entry for %s: %w", name, err)
		}
		return nil
	}

	if err := add(sourceName, []byte(source)); err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := add(f.Name, []byte(f.Content)); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf, nil
}
