// Package unpacker extracts a downloaded tar archive into a directory
// tree, the second stage of the ImageContent interceptor action.
package unpacker

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Unpack extracts the tar stream r into destDir, returning the paths of
// every regular file written, relative to destDir. The archive is
// downloaded network input; entries that would escape destDir (via
// ".." or an absolute path) are rejected.
func Unpack(r io.Reader, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("unpacker: creating %s: %w", destDir, err)
	}

	tr := tar.NewReader(r)
	var written []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unpacker: reading tar entry: %w", err)
		}

		rel := filepath.Clean(hdr.Name)
		if rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(hdr.Name) {
			return nil, fmt.Errorf("unpacker: refusing unsafe tar entry %q", hdr.Name)
		}
		target := filepath.Join(destDir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("unpacker: creating dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, fmt.Errorf("unpacker: creating parent of %s: %w", target, err)
			}
			if err := writeFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return nil, err
			}
			written = append(written, rel)
		default:
			// symlinks, devices, etc. are out of scope for image content.
			continue
		}
	}
	return written, nil
}

func writeFile(r io.Reader, target string, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("unpacker: creating %s: %w", target, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("unpacker: writing %s: %w", target, err)
	}
	return nil
}
