// Package chunker splits an unpacked image's files into fixed-size
// parts and computes per-file manifest entries (path, sha256, size),
// the last stage before the ImageContent interceptor action streams
// aosproto.ImageContentInfo/aosproto.ImageContent messages.
package chunker

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aosedge/aos-messageproxy/internal/aosproto"
)

// DefaultChunkSize keeps every chunk comfortably under the outer mux
// frame's 64 KiB payload cap once inner-frame and envelope overhead
// are accounted for.
const DefaultChunkSize = 32 * 1024

// Manifest describes one tree rooted at Dir, ready to be streamed.
type Manifest struct {
	Dir       string
	Files     []aosproto.ImageFile
	ChunkSize int
}

// BuildManifest walks dir and computes the sha256/size of every regular
// file beneath it, relative to dir.
func BuildManifest(dir string, chunkSize int) (*Manifest, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	m := &Manifest{Dir: dir, ChunkSize: chunkSize}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		sum, size, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("chunker: hashing %s: %w", path, err)
		}
		m.Files = append(m.Files, aosproto.ImageFile{RelativePath: rel, Sha256: sum, Size: size})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func hashFile(path string) ([]byte, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, err
	}
	return h.Sum(nil), uint64(n), nil
}

// PartsCount returns how many ChunkSize-sized parts RelativePath's file
// (whose Size is known from the manifest) will be split into.
func (m *Manifest) PartsCount(f aosproto.ImageFile) uint32 {
	if f.Size == 0 {
		return 1
	}
	n := (f.Size + uint64(m.ChunkSize) - 1) / uint64(m.ChunkSize)
	return uint32(n)
}

// ChunkFile streams part-th chunk (0-indexed) of RelativePath, reading
// directly from disk so the whole file is never held in memory at once.
func (m *Manifest) ChunkFile(relativePath string, part uint32) ([]byte, error) {
	f, err := os.Open(filepath.Join(m.Dir, relativePath))
	if err != nil {
		return nil, fmt.Errorf("chunker: opening %s: %w", relativePath, err)
	}
	defer f.Close()

	offset := int64(part) * int64(m.ChunkSize)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("chunker: seeking %s: %w", relativePath, err)
	}
	buf := make([]byte, m.ChunkSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("chunker: reading %s: %w", relativePath, err)
	}
	return buf[:n], nil
}
