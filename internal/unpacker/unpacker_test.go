package unpacker

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func buildTar(t *testing.T, entries map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestUnpackWritesFiles(t *testing.T) {
	dest := t.TempDir()
	r := buildTar(t, map[string]string{
		"a.txt":        "hello",
		"sub/b.txt":    "world",
	})

	written, err := Unpack(r, dest)
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 2 {
		t.Fatalf("expected 2 files written, got %v", written)
	}

	got, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("a.txt: got %q", got)
	}
	got, err = os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "world" {
		t.Fatalf("sub/b.txt: got %q", got)
	}
}

func TestUnpackRejectsPathEscape(t *testing.T) {
	dest := t.TempDir()
	r := buildTar(t, map[string]string{"../escape.txt": "evil"})
	if _, err := Unpack(r, dest); err == nil {
		t.Fatal("expected rejection of path-escaping tar entry")
	}
}

func TestUnpackRejectsAbsolutePath(t *testing.T) {
	dest := t.TempDir()
	r := buildTar(t, map[string]string{"/etc/passwd": "evil"})
	if _, err := Unpack(r, dest); err == nil {
		t.Fatal("expected rejection of absolute-path tar entry")
	}
}
