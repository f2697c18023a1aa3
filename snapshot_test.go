package pintos

import (
	"bytes"
	"context"
	"sort"
	"testing"
)

func TestSnapshotExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()

	srcDev := NewMemBlockDevice(4096)
	src, err := Mkfs(srcDev)
	if err != nil {
		t.Fatalf("Mkfs(src): %v", err)
	}
	defer src.Unmount(ctx)

	m := src.NewSession()
	if err := m.Mkdir(ctx, "/docs"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := m.Create(ctx, "/docs/readme", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := m.Open(ctx, "/docs/readme")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.Write([]byte("contents of readme")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.Close(f); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Create(ctx, "/toplevel", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f2, err := m.Open(ctx, "/toplevel")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f2.Write([]byte("top")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.Close(f2); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var archive bytes.Buffer
	if err := Export(ctx, m, &archive); err != nil {
		t.Fatalf("Export: %v", err)
	}

	dstDev := NewMemBlockDevice(4096)
	dst, err := Mkfs(dstDev)
	if err != nil {
		t.Fatalf("Mkfs(dst): %v", err)
	}
	defer dst.Unmount(ctx)

	m2 := dst.NewSession()
	if err := Import(ctx, m2, &archive); err != nil {
		t.Fatalf("Import: %v", err)
	}

	names, err := m2.Readdir(ctx, "/")
	if err != nil {
		t.Fatalf("Readdir(/): %v", err)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "docs" || names[1] != "toplevel" {
		t.Fatalf("Readdir(/) = %v, want [docs toplevel]", names)
	}

	isDir, err := m2.IsDir(ctx, "/docs")
	if err != nil {
		t.Fatalf("IsDir: %v", err)
	}
	if !isDir {
		t.Fatalf("expected /docs to be a directory after import")
	}

	docNames, err := m2.Readdir(ctx, "/docs")
	if err != nil {
		t.Fatalf("Readdir(/docs): %v", err)
	}
	if len(docNames) != 1 || docNames[0] != "readme" {
		t.Fatalf("Readdir(/docs) = %v, want [readme]", docNames)
	}

	rf, err := m2.Open(ctx, "/docs/readme")
	if err != nil {
		t.Fatalf("Open(/docs/readme): %v", err)
	}
	buf := make([]byte, 32)
	n, err := rf.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := string(buf[:n]); got != "contents of readme" {
		t.Fatalf("content = %q, want %q", got, "contents of readme")
	}
	if err := m2.Close(rf); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tf, err := m2.Open(ctx, "/toplevel")
	if err != nil {
		t.Fatalf("Open(/toplevel): %v", err)
	}
	buf2 := make([]byte, 8)
	n2, err := tf.Read(buf2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := string(buf2[:n2]); got != "top" {
		t.Fatalf("content = %q, want %q", got, "top")
	}
	if err := m2.Close(tf); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSnapshotHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSnapshotHeader(&buf, ""); err != nil {
		t.Fatalf("writeSnapshotHeader: %v", err)
	}
	compressor, err := readSnapshotHeader(&buf)
	if err != nil {
		t.Fatalf("readSnapshotHeader: %v", err)
	}
	if compressor != "" {
		t.Fatalf("compressor = %q, want empty", compressor)
	}
}

func TestSnapshotHeaderRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	if _, err := readSnapshotHeader(&buf); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}
