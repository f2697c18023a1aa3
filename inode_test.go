package pintos

import (
	"bytes"
	"testing"
)

func newTestFilesystem(t *testing.T, sectors uint32) (*Cache, *FreeMap, *inodeTable) {
	t.Helper()
	dev := NewMemBlockDevice(sectors)
	cache := NewCache(dev, CacheSize)
	table := newInodeTable()
	fm, err := formatFreeMap(table, cache, sectors)
	if err != nil {
		t.Fatalf("formatFreeMap: %v", err)
	}
	if ok := createInode(cache, fm, RootDirSector, 0, true, RootDirSector); !ok {
		t.Fatalf("createInode(root) returned false")
	}
	return cache, fm, table
}

func TestInodeCreateOpenReadWrite(t *testing.T) {
	cache, fm, table := newTestFilesystem(t, 512)

	sector, err := fm.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ok := createInode(cache, fm, sector, 10, false, RootDirSector); !ok {
		t.Fatalf("createInode returned false")
	}

	ino, err := table.open(cache, sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ino.Length() != 10 {
		t.Fatalf("Length = %d, want 10", ino.Length())
	}
	if ino.IsDir() {
		t.Fatalf("expected a regular file inode")
	}

	payload := []byte("0123456789")
	n, err := ino.WriteAt(cache, fm, payload, 0, len(payload))
	if err != nil || n != len(payload) {
		t.Fatalf("WriteAt: n=%d err=%v", n, err)
	}

	out := make([]byte, len(payload))
	n, err = ino.ReadAt(cache, out, 0, len(out))
	if err != nil || n != len(payload) {
		t.Fatalf("ReadAt: n=%d err=%v", n, err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("ReadAt mismatch: got %q want %q", out, payload)
	}

	if err := table.close(cache, fm, ino); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestInodeSparseGrowthZeroFills(t *testing.T) {
	cache, fm, table := newTestFilesystem(t, 512)

	sector, err := fm.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ok := createInode(cache, fm, sector, 0, false, RootDirSector); !ok {
		t.Fatalf("createInode returned false")
	}
	ino, err := table.open(cache, sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer table.close(cache, fm, ino)

	// Write a few bytes far past the current end of file, leaving a hole.
	tail := []byte("end")
	off := 3 * SectorSize
	if _, err := ino.WriteAt(cache, fm, tail, off, len(tail)); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	hole := make([]byte, SectorSize)
	n, err := ino.ReadAt(cache, hole, 0, SectorSize)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != SectorSize {
		t.Fatalf("expected to read a full sector of hole, got %d", n)
	}
	for i, b := range hole {
		if b != 0 {
			t.Fatalf("hole byte %d not zero: %x", i, b)
		}
	}

	if ino.Length() != off+len(tail) {
		t.Fatalf("Length = %d, want %d", ino.Length(), off+len(tail))
	}
}

func TestInodeIndirectAndDoublyIndirectRange(t *testing.T) {
	cache, fm, table := newTestFilesystem(t, 4096)

	sector, err := fm.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ok := createInode(cache, fm, sector, 0, false, RootDirSector); !ok {
		t.Fatalf("createInode returned false")
	}
	ino, err := table.open(cache, sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer table.close(cache, fm, ino)

	// One block into the indirect range.
	indirectOff := directCount * SectorSize
	// One block into the doubly-indirect range.
	doublyOff := (directCount + indirectCount) * SectorSize

	for _, off := range []int{indirectOff, doublyOff} {
		payload := []byte("indirect-range-marker")
		if _, err := ino.WriteAt(cache, fm, payload, off, len(payload)); err != nil {
			t.Fatalf("WriteAt at offset %d: %v", off, err)
		}
		out := make([]byte, len(payload))
		if _, err := ino.ReadAt(cache, out, off, len(out)); err != nil {
			t.Fatalf("ReadAt at offset %d: %v", off, err)
		}
		if !bytes.Equal(out, payload) {
			t.Fatalf("mismatch at offset %d: got %q want %q", off, out, payload)
		}
	}
}

func TestInodeDenyWrite(t *testing.T) {
	cache, fm, table := newTestFilesystem(t, 512)

	sector, err := fm.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ok := createInode(cache, fm, sector, 16, false, RootDirSector); !ok {
		t.Fatalf("createInode returned false")
	}
	ino, err := table.open(cache, sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer table.close(cache, fm, ino)

	ino.DenyWrite()
	if _, err := ino.WriteAt(cache, fm, []byte("x"), 0, 1); err != ErrPermission {
		t.Fatalf("expected ErrPermission while deny-written, got %v", err)
	}
	ino.AllowWrite()
	if _, err := ino.WriteAt(cache, fm, []byte("x"), 0, 1); err != nil {
		t.Fatalf("expected write to succeed after AllowWrite, got %v", err)
	}
}

func TestInodeOpenIsASingletonPerSector(t *testing.T) {
	cache, fm, table := newTestFilesystem(t, 512)

	sector, err := fm.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ok := createInode(cache, fm, sector, 0, false, RootDirSector); !ok {
		t.Fatalf("createInode returned false")
	}

	a, err := table.open(cache, sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := table.open(cache, sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if a != b {
		t.Fatalf("expected the same *Inode instance for a re-opened sector")
	}
	if a.OpenCount() != 2 {
		t.Fatalf("OpenCount = %d, want 2", a.OpenCount())
	}

	if err := table.close(cache, fm, a); err != nil {
		t.Fatalf("close: %v", err)
	}
	if a.OpenCount() != 1 {
		t.Fatalf("OpenCount = %d, want 1", a.OpenCount())
	}
	if err := table.close(cache, fm, b); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestInodeReleaseOnFinalCloseFreesSectors(t *testing.T) {
	cache, fm, table := newTestFilesystem(t, 512)

	before := fm.Allocated()
	sector, err := fm.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ok := createInode(cache, fm, sector, 0, false, RootDirSector); !ok {
		t.Fatalf("createInode returned false")
	}
	ino, err := table.open(cache, sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := ino.WriteAt(cache, fm, []byte("hello"), 0, 5); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	ino.Remove()
	if err := table.close(cache, fm, ino); err != nil {
		t.Fatalf("close: %v", err)
	}

	if fm.Allocated() != before {
		t.Fatalf("expected all sectors to be released, Allocated=%d want %d", fm.Allocated(), before)
	}
}
