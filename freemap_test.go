package pintos

import "testing"

func TestFreeMapFormatReservesBootFreeMapRoot(t *testing.T) {
	dev := NewMemBlockDevice(256)
	cache := NewCache(dev, CacheSize)
	table := newInodeTable()

	fm, err := formatFreeMap(table, cache, dev.SectorCount())
	if err != nil {
		t.Fatalf("formatFreeMap: %v", err)
	}

	for _, reserved := range []uint32{BootSector, FreeMapSector, RootDirSector} {
		if bitSet(fm.bits, reserved) {
			t.Fatalf("expected reserved sector %d to be marked in-use", reserved)
		}
	}
}

func TestFreeMapAllocateReleaseRoundTrip(t *testing.T) {
	dev := NewMemBlockDevice(256)
	cache := NewCache(dev, CacheSize)
	table := newInodeTable()

	fm, err := formatFreeMap(table, cache, dev.SectorCount())
	if err != nil {
		t.Fatalf("formatFreeMap: %v", err)
	}

	before := fm.Allocated()
	s, err := fm.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if bitSet(fm.bits, s) {
		t.Fatalf("allocated sector %d should be marked in-use", s)
	}
	if fm.Allocated() != before+1 {
		t.Fatalf("expected Allocated to increase by 1")
	}

	if err := fm.Release(s); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !bitSet(fm.bits, s) {
		t.Fatalf("released sector %d should be marked free", s)
	}
	if fm.Allocated() != before {
		t.Fatalf("expected Allocated to return to baseline after release")
	}
}

func TestFreeMapExhaustion(t *testing.T) {
	dev := NewMemBlockDevice(32)
	cache := NewCache(dev, CacheSize)
	table := newInodeTable()

	fm, err := formatFreeMap(table, cache, dev.SectorCount())
	if err != nil {
		t.Fatalf("formatFreeMap: %v", err)
	}

	count := 0
	for {
		if _, err := fm.Allocate(); err != nil {
			break
		}
		count++
		if count > int(dev.SectorCount())+1 {
			t.Fatalf("allocate did not fail after exhausting the free map")
		}
	}
}

func TestFreeMapPersistsAcrossReopen(t *testing.T) {
	dev := NewMemBlockDevice(256)
	cache := NewCache(dev, CacheSize)
	table := newInodeTable()

	fm, err := formatFreeMap(table, cache, dev.SectorCount())
	if err != nil {
		t.Fatalf("formatFreeMap: %v", err)
	}
	s, err := fm.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := cache.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	cache2 := NewCache(dev, CacheSize)
	table2 := newInodeTable()
	fm2, err := openFreeMap(table2, cache2, dev.SectorCount())
	if err != nil {
		t.Fatalf("openFreeMap: %v", err)
	}
	if bitSet(fm2.bits, s) {
		t.Fatalf("expected sector %d to still be allocated after reopen", s)
	}
}
