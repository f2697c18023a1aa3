package pintos

import "testing"

func TestCacheReadWriteRoundTrip(t *testing.T) {
	dev := NewMemBlockDevice(128)
	c := NewCache(dev, CacheSize)

	in := make([]byte, SectorSize)
	for i := range in {
		in[i] = byte(i)
	}
	if err := c.Write(5, in, 0, SectorSize); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := make([]byte, SectorSize)
	if err := c.Read(5, out, 0, SectorSize); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("round trip mismatch")
	}

	// A dirty write must not be visible on the device until eviction or
	// Shutdown.
	raw := make([]byte, SectorSize)
	if err := dev.ReadSector(5, raw); err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	allZero := true
	for _, b := range raw {
		if b != 0 {
			allZero = false
			break
		}
	}
	if !allZero {
		t.Fatalf("expected sector 5 on device to still be zero before write-back")
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := dev.ReadSector(5, raw); err != nil {
		t.Fatalf("ReadSector after shutdown: %v", err)
	}
	if string(raw) != string(in) {
		t.Fatalf("write-back mismatch after Shutdown")
	}
}

func TestCacheHitRateImprovesOnReopen(t *testing.T) {
	dev := NewMemBlockDevice(128)
	c := NewCache(dev, CacheSize)

	buf := make([]byte, SectorSize)
	if err := c.Read(1, buf, 0, SectorSize); err != nil {
		t.Fatalf("Read: %v", err)
	}
	_, misses1 := c.Stats()

	if err := c.Read(1, buf, 0, SectorSize); err != nil {
		t.Fatalf("Read: %v", err)
	}
	hits2, misses2 := c.Stats()

	if misses2 != misses1 {
		t.Fatalf("expected second read of the same sector to be a cache hit, misses went from %d to %d", misses1, misses2)
	}
	if hits2 == 0 {
		t.Fatalf("expected at least one hit, got 0")
	}
}

func TestCacheEvictionWritesBackDirtyBlock(t *testing.T) {
	dev := NewMemBlockDevice(CacheSize + 8)
	c := NewCache(dev, CacheSize)

	in := make([]byte, SectorSize)
	in[0] = 0xAB
	if err := c.Write(0, in, 0, SectorSize); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Touch CacheSize further distinct sectors to force sector 0 out of the
	// LRU list.
	buf := make([]byte, SectorSize)
	for s := uint32(1); s <= CacheSize; s++ {
		if err := c.Read(s, buf, 0, SectorSize); err != nil {
			t.Fatalf("Read(%d): %v", s, err)
		}
	}

	raw := make([]byte, SectorSize)
	if err := dev.ReadSector(0, raw); err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	if raw[0] != 0xAB {
		t.Fatalf("expected eviction to write back dirty sector 0, got %x", raw[0])
	}
}

func TestCacheWriteZero(t *testing.T) {
	dev := NewMemBlockDevice(16)
	c := NewCache(dev, CacheSize)

	in := make([]byte, SectorSize)
	for i := range in {
		in[i] = 1
	}
	if err := c.Write(3, in, 0, SectorSize); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.WriteZero(3); err != nil {
		t.Fatalf("WriteZero: %v", err)
	}

	out := make([]byte, SectorSize)
	if err := c.Read(3, out, 0, SectorSize); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, b)
		}
	}
}

func TestNewCacheHonorsRequestedSize(t *testing.T) {
	dev := NewMemBlockDevice(16)
	c := NewCache(dev, 8)
	if got := c.capacity(); got != 8 {
		t.Fatalf("capacity = %d, want 8", got)
	}

	// A size <= 0 falls back to the CacheSize default rather than producing
	// an unusably empty cache.
	c2 := NewCache(dev, 0)
	if got := c2.capacity(); got != CacheSize {
		t.Fatalf("capacity = %d, want default %d", got, CacheSize)
	}
}

func TestCacheFreeCacheWritesBackAndInvalidates(t *testing.T) {
	dev := NewMemBlockDevice(16)
	c := NewCache(dev, CacheSize)

	in := make([]byte, SectorSize)
	in[0] = 0x7A
	if err := c.Write(2, in, 0, SectorSize); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := c.FreeCache(); err != nil {
		t.Fatalf("FreeCache: %v", err)
	}

	raw := make([]byte, SectorSize)
	if err := dev.ReadSector(2, raw); err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	if raw[0] != 0x7A {
		t.Fatalf("expected FreeCache to write back the dirty sector, got %x", raw[0])
	}

	// After FreeCache, the next read of the same sector must be a fresh
	// device read (a miss), not served from a block that quietly stayed
	// resident.
	_, missesBefore := c.Stats()
	out := make([]byte, SectorSize)
	if err := c.Read(2, out, 0, SectorSize); err != nil {
		t.Fatalf("Read: %v", err)
	}
	_, missesAfter := c.Stats()
	if missesAfter != missesBefore+1 {
		t.Fatalf("expected exactly one new miss after FreeCache, got %d -> %d", missesBefore, missesAfter)
	}
}
