package registry

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/rpfkit/rpf7/pkg/rpf7"
)

func directoryRecord(nameOffset, entriesIndex, entriesCount uint32) [16]byte {
	var rec [16]byte
	binary.LittleEndian.PutUint32(rec[0:4], nameOffset)
	binary.LittleEndian.PutUint32(rec[4:8], 0x7FFFFF00)
	binary.LittleEndian.PutUint32(rec[8:12], entriesIndex)
	binary.LittleEndian.PutUint32(rec[12:16], entriesCount)
	return rec
}

func binaryFileRecord(nameOffset, onDiskSize, payloadBlockOffset, uncompressedSize uint32, encType uint8) [16]byte {
	var rec [16]byte
	d1 := uint64(nameOffset&0xFFFF) | uint64(onDiskSize&0xFFFFFF)<<16 | uint64(payloadBlockOffset&0xFFFFFF)<<40
	d2 := uint64(uncompressedSize&0xFFFFFF) | uint64(encType)<<24
	binary.LittleEndian.PutUint64(rec[0:8], d1)
	binary.LittleEndian.PutUint64(rec[8:16], d2)
	return rec
}

func concatRecords(entries [][16]byte) []byte {
	out := make([]byte, 0, len(entries)*16)
	for _, rec := range entries {
		out = append(out, rec[:]...)
	}
	return out
}

// buildArchive assembles a minimal NONE-mode archive image with one
// directory holding the given named payloads, each stored one payload block
// apart.
func buildArchive(files map[string][]byte) []byte {
	var names []byte
	names = append(names, 0)
	nameOffsets := map[string]uint32{}
	for name := range files {
		nameOffsets[name] = uint32(len(names))
		names = append(names, []byte(name)...)
		names = append(names, 0)
	}

	entries := [][16]byte{directoryRecord(0, 1, uint32(len(files)))}
	payloads := map[uint32][]byte{}
	block := uint32(1)
	for name, data := range files {
		entries = append(entries, binaryFileRecord(nameOffsets[name], uint32(len(data)), block, 0, 0))
		payloads[block] = data
		block++
	}

	toc := concatRecords(entries)
	entryCount := uint32(len(entries))

	tocStart := int64(16)
	namesStart := tocStart + int64(len(toc))
	bodyEnd := namesStart + int64(len(names))
	size := bodyEnd
	for b, data := range payloads {
		end := int64(b)*512 + int64(len(data))
		if end > size {
			size = end
		}
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], rpf7.VersionTag)
	binary.LittleEndian.PutUint32(buf[4:8], entryCount)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(names)))
	binary.LittleEndian.PutUint32(buf[12:16], 0) // NONE
	copy(buf[tocStart:namesStart], toc)
	copy(buf[namesStart:bodyEnd], names)
	for b, data := range payloads {
		off := int64(b) * 512
		copy(buf[off:off+int64(len(data))], data)
	}
	return buf
}

func TestRegistry_InitAndLookup(t *testing.T) {
	root := t.TempDir()
	archive := buildArchive(map[string][]byte{"greeting.txt": []byte("hi there")})
	if err := os.WriteFile(filepath.Join(root, "pack.rpf"), archive, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// a non-.rpf file must be ignored by the scan.
	if err := os.WriteFile(filepath.Join(root, "readme.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}

	archives, err := r.ListArchives()
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(archives) != 1 || archives[0] != "pack.rpf" {
		t.Fatalf("ListArchives = %v, want [pack.rpf]", archives)
	}

	dir, err := r.ListDirectory("pack.rpf", "")
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	if len(dir.Files) != 1 || dir.Files[0] != "greeting.txt" {
		t.Fatalf("ListDirectory = %+v, want one file greeting.txt", dir)
	}

	data, err := r.Read("pack.rpf", "greeting.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hi there" {
		t.Errorf("Read = %q, want %q", data, "hi there")
	}

	info, err := r.Info("pack.rpf", "greeting.txt")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Kind != rpf7.EntryKindBinaryFile || info.OnDiskSize != uint32(len("hi there")) {
		t.Errorf("Info = %+v", info)
	}
}

func TestRegistry_OperationsRequireInit(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.ListArchives(); err != rpf7.ErrNotInitialized {
		t.Errorf("ListArchives before Init: got %v, want ErrNotInitialized", err)
	}
	if _, err := r.Read("a.rpf", "x"); err != rpf7.ErrNotInitialized {
		t.Errorf("Read before Init: got %v, want ErrNotInitialized", err)
	}
}

func TestRegistry_ReadWithCache(t *testing.T) {
	root := t.TempDir()
	archive := buildArchive(map[string][]byte{"a.bin": []byte("payload-a")})
	if err := os.WriteFile(filepath.Join(root, "pack.rpf"), archive, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := New(WithCache(8))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}

	first, err := r.Read("pack.rpf", "a.bin")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	second, err := r.Read("pack.rpf", "a.bin")
	if err != nil {
		t.Fatalf("Read (cached): %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("cached read mismatch: %q != %q", first, second)
	}

	// mutating the first result must not corrupt the cache entry.
	first[0] = 'X'
	third, err := r.Read("pack.rpf", "a.bin")
	if err != nil {
		t.Fatalf("Read (after mutation): %v", err)
	}
	if string(third) != "payload-a" {
		t.Errorf("cache was mutated via caller's slice: got %q", third)
	}
}

func TestRegistry_NestedArchiveRegistration(t *testing.T) {
	root := t.TempDir()
	inner := buildArchive(map[string][]byte{"inner.txt": []byte("ok")})

	outerNames := []byte("\x00root\x00child.rpf\x00")
	outerEntries := [][16]byte{
		directoryRecord(1, 1, 1),
		binaryFileRecord(6, uint32(len(inner)), 1, 0, 0),
	}
	outerToc := concatRecords(outerEntries)

	tocStart := int64(16)
	namesStart := tocStart + int64(len(outerToc))
	bodyEnd := namesStart + int64(len(outerNames))
	size := bodyEnd
	if end := int64(512 + len(inner)); end > size {
		size = end
	}
	outer := make([]byte, size)
	binary.LittleEndian.PutUint32(outer[0:4], rpf7.VersionTag)
	binary.LittleEndian.PutUint32(outer[4:8], uint32(len(outerEntries)))
	binary.LittleEndian.PutUint32(outer[8:12], uint32(len(outerNames)))
	binary.LittleEndian.PutUint32(outer[12:16], 0)
	copy(outer[tocStart:namesStart], outerToc)
	copy(outer[namesStart:bodyEnd], outerNames)
	copy(outer[512:512+len(inner)], inner)

	if err := os.WriteFile(filepath.Join(root, "outer.rpf"), outer, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}

	archives, err := r.ListArchives()
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	want := map[string]bool{"outer.rpf": true, "outer.rpf/child.rpf": true}
	if len(archives) != len(want) {
		t.Fatalf("ListArchives = %v, want keys %v", archives, want)
	}
	for _, a := range archives {
		if !want[a] {
			t.Errorf("unexpected archive path %q", a)
		}
	}

	data, err := r.Read("outer.rpf/child.rpf", "inner.txt")
	if err != nil {
		t.Fatalf("Read nested: %v", err)
	}
	if string(data) != "ok" {
		t.Errorf("Read nested = %q, want %q", data, "ok")
	}
}

func TestRegistry_Search(t *testing.T) {
	root := t.TempDir()
	archive := buildArchive(map[string][]byte{
		"character_diffuse.dds": []byte("a"),
		"character_normal.dds":  []byte("b"),
		"vehicle_diffuse.dds":   []byte("c"),
	})
	if err := os.WriteFile(filepath.Join(root, "textures.rpf"), archive, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}

	t.Run("Substring", func(t *testing.T) {
		results, err := r.Search("character")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Search(character) = %d results, want 2", len(results))
		}
	})

	t.Run("Glob", func(t *testing.T) {
		results, err := r.Search("*_diffuse.dds")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Search(*_diffuse.dds) = %d results, want 2", len(results))
		}
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		results, err := r.Search("CHARACTER")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Search(CHARACTER) = %d results, want 2", len(results))
		}
	})
}

func TestRegistry_Tree(t *testing.T) {
	root := t.TempDir()
	archive := buildArchive(map[string][]byte{"a.bin": []byte("x"), "b.bin": []byte("y")})
	if err := os.WriteFile(filepath.Join(root, "pack.rpf"), archive, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}

	tree, err := r.Tree("pack.rpf", "", 0)
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if tree.Kind != rpf7.EntryKindDirectory {
		t.Fatalf("root node kind = %v, want directory", tree.Kind)
	}
	if len(tree.Children) != 2 {
		t.Fatalf("root node children = %d, want 2", len(tree.Children))
	}
}
