package rpf7

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// EntryKind discriminates the closed set of entry variants decoded from a
// 16-byte on-disk record.
type EntryKind int

const (
	EntryKindDirectory EntryKind = iota
	EntryKindBinaryFile
	EntryKindResourceFile
)

func (k EntryKind) String() string {
	switch k {
	case EntryKindDirectory:
		return "directory"
	case EntryKindBinaryFile:
		return "binary"
	case EntryKindResourceFile:
		return "resource"
	default:
		return "unknown"
	}
}

// directorySentinel marks a record as a directory entry; it occupies the
// same 32-bit word position used to discriminate entry kinds.
const directorySentinel = 0x7FFFFF00

// Entry is implemented by DirectoryEntry, BinaryFileEntry and
// ResourceFileEntry. Downstream code pattern-matches via Kind() (or a type
// switch) rather than testing concrete subtypes ad hoc.
type Entry interface {
	Kind() EntryKind
	Name() string
	NameLower() string
	Path() string
	Parent() *DirectoryEntry
	Archive() *Archive
	index() int
}

// fileEntry is implemented by the two file variants and carries everything
// the read pipeline needs, independent of which variant it is.
type fileEntry interface {
	Entry
	payloadBlockOffset() uint32
	onDiskSize() uint32
	uncompressedSize() uint32
	encryptionType() uint8
}

type entryCommon struct {
	name      string
	nameLower string
	path      string
	parent    *DirectoryEntry
	archive   *Archive
	idx       int
}

func (e *entryCommon) Name() string           { return e.name }
func (e *entryCommon) NameLower() string      { return e.nameLower }
func (e *entryCommon) Path() string           { return e.path }
func (e *entryCommon) Parent() *DirectoryEntry { return e.parent }
func (e *entryCommon) Archive() *Archive       { return e.archive }
func (e *entryCommon) index() int              { return e.idx }

// DirectoryEntry is a directory record: a name plus a contiguous span of
// the flat entries array that lists its children.
type DirectoryEntry struct {
	entryCommon
	EntriesIndex uint32
	EntriesCount uint32
	Children     []Entry
}

// Kind implements Entry.
func (*DirectoryEntry) Kind() EntryKind { return EntryKindDirectory }

// BinaryFileEntry is a plain file record: on-disk size is read directly
// from the record.
type BinaryFileEntry struct {
	entryCommon
	NameOffset         uint32
	OnDiskSize         uint32
	PayloadBlockOffset uint32
	UncompressedSize   uint32
	EncryptionType     uint8
}

// Kind implements Entry.
func (*BinaryFileEntry) Kind() EntryKind { return EntryKindBinaryFile }

func (e *BinaryFileEntry) payloadBlockOffset() uint32 { return e.PayloadBlockOffset }
func (e *BinaryFileEntry) onDiskSize() uint32         { return e.OnDiskSize }
func (e *BinaryFileEntry) uncompressedSize() uint32   { return e.UncompressedSize }
func (e *BinaryFileEntry) encryptionType() uint8      { return e.EncryptionType }

// ResourceFileEntry is a resource file record: its size is taken from the
// record's on-disk size field, or, when that field holds the sentinel
// 0xFFFFFF, reconstructed from the bit-packed system/graphics flags. Resource
// payloads are never deflate-compressed and never payload-encrypted.
type ResourceFileEntry struct {
	entryCommon
	NameOffset         uint32
	PayloadBlockOffset uint32
	SystemFlags        uint32
	GraphicsFlags      uint32
	Size               uint32 // on-disk size (reconstructed if sentinel); also the uncompressed size
}

// Kind implements Entry.
func (*ResourceFileEntry) Kind() EntryKind { return EntryKindResourceFile }

func (e *ResourceFileEntry) payloadBlockOffset() uint32 { return e.PayloadBlockOffset }
func (e *ResourceFileEntry) onDiskSize() uint32         { return e.Size }
func (e *ResourceFileEntry) uncompressedSize() uint32   { return e.Size }
func (e *ResourceFileEntry) encryptionType() uint8      { return 0 }

// resourceSizeSentinel is the on-disk-size value signalling that the real
// size must be reconstructed from the flag fields instead.
const resourceSizeSentinel = 0xFFFFFF

// rawRecord is a decoded, not-yet-resolved 16-byte entry record: enough
// information to tell the three kinds apart and to finish decoding once the
// owning archive and names buffer are known.
type rawRecord struct {
	kind EntryKind

	// directory
	dirNameOffset uint32
	entriesIndex  uint32
	entriesCount  uint32

	// binary / resource shared
	nameOffset         uint32
	payloadBlockOffset uint32
	onDiskSize         uint32 // for resource: the size, or resourceSizeSentinel

	// binary only
	uncompressedSize uint32
	encryptionType   uint8

	// resource only
	systemFlags   uint32
	graphicsFlags uint32
}

// decodeRawRecord decodes one 16-byte entry record, without resolving names
// or building tree links.
func decodeRawRecord(rec [16]byte) (rawRecord, error) {
	h1 := binary.LittleEndian.Uint32(rec[0:4])
	h2 := binary.LittleEndian.Uint32(rec[4:8])

	if h2 == directorySentinel {
		entriesIndex := binary.LittleEndian.Uint32(rec[8:12])
		entriesCount := binary.LittleEndian.Uint32(rec[12:16])
		return rawRecord{
			kind:          EntryKindDirectory,
			dirNameOffset: h1,
			entriesIndex:  entriesIndex,
			entriesCount:  entriesCount,
		}, nil
	}

	d1 := binary.LittleEndian.Uint64(rec[0:8])
	d2 := binary.LittleEndian.Uint64(rec[8:16])

	nameOffset := uint32(d1 & 0xFFFF)
	onDiskSize := uint32((d1 >> 16) & 0xFFFFFF)
	payloadBlockOffset := uint32((d1 >> 40) & 0xFFFFFF)

	isResource := (d2>>31)&1 == 1
	if isResource {
		systemFlags := uint32(d2 & 0xFFFFFFFF)
		graphicsFlags := uint32((d2 >> 32) & 0xFFFFFFFF)
		return rawRecord{
			kind:               EntryKindResourceFile,
			nameOffset:         nameOffset,
			payloadBlockOffset: payloadBlockOffset,
			onDiskSize:         onDiskSize,
			systemFlags:        systemFlags,
			graphicsFlags:      graphicsFlags,
		}, nil
	}

	if (d2 >> 32) != 0 {
		return rawRecord{}, ErrInvalidBinaryEntry
	}
	uncompressedSize := uint32(d2 & 0xFFFFFF)
	encryptionType := uint8((d2 >> 24) & 0xFF)
	return rawRecord{
		kind:               EntryKindBinaryFile,
		nameOffset:         nameOffset,
		payloadBlockOffset: payloadBlockOffset,
		onDiskSize:         onDiskSize,
		uncompressedSize:   uncompressedSize,
		encryptionType:     encryptionType,
	}, nil
}

// resourceSize reconstructs a resource entry's size from its bit-packed
// system and graphics flag fields.
func resourceSize(systemFlags, graphicsFlags uint32) uint32 {
	var base uint32
	if (systemFlags>>27)&1 != 0 {
		base = 0x10
	}
	vmem := (systemFlags & 0x7FF) << ((systemFlags >> 11) & 0xF)
	pmem := ((systemFlags >> 15) & 0x7F) << ((systemFlags >> 25) & 0xF)
	vgfx := (graphicsFlags & 0x7FF) << ((graphicsFlags >> 11) & 0xF)
	pgfx := ((graphicsFlags >> 15) & 0x7F) << ((graphicsFlags >> 25) & 0xF)
	return base + vmem + pmem + vgfx + pgfx
}

// resolveName reads a NUL-terminated byte string starting at offset in the
// names buffer.
func resolveName(names []byte, offset uint32) (string, error) {
	if int(offset) > len(names) {
		return "", ErrNamesOverrun
	}
	rest := names[offset:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", ErrNamesOverrun
	}
	return string(rest[:end]), nil
}

func lower(s string) string { return strings.ToLower(s) }
