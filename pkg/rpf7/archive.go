package rpf7

import (
	"path/filepath"
	"strings"

	"github.com/rpfkit/rpf7/internal/rpf7log"
)

var archiveLog = rpf7log.For("archive")

// archiveExtension is the suffix that marks a file entry as a nested
// archive to recurse into.
const archiveExtension = ".rpf"

// Archive is one parsed RPF7 table of contents, either the top-level
// archive in a backing file or one nested inside another archive's payload.
type Archive struct {
	BackingPath string
	StartOffset int64
	Size        int64
	Name        string // backing file's base name (root) or owning entry's name (nested)

	Version     uint32
	EntryCount  uint32
	NamesLength uint32
	Encryption  EncryptionMode

	Entries  []Entry
	Root     *DirectoryEntry
	Children []*Archive
	Parent   *Archive

	fs          FileSystem
	keyProvider KeyProvider
}

// Open parses the top-level archive stored at offset 0 of backingPath.
func Open(fs FileSystem, backingPath string, keyProvider KeyProvider) (*Archive, error) {
	size, err := fs.Size(backingPath)
	if err != nil {
		return nil, err
	}
	return openAt(fs, backingPath, 0, size, filepath.Base(backingPath), keyProvider, nil)
}

// openAt parses an archive that starts at startOffset within backingPath
// and spans size bytes. name is used as the NG TOC keystream key and as the
// registration suffix for nested archives.
func openAt(fs FileSystem, backingPath string, startOffset, size int64, name string, keyProvider KeyProvider, parent *Archive) (*Archive, error) {
	a := &Archive{
		BackingPath: backingPath,
		StartOffset: startOffset,
		Size:        size,
		Name:        name,
		Parent:      parent,
		fs:          fs,
		keyProvider: keyProvider,
	}

	var toc []byte
	var names []byte
	err := withFile(fs, backingPath, func(f RandomReader) error {
		headerBuf, err := readAtFull(f, startOffset, headerSize)
		if err != nil {
			return err
		}
		h, err := decodeHeader(headerBuf)
		if err != nil {
			return err
		}
		a.Version = h.version
		a.EntryCount = h.entryCount
		a.NamesLength = h.namesLength
		a.Encryption = EncryptionMode(h.encryptionRaw)

		tocRaw, err := readAtFull(f, startOffset+headerSize, int(h.entryCount)*16)
		if err != nil {
			return err
		}
		namesRaw, err := readAtFull(f, startOffset+headerSize+int64(h.entryCount)*16, int(h.namesLength))
		if err != nil {
			return err
		}
		toc, names, err = a.decryptTOC(tocRaw, namesRaw)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := a.decodeEntries(toc, names); err != nil {
		return nil, err
	}
	if err := a.buildHierarchy(); err != nil {
		return nil, err
	}
	if err := a.scanNested(); err != nil {
		return nil, err
	}
	return a, nil
}

// decryptTOC applies the archive's TOC-level encryption (AES or NG) to the
// raw entries and names buffers, or returns them verbatim for NONE/OPEN.
func (a *Archive) decryptTOC(toc, names []byte) ([]byte, []byte, error) {
	switch a.Encryption {
	case EncryptionNone, EncryptionOpen:
		return toc, names, nil
	case EncryptionAES:
		bc, err := newBlockCipher()
		if err != nil {
			return nil, nil, err
		}
		return bc.Decrypt(toc), bc.Decrypt(names), nil
	case EncryptionNG:
		lengthTag := uint32(a.Size)
		decToc, err := xorKeystream(a.keyProvider, lower(a.Name), lengthTag, toc)
		if err != nil {
			return nil, nil, err
		}
		decNames, err := xorKeystream(a.keyProvider, lower(a.Name), lengthTag, names)
		if err != nil {
			return nil, nil, err
		}
		return decToc, decNames, nil
	default:
		return toc, names, nil
	}
}

// decodeEntries decodes every 16-byte record, resolves names, and stores
// the flat entries array. Tree links are not yet populated.
func (a *Archive) decodeEntries(toc, names []byte) error {
	if a.EntryCount == 0 {
		return ErrInvalidDirectoryEntry
	}
	entries := make([]Entry, a.EntryCount)
	for i := uint32(0); i < a.EntryCount; i++ {
		off := int(i) * 16
		if off+16 > len(toc) {
			return ErrTruncated
		}
		var rec [16]byte
		copy(rec[:], toc[off:off+16])

		raw, err := decodeRawRecord(rec)
		if err != nil {
			return err
		}

		switch raw.kind {
		case EntryKindDirectory:
			name, err := resolveName(names, raw.dirNameOffset)
			if err != nil {
				return err
			}
			d := &DirectoryEntry{
				entryCommon:  entryCommon{name: name, nameLower: lower(name), archive: a, idx: int(i)},
				EntriesIndex: raw.entriesIndex,
				EntriesCount: raw.entriesCount,
			}
			entries[i] = d

		case EntryKindBinaryFile:
			name, err := resolveName(names, raw.nameOffset)
			if err != nil {
				return err
			}
			entries[i] = &BinaryFileEntry{
				entryCommon:        entryCommon{name: name, nameLower: lower(name), archive: a, idx: int(i)},
				NameOffset:         raw.nameOffset,
				OnDiskSize:         raw.onDiskSize,
				PayloadBlockOffset: raw.payloadBlockOffset,
				UncompressedSize:   raw.uncompressedSize,
				EncryptionType:     raw.encryptionType,
			}

		case EntryKindResourceFile:
			name, err := resolveName(names, raw.nameOffset)
			if err != nil {
				return err
			}
			size := raw.onDiskSize
			if size == resourceSizeSentinel {
				size = resourceSize(raw.systemFlags, raw.graphicsFlags)
			}
			entries[i] = &ResourceFileEntry{
				entryCommon:        entryCommon{name: name, nameLower: lower(name), archive: a, idx: int(i)},
				NameOffset:         raw.nameOffset,
				PayloadBlockOffset: raw.payloadBlockOffset,
				SystemFlags:        raw.systemFlags,
				GraphicsFlags:      raw.graphicsFlags,
				Size:               size,
			}
		}
	}

	if entries[0].Kind() != EntryKindDirectory {
		return ErrInvalidDirectoryEntry
	}
	a.Entries = entries
	a.Root = entries[0].(*DirectoryEntry)
	return nil
}

// buildHierarchy assigns parent links and backslash-joined paths to every
// entry: entry 0 is the root, and each directory's
// [entries_index, entries_index+entries_count) span becomes its children in
// array order. visited guards against a crafted directory whose span
// revisits a directory already linked (itself or an ancestor), which would
// otherwise recurse forever.
func (a *Archive) buildHierarchy() error {
	visited := make([]bool, len(a.Entries))

	var link func(dir *DirectoryEntry) error
	link = func(dir *DirectoryEntry) error {
		if visited[dir.idx] {
			return ErrInvalidDirectoryEntry
		}
		visited[dir.idx] = true

		start, count := dir.EntriesIndex, dir.EntriesCount
		end := uint64(start) + uint64(count)
		if end > uint64(len(a.Entries)) {
			return ErrInvalidDirectoryEntry
		}
		dir.Children = make([]Entry, 0, count)
		for i := start; i < start+count; i++ {
			child := a.Entries[i]
			setParentAndPath(child, dir)
			dir.Children = append(dir.Children, child)
			if sub, ok := child.(*DirectoryEntry); ok {
				if err := link(sub); err != nil {
					return err
				}
			}
		}
		return nil
	}

	setParentAndPath(a.Root, nil)
	return link(a.Root)
}

func setParentAndPath(e Entry, parent *DirectoryEntry) {
	switch v := e.(type) {
	case *DirectoryEntry:
		v.parent = parent
		v.path = joinArchivePath(parent, v.name)
	case *BinaryFileEntry:
		v.parent = parent
		v.path = joinArchivePath(parent, v.name)
	case *ResourceFileEntry:
		v.parent = parent
		v.path = joinArchivePath(parent, v.name)
	}
}

func joinArchivePath(parent *DirectoryEntry, name string) string {
	if parent == nil || parent.path == "" {
		return name
	}
	return parent.path + `\` + name
}

// scanNested walks the tree and recursively opens a child archive for every
// file entry whose lowercased name ends in the archive extension.
func (a *Archive) scanNested() error {
	for _, e := range a.Entries {
		fe, ok := e.(fileEntry)
		if !ok {
			continue
		}
		if !strings.HasSuffix(e.NameLower(), archiveExtension) {
			continue
		}
		childOffset := a.StartOffset + int64(fe.payloadBlockOffset())*512
		childSize := int64(fe.onDiskSize())
		child, err := openAt(a.fs, a.BackingPath, childOffset, childSize, e.Name(), a.keyProvider, a)
		if err != nil {
			archiveLog.WithError(err).WithField("path", e.Path()).Warn("failed to open nested archive")
			continue
		}
		a.Children = append(a.Children, child)
	}
	return nil
}

// Find splits path on either path separator and walks the tree from the
// root, matching segments case-insensitively (directories tried first at
// each level), returning the resolved entry or nil.
func (a *Archive) Find(path string) Entry {
	segments := splitPath(path)
	var cur Entry = a.Root
	if len(segments) == 0 {
		return cur
	}
	for _, seg := range segments {
		dir, ok := cur.(*DirectoryEntry)
		if !ok {
			return nil
		}
		next := findChild(dir, seg)
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func findChild(dir *DirectoryEntry, segment string) Entry {
	segment = lower(segment)
	for _, c := range dir.Children {
		if c.Kind() == EntryKindDirectory && c.NameLower() == segment {
			return c
		}
	}
	for _, c := range dir.Children {
		if c.Kind() != EntryKindDirectory && c.NameLower() == segment {
			return c
		}
	}
	return nil
}

func splitPath(path string) []string {
	path = strings.ReplaceAll(path, `\`, "/")
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
