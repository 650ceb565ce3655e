// Package registry implements the process-level archive registry: a scan
// of a root directory that loads every RPF7 archive it finds, including
// archives nested inside other archives, and exposes directory listing,
// metadata, search and extraction over the resulting tree.
package registry

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/rpfkit/rpf7/internal/rpf7log"
	"github.com/rpfkit/rpf7/pkg/rpf7"
)

// skipDirs names directories a filesystem scan never descends into, beyond
// the generic dot-directory rule.
var skipDirs = map[string]bool{
	"vendor":       true,
	"node_modules": true,
	".git":         true,
	".svn":         true,
}

type cacheKey struct {
	archivePath string
	innerPath   string
}

// Registry is a normalized-logical-path -> loaded Archive mapping. It is
// mutated only by Init; every other method only reads, and is safe for
// concurrent use once Init has returned.
type Registry struct {
	root        string
	fs          rpf7.FileSystem
	keyProvider rpf7.KeyProvider
	log         logrus.FieldLogger

	archives map[string]*rpf7.Archive

	cacheSize int
	cache     *lru.Cache[cacheKey, []byte]

	initialized bool
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithFileSystem overrides the FileSystem used to open backing archive
// files; the default reads from the OS filesystem.
func WithFileSystem(f rpf7.FileSystem) Option {
	return func(r *Registry) { r.fs = f }
}

// WithKeyProvider overrides the NG KeyProvider; the default reports NG key
// material as unavailable.
func WithKeyProvider(p rpf7.KeyProvider) Option {
	return func(r *Registry) { r.keyProvider = p }
}

// WithCache enables an optional LRU cache of decrypted/inflated payloads,
// keyed by (archive logical path, inner path), holding up to size entries.
// This is purely additive: a Registry built without WithCache behaves
// identically.
func WithCache(size int) Option {
	return func(r *Registry) { r.cacheSize = size }
}

// New constructs a Registry. Call Init before any other method.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		fs:          rpf7.DefaultFileSystem,
		keyProvider: rpf7.UnavailableKeyProvider{},
		log:         rpf7log.For("registry"),
		archives:    make(map[string]*rpf7.Archive),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cacheSize > 0 {
		c, err := lru.New[cacheKey, []byte](r.cacheSize)
		if err != nil {
			return nil, err
		}
		r.cache = c
	}
	return r, nil
}

// Init scans root for every file ending in .rpf, opens each as a top-level
// archive, and registers it and every archive nested within it. A
// per-archive open failure is logged and does not abort the scan.
func (r *Registry) Init(root string) error {
	r.root = root
	count := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			r.log.WithError(err).WithField("path", path).Warn("scan error")
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[strings.ToLower(name)]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".rpf") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		logical := filepath.ToSlash(rel)

		archive, err := rpf7.Open(r.fs, path, r.keyProvider)
		if err != nil {
			r.log.WithError(err).WithField("path", logical).Warn("failed to open archive")
			return nil
		}
		r.archives[logical] = archive
		r.registerNested(archive, logical)
		count++
		return nil
	})
	if err != nil {
		return err
	}

	r.initialized = true
	r.log.WithField("count", count).Info("registry initialized")
	return nil
}

func (r *Registry) registerNested(a *rpf7.Archive, logicalPrefix string) {
	for _, child := range a.Children {
		childLogical := logicalPrefix + "/" + child.Name
		r.archives[childLogical] = child
		r.registerNested(child, childLogical)
	}
}

func (r *Registry) requireInit() error {
	if !r.initialized {
		return rpf7.ErrNotInitialized
	}
	return nil
}

// ListArchives returns every registered logical archive path, sorted.
func (r *Registry) ListArchives() ([]string, error) {
	if err := r.requireInit(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(r.archives))
	for p := range r.archives {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Registry) lookupArchive(archivePath string) (*rpf7.Archive, error) {
	a, ok := r.archives[archivePath]
	if !ok {
		return nil, rpf7.ErrNotFound
	}
	return a, nil
}

func (r *Registry) lookupEntry(archivePath, innerPath string) (*rpf7.Archive, rpf7.Entry, error) {
	a, err := r.lookupArchive(archivePath)
	if err != nil {
		return nil, nil, err
	}
	e := a.Find(innerPath)
	if e == nil {
		return nil, nil, rpf7.ErrNotFound
	}
	return a, e, nil
}

// Directory is the result of ListDirectory: the directory entry's immediate
// children split by kind, each name only (not full paths).
type Directory struct {
	Dirs  []string
	Files []string
}

// ListDirectory returns the immediate children of innerPath (or the
// archive root, if innerPath is empty) within archivePath.
func (r *Registry) ListDirectory(archivePath, innerPath string) (Directory, error) {
	if err := r.requireInit(); err != nil {
		return Directory{}, err
	}
	_, e, err := r.lookupEntry(archivePath, innerPath)
	if err != nil {
		return Directory{}, err
	}
	dir, ok := e.(*rpf7.DirectoryEntry)
	if !ok {
		return Directory{}, rpf7.ErrNotFound
	}
	out := Directory{}
	for _, c := range dir.Children {
		if c.Kind() == rpf7.EntryKindDirectory {
			out.Dirs = append(out.Dirs, c.Name())
		} else {
			out.Files = append(out.Files, c.Name())
		}
	}
	return out, nil
}

// FindEntry resolves innerPath within archivePath without reading any
// payload. If either the archive or the path is not found it returns nil
// and ErrNotFound.
func (r *Registry) FindEntry(archivePath, innerPath string) (rpf7.Entry, error) {
	if err := r.requireInit(); err != nil {
		return nil, err
	}
	_, e, err := r.lookupEntry(archivePath, innerPath)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Read decrypts and decompresses the bytes of the file at innerPath within
// archivePath.
func (r *Registry) Read(archivePath, innerPath string) ([]byte, error) {
	if err := r.requireInit(); err != nil {
		return nil, err
	}
	a, e, err := r.lookupEntry(archivePath, innerPath)
	if err != nil {
		return nil, err
	}
	if e.Kind() == rpf7.EntryKindDirectory {
		return nil, rpf7.ErrEntryNotFile
	}

	key := cacheKey{archivePath: archivePath, innerPath: innerPath}
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			out := make([]byte, len(cached))
			copy(out, cached)
			return out, nil
		}
	}

	data, err := rpf7.Read(a, e)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		stored := make([]byte, len(data))
		copy(stored, data)
		r.cache.Add(key, stored)
	}
	return data, nil
}

// EntryInfo is the metadata surfaced by Info, independent of entry kind.
type EntryInfo struct {
	Name             string
	Path             string
	Kind             rpf7.EntryKind
	OnDiskSize       uint32
	UncompressedSize uint32
	Encrypted        bool
}

// Info returns metadata for the entry at innerPath within archivePath
// without reading its payload.
func (r *Registry) Info(archivePath, innerPath string) (EntryInfo, error) {
	if err := r.requireInit(); err != nil {
		return EntryInfo{}, err
	}
	_, e, err := r.lookupEntry(archivePath, innerPath)
	if err != nil {
		return EntryInfo{}, err
	}
	info := EntryInfo{Name: e.Name(), Path: e.Path(), Kind: e.Kind()}
	switch v := e.(type) {
	case *rpf7.BinaryFileEntry:
		info.OnDiskSize = v.OnDiskSize
		info.UncompressedSize = v.UncompressedSize
		info.Encrypted = v.EncryptionType != 0
	case *rpf7.ResourceFileEntry:
		info.OnDiskSize = v.Size
		info.UncompressedSize = v.Size
	}
	return info, nil
}

// SearchResult identifies one matching entry by its registry location.
type SearchResult struct {
	ArchivePath string
	InnerPath   string
	Entry       rpf7.Entry
}

// Search matches pattern against every entry name across every registered
// archive. A pattern containing '*' is treated as a glob anchored at both
// ends ('*' -> any run of characters); otherwise it is a case-insensitive
// substring match.
func (r *Registry) Search(pattern string) ([]SearchResult, error) {
	if err := r.requireInit(); err != nil {
		return nil, err
	}
	match, err := newMatcher(pattern)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	paths, _ := r.ListArchives()
	for _, archivePath := range paths {
		a := r.archives[archivePath]
		for _, e := range a.Entries {
			if match(e.Name()) {
				results = append(results, SearchResult{
					ArchivePath: archivePath,
					InnerPath:   strings.ReplaceAll(e.Path(), `\`, "/"),
					Entry:       e,
				})
			}
		}
	}
	return results, nil
}

// TreeNode is one node of the nested structure produced by Tree.
type TreeNode struct {
	Name     string
	Kind     rpf7.EntryKind
	Children []*TreeNode
}

// Tree returns the nested directory/file structure rooted at innerPath (or
// the archive root if empty) within archivePath, descending at most
// maxDepth levels (0 means unlimited).
func (r *Registry) Tree(archivePath, innerPath string, maxDepth int) (*TreeNode, error) {
	if err := r.requireInit(); err != nil {
		return nil, err
	}
	_, e, err := r.lookupEntry(archivePath, innerPath)
	if err != nil {
		return nil, err
	}
	return buildTree(e, maxDepth, 0), nil
}

func buildTree(e rpf7.Entry, maxDepth, depth int) *TreeNode {
	node := &TreeNode{Name: e.Name(), Kind: e.Kind()}
	dir, ok := e.(*rpf7.DirectoryEntry)
	if !ok {
		return node
	}
	if maxDepth > 0 && depth >= maxDepth {
		return node
	}
	for _, c := range dir.Children {
		node.Children = append(node.Children, buildTree(c, maxDepth, depth+1))
	}
	return node
}
