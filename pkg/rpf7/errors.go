package rpf7

import "errors"

// Structural errors. Fatal for the affected archive; a registry scan logs
// and continues with other archives.
var (
	ErrInvalidVersion        = errors.New("rpf7: invalid version tag")
	ErrInvalidDirectoryEntry = errors.New("rpf7: invalid directory entry")
	ErrInvalidBinaryEntry    = errors.New("rpf7: invalid binary file entry")
	ErrTruncated             = errors.New("rpf7: truncated read")
	ErrNamesOverrun          = errors.New("rpf7: name offset overruns names table")
)

// Cryptographic errors. A failure while decrypting the table of contents
// makes Open fail, so the archive is not loaded and a registry scan logs it
// and continues; a failure while decrypting a payload fails that Read.
var (
	ErrUnsupportedEncryption = errors.New("rpf7: unsupported encryption, no key material available")
	ErrDecryptInconsistent   = errors.New("rpf7: block cipher decode failed")
)

// Usage errors, returned directly to callers.
var (
	ErrNotInitialized = errors.New("rpf7: registry not initialized")
	ErrEntryNotFile   = errors.New("rpf7: entry is not a file")
	ErrInvalidPath    = errors.New("rpf7: invalid path")
	ErrNotFound       = errors.New("rpf7: not found")
)

// Decompression errors.
var (
	ErrInflateFailed         = errors.New("rpf7: inflate failed")
	ErrInflateLengthMismatch = errors.New("rpf7: inflated size does not match uncompressed size")
)
