package rpf7

import (
	"bytes"
	"compress/flate"
	"io"
)

// Read reads one file entry's bytes: read the raw payload, apply the
// archive's encryption mode if the entry requests it, then inflate if the
// entry declares a different uncompressed size.
//
// RPF7 payloads are raw DEFLATE streams (RFC 1951), not zlib- or
// gzip-framed, so compress/flate, the stdlib's raw-DEFLATE reader, is the
// correct tool here.
func Read(a *Archive, e Entry) ([]byte, error) {
	fe, ok := e.(fileEntry)
	if !ok {
		return nil, ErrEntryNotFile
	}

	payloadOffset := a.StartOffset + int64(fe.payloadBlockOffset())*512
	onDiskSize := int(fe.onDiskSize())

	var raw []byte
	err := withFile(a.fs, a.BackingPath, func(f RandomReader) error {
		buf, err := readAtFull(f, payloadOffset, onDiskSize)
		if err != nil {
			return err
		}
		raw = buf
		return nil
	})
	if err != nil {
		return nil, err
	}

	if fe.encryptionType() != 0 {
		raw, err = decryptPayload(a, e, fe, raw)
		if err != nil {
			return nil, err
		}
	}

	uncompressed := fe.uncompressedSize()
	if uncompressed > 0 && uncompressed != fe.onDiskSize() {
		return inflate(raw, int(uncompressed))
	}
	return raw, nil
}

// decryptPayload applies the archive's encryption mode to one entry's
// payload. NG is keyed on the entry's own name and uncompressed size,
// distinct from the TOC keystream (keyed on the archive's name and size).
func decryptPayload(a *Archive, e Entry, fe fileEntry, raw []byte) ([]byte, error) {
	switch a.Encryption {
	case EncryptionAES:
		bc, err := newBlockCipher()
		if err != nil {
			return nil, err
		}
		return bc.Decrypt(raw), nil
	case EncryptionNG:
		return xorKeystream(a.keyProvider, lower(e.Name()), fe.uncompressedSize(), raw)
	default:
		return raw, nil
	}
}

func inflate(raw []byte, expectedLen int) ([]byte, error) {
	zr := flate.NewReader(bytes.NewReader(raw))
	defer zr.Close()

	out := make([]byte, expectedLen)
	n, err := io.ReadFull(zr, out)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, ErrInflateFailed
	}
	if n != expectedLen {
		return nil, ErrInflateLengthMismatch
	}
	// Confirm the stream doesn't contain trailing data beyond expectedLen,
	// which would indicate a declared uncompressed_size that undershoots
	// the real inflate output.
	var extra [1]byte
	if m, _ := zr.Read(extra[:]); m > 0 {
		return nil, ErrInflateLengthMismatch
	}
	return out, nil
}
