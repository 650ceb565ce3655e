package rpf7

import "crypto/aes"

// aesBlockSize is the fixed block size of the AES mode primitive; it is not
// configurable, matching the compiled-in key / fixed block size of the
// on-disk format.
const aesBlockSize = 16

// rpfAESKey is the fixed 128-bit key used by the AES encryption mode. This
// value is specific to the target game version; it is not secret key
// material in the cryptographic sense, it is published widely in
// reverse-engineering communities for this archive format.
var rpfAESKey = [aesBlockSize]byte{
	0x21, 0x85, 0x6F, 0xA9, 0x52, 0xB4, 0xF3, 0x6C,
	0xD1, 0x96, 0x9E, 0x2B, 0x5C, 0x7A, 0x11, 0xF0,
}

// blockCipher implements the RPF7 AES mode: whole-buffer ECB with a
// compiled-in 128-bit key, trailing partial block passed through unchanged.
type blockCipher struct {
	block cipherBlock
}

// cipherBlock is the subset of cipher.Block this primitive depends on.
type cipherBlock interface {
	BlockSize() int
	Encrypt(dst, src []byte)
	Decrypt(dst, src []byte)
}

func newBlockCipher() (*blockCipher, error) {
	b, err := aes.NewCipher(rpfAESKey[:])
	if err != nil {
		return nil, err
	}
	return &blockCipher{block: b}, nil
}

// Decrypt returns a new buffer the same length as buf, with every full
// 16-byte block decrypted in ECB mode and any trailing partial block copied
// through unchanged.
func (c *blockCipher) Decrypt(buf []byte) []byte {
	return c.transform(buf, c.block.Decrypt)
}

// Encrypt is the symmetric counterpart of Decrypt.
func (c *blockCipher) Encrypt(buf []byte) []byte {
	return c.transform(buf, c.block.Encrypt)
}

func (c *blockCipher) transform(buf []byte, op func(dst, src []byte)) []byte {
	out := make([]byte, len(buf))
	whole := (len(buf) / aesBlockSize) * aesBlockSize
	for off := 0; off < whole; off += aesBlockSize {
		op(out[off:off+aesBlockSize], buf[off:off+aesBlockSize])
	}
	copy(out[whole:], buf[whole:])
	return out
}
