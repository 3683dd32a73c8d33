package blockcipher

import "fmt"

// ecbCrypt runs block in Electronic Codebook mode: every block is
// encrypted or decrypted independently, with no chaining and no IV. src
// and dst must be the same length and a multiple of block.BlockSize().
func ecbCrypt(block interface {
	BlockSize() int
	Encrypt(dst, src []byte)
	Decrypt(dst, src []byte)
}, dst, src []byte, encrypt bool) error {
	bs := block.BlockSize()
	if len(src)%bs != 0 {
		return fmt.Errorf("blockcipher: ecb input not a multiple of block size %d", bs)
	}
	for off := 0; off < len(src); off += bs {
		if encrypt {
			block.Encrypt(dst[off:off+bs], src[off:off+bs])
		} else {
			block.Decrypt(dst[off:off+bs], src[off:off+bs])
		}
	}
	return nil
}

// pad applies PKCS#7 padding for block modes that require whole blocks
// (ECB, CBC). Stream-like modes (CFB, OFB) pass plaintext through
// unchanged since they don't need block alignment.
func pad(plaintext []byte, blockSize int, mode Mode) ([]byte, error) {
	if mode == ModeCFB || mode == ModeOFB {
		return plaintext, nil
	}
	padLen := blockSize - len(plaintext)%blockSize
	out := make([]byte, len(plaintext)+padLen)
	copy(out, plaintext)
	for i := len(plaintext); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out, nil
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("blockcipher: invalid padded length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("blockcipher: invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("blockcipher: invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
