package wire

import (
	"bytes"
	"crypto/md5"
)

// roastTable is the XOR key shared by every legacy client (QIP 2005,
// ICQ 2000, R&Q).
var roastTable = [16]byte{
	0xF3, 0x26, 0x81, 0xC4, 0x39, 0x86, 0xDB, 0x92,
	0x71, 0xA3, 0xB9, 0xE6, 0x53, 0x7A, 0x95, 0x7C,
}

// md5AuthSuffix is the client-identification literal mixed into the MD5
// challenge hash.
const md5AuthSuffix = "AOL Instant Messenger (SM)"

// RoastPassword applies the XOR key table cyclically. The operation is its
// own inverse.
func RoastPassword(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ roastTable[i%len(roastTable)]
	}
	return out
}

// UnroastPassword decodes a roasted password TLV into plaintext, stripping
// the trailing NUL padding some clients append.
func UnroastPassword(b []byte) string {
	out := RoastPassword(b)
	end := len(out)
	for end > 0 && out[end-1] == 0 {
		end--
	}
	return string(out[:end])
}

// MD5PasswordHash computes the digest a modern client submits at login:
// MD5(challenge + MD5(password) + suffix). The challenge bytes are the ASCII
// hex string exactly as it was sent over the wire, not its decoded form.
func MD5PasswordHash(challenge string, password string) []byte {
	inner := md5.Sum([]byte(password))
	h := md5.New()
	h.Write([]byte(challenge))
	h.Write(inner[:])
	h.Write([]byte(md5AuthSuffix))
	return h.Sum(nil)
}

// ValidateMD5Hash checks a submitted login hash against the stored password
// and the previously issued challenge.
func ValidateMD5Hash(challenge string, password string, submitted []byte) bool {
	return bytes.Equal(MD5PasswordHash(challenge, password), submitted)
}
