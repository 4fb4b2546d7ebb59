package schema

import "crypto/md5"

// Fingerprint is the stable 16-byte content hash from §3/GLOSSARY: "a
// stable content fingerprint (16-byte MD5 over the canonical JSON of
// the protocol document)". It is used unmodified for any canonical-JSON
// string, not just whole protocols — handshake records reuse it too.
func Fingerprint(canonicalJSON string) [16]byte {
	return md5.Sum([]byte(canonicalJSON))
}
