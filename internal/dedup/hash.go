package dedup

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash is the dedup digest over a feed item's identity fields. Identical
// (url, guid, title) always produce the same hash, which is what makes
// re-polled and re-emitted items collapse to one article.
func Hash(url, guid, title string) string {
	hasher := sha256.New()
	hasher.Write([]byte(url))
	hasher.Write([]byte{'|'})
	hasher.Write([]byte(guid))
	hasher.Write([]byte{'|'})
	hasher.Write([]byte(title))
	return hex.EncodeToString(hasher.Sum(nil))
}
