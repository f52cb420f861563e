// Package fingerprint implements Component A: a deterministic hash of a
// (term, plugin) pair used as both the cache key and the download
// directory disambiguator, plus the path sanitizer that turns arbitrary
// plugin-supplied text into a single filesystem-safe path component.
//
// Grounded on pkg/downloadcache/fingerprint.go and filename.go's
// sanitize-then-shorten shape, but the exact character set, the
// escape-decoding step, and the digest-suffix fallback follow spec.md
// §4.A, which documents a richer algorithm than either the teacher or the
// original_source/src/core/utils.rs snapshot shows.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
)

// platformPathLimit is the path-component length (in bytes) beyond which
// sanitize_as_path falls back to a shortened name plus a digest suffix.
// 256 matches the ext4/NTFS/APFS single-component limit most platforms
// enforce; spec.md notes it as "unbounded elsewhere" but a single
// conservative constant is simpler and never wrong to apply.
const platformPathLimit = 256

// safePrefixLen is the number of bytes of a sanitized name kept when
// shortening it for use in a disambiguator-id path component.
const safePrefixLen = 70

// reservedRun matches a maximal run of any character that must not appear
// in a sanitized path component.
var reservedRun = regexp.MustCompile(`[\\/:"'*?<>.&%={}|~+]+`)

// whitespaceRun matches a maximal run of whitespace, collapsed to a single
// space in the final sanitize pass.
var whitespaceRun = regexp.MustCompile(`\s+`)

// Fingerprint returns "mx_" + the lowercase hex SHA-256 digest of
// term concatenated with plugin (no separator), per spec.md's invariant:
// F(term, plugin) = "mx_" + hex(SHA-256(term || plugin)).
func Fingerprint(term, plugin string) string {
	sum := sha256.Sum256([]byte(term + plugin))
	return "mx_" + hex.EncodeToString(sum[:])
}

// Sanitize decodes JSON-style unicode escapes in s, replaces every maximal
// run of the reserved character set with a single underscore, and collapses
// whitespace runs to single spaces.
func Sanitize(s string) string {
	decoded := decodeJSONEscapes(s)
	underscored := reservedRun.ReplaceAllString(decoded, "_")
	return whitespaceRun.ReplaceAllString(underscored, " ")
}

// decodeJSONEscapes decodes \uXXXX/\n-style escapes already embedded in s by
// literally wrapping s in quote characters to form a JSON string literal,
// then letting json.Unmarshal interpret whatever escapes it contains. This
// is deliberately not json.Marshal(s): marshaling s would re-escape it from
// scratch and unmarshaling that back out is a pure no-op for any valid UTF-8
// input, which would never decode escapes that were already present in the
// scraped text (the case spec.md §4.A's algorithm exists for). Input that
// doesn't round-trip this way (e.g. a bare, unescaped quote or control
// character) is returned unchanged, since sanitize's job is cosmetic, not a
// correctness boundary.
func decodeJSONEscapes(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// Shortened appends UTF-8 runes of t while the accumulated byte length
// stays at or below n, appending a literal ".." if truncation occurred.
func Shortened(t string, n int) string {
	if len(t) <= n {
		return t
	}
	var b strings.Builder
	for _, r := range t {
		candidate := b.Len() + len(string(r))
		if candidate > n {
			break
		}
		b.WriteRune(r)
	}
	return b.String() + ".."
}

// SanitizeAsPath produces a single filesystem-safe path component from s.
// When id is non-empty, the result is "{shortened(sanitized,70)} ({id})".
// Otherwise, if the sanitized name exceeds platformPathLimit bytes, it
// recurses with id set to "long_" plus the first 5 hex characters of the
// sha256 digest of the sanitized name — a disambiguator that keeps two
// long-but-distinct names from colliding after truncation.
func SanitizeAsPath(s string, id string) string {
	sanitized := Sanitize(s)
	if id != "" {
		return Shortened(sanitized, safePrefixLen) + " (" + id + ")"
	}
	if len(sanitized) <= platformPathLimit {
		return sanitized
	}
	sum := sha256.Sum256([]byte(sanitized))
	digest := hex.EncodeToString(sum[:])[:5]
	return SanitizeAsPath(s, "long_"+digest)
}

// BookDirName builds the "<sanitized-title> (<fingerprint-prefix-10>)"
// directory-name component used by both the download and metadata layouts
// (§6), disambiguating books whose sanitized titles collide.
func BookDirName(title, term, plugin string) string {
	fp := Fingerprint(term, plugin)
	prefix := fp
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	return SanitizeAsPath(title, "") + " (" + prefix + ")"
}
