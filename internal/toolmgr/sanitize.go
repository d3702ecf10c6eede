package toolmgr

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

const (
	// namespaceDelimiter separates server and tool in fully qualified names.
	namespaceDelimiter = "___"
	// maxToolNameLen is the longest model-facing name a provider accepts.
	maxToolNameLen = 64
	// maxCollisionRetries bounds the "append 1" strategy before falling back
	// to a hash suffix.
	maxCollisionRetries = 8
)

var validToolName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// SanitizeName maps a server-declared tool name onto ^[a-zA-Z][a-zA-Z0-9_]*$.
// Valid names without the namespace delimiter are returned unchanged, and
// SanitizeName(SanitizeName(n)) == SanitizeName(n) for every n.
func SanitizeName(orig string) string {
	if validToolName.MatchString(orig) && !strings.Contains(orig, namespaceDelimiter) {
		return orig
	}

	var b strings.Builder
	for _, r := range orig {
		if r < 128 && (r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')) {
			b.WriteRune(r)
		}
	}
	// A run of n underscores becomes n%3 underscores, so no delimiter survives.
	sanitized := strings.ReplaceAll(b.String(), namespaceDelimiter, "")

	if sanitized == "" {
		h := fnv.New64a()
		h.Write([]byte(orig))
		return fmt.Sprintf("a%03d", h.Sum64()%1000)
	}

	if c := sanitized[0]; !('a' <= c && c <= 'z') && !('A' <= c && c <= 'Z') {
		return "a" + sanitized
	}
	return sanitized
}

// dedupeName returns name, or a variant of it for which taken is false.
// It appends "1" up to maxCollisionRetries times, then switches to a short
// hash suffix so it always terminates.
func dedupeName(name string, taken func(string) bool) string {
	candidate := name
	for i := 0; i < maxCollisionRetries && taken(candidate); i++ {
		candidate += "1"
	}
	for attempt := 0; taken(candidate); attempt++ {
		h := fnv.New32a()
		fmt.Fprintf(h, "%s#%d", name, attempt)
		candidate = fmt.Sprintf("%s_%04x", name, h.Sum32()&0xffff)
	}
	return candidate
}
