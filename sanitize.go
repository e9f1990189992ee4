// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"fmt"
	"hash/fnv"
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxSegmentLen limits one sanitized path segment.
const maxSegmentLen = 240

// reservedDeviceNames are Windows device names that cannot be used as file names.
var reservedDeviceNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {}, "com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {}, "lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// SanitizeName rewrites a normalized relative entry name into a portable file name.
// Invalid UTF-8 and characters rejected by common filesystems become "_".
func SanitizeName(relPath string) string {
	parts := strings.Split(relPath, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}

		out = append(out, sanitizeSegment(part))
	}

	if len(out) == 0 {
		return "_"
	}

	return strings.Join(out, "/")
}

// sanitizeSegment rewrites one path segment.
func sanitizeSegment(segment string) string {
	var b strings.Builder
	b.Grow(len(segment))
	for i := 0; i < len(segment); {
		r, size := utf8.DecodeRuneInString(segment[i:])
		i += size

		if r == utf8.RuneError || unicode.IsControl(r) || unicode.In(r, unicode.Cf) || strings.ContainsRune(`<>:"\|?*`, r) {
			b.WriteByte('_')
			continue
		}

		b.WriteRune(r)
	}

	s := strings.TrimRight(b.String(), ". ")
	switch {
	case s == "" || s == "..":
		s = "_"
	case isReservedDeviceName(s):
		s = "_" + s
	}

	return shortenSegment(s, maxSegmentLen)
}

// isReservedDeviceName reports whether the part before the first dot is a device name.
func isReservedDeviceName(segment string) bool {
	base := strings.ToLower(segment)
	if dot := strings.IndexByte(base, '.'); dot >= 0 {
		base = base[:dot]
	}

	_, ok := reservedDeviceNames[strings.TrimSpace(base)]
	return ok
}

// shortenSegment cuts s to maxLen bytes keeping a hash of the full value.
func shortenSegment(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	tail := fmt.Sprintf("~%08x", h.Sum32())

	cut := maxLen - len(tail)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + tail
}

// nameSet hands out case-insensitively unique paths within one extraction.
type nameSet struct {
	used map[string]struct{}
}

// newNameSet returns an empty set.
func newNameSet() *nameSet {
	return &nameSet{used: make(map[string]struct{})}
}

// claim returns p, or p with a "~N" suffix before the extension when p is taken.
func (s *nameSet) claim(p string) string {
	if _, taken := s.used[strings.ToLower(p)]; !taken {
		s.used[strings.ToLower(p)] = struct{}{}
		return p
	}

	dir, name := path.Split(p)
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate := dir + stem + "~" + strconv.Itoa(n) + ext
		if _, taken := s.used[strings.ToLower(candidate)]; !taken {
			s.used[strings.ToLower(candidate)] = struct{}{}
			return candidate
		}
	}
}
