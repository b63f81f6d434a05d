package search

import (
	"strconv"
	"strings"
)

// HashMessageID folds an RFC-2822 message-ID string into a 64-bit value
// per §4.4.5: case-sensitive on the local part, case-insensitive on the
// host part. The retrieved reference sources name the original mixing
// function (camel_search_util_hash_message_id) but do not include its
// body, so this substitutes a standard deterministic 64-bit FNV-1a hash
// over the case-normalized string — documented in DESIGN.md.
func HashMessageID(id string) uint64 {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")

	local, host, hasHost := strings.Cut(id, "@")
	var normalized string
	if hasHost {
		normalized = local + "@" + strings.ToLower(host)
	} else {
		normalized = local
	}

	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	var h uint64 = offset64
	for i := 0; i < len(normalized); i++ {
		h ^= uint64(normalized[i])
		h *= prime64
	}
	return h
}

// SplitHash returns the two 32-bit halves of a hashed message-id, as
// stored in the `part` column (§3.2, §4.4.5).
func SplitHash(h uint64) (hi, lo uint32) {
	return uint32(h >> 32), uint32(h)
}

// JoinHash recombines the halves produced by SplitHash.
func JoinHash(hi, lo uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

// EncodePart serializes a message's own hashed id followed by the hashed
// ids of its references, in order, as the space-separated decimal pairs
// described in §3.2/§4.4.5: "hi lo" for the own id, then "hi lo" per
// reference.
func EncodePart(ownID uint64, refIDs []uint64) string {
	var b strings.Builder
	hi, lo := SplitHash(ownID)
	b.WriteString(strconv.FormatUint(uint64(hi), 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(lo), 10))
	for _, ref := range refIDs {
		rhi, rlo := SplitHash(ref)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(uint64(rhi), 10))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(uint64(rlo), 10))
	}
	return b.String()
}

// DecodePart parses the wire form produced by EncodePart. Malformed or
// truncated input yields as much as can be parsed, consistent with this
// library's tolerant handling of opaque driver-owned columns.
func DecodePart(s string) (ownID uint64, refIDs []uint64) {
	fields := strings.Fields(s)
	parseHiLo := func(i int) (uint64, bool) {
		if i+1 >= len(fields) {
			return 0, false
		}
		hi, err1 := strconv.ParseUint(fields[i], 10, 32)
		lo, err2 := strconv.ParseUint(fields[i+1], 10, 32)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return JoinHash(uint32(hi), uint32(lo)), true
	}
	if v, ok := parseHiLo(0); ok {
		ownID = v
	}
	for i := 2; i+1 < len(fields); i += 2 {
		v, ok := parseHiLo(i)
		if !ok {
			break
		}
		refIDs = append(refIDs, v)
	}
	return ownID, refIDs
}
