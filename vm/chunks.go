package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// String chunks: char / word / item / line
// ---------------------------------------------------------------------------
//
// Chunk expressions address pieces of a string with 1-based ranges. Items
// split on the movie's itemDelimiter, words on whitespace, lines on the
// break style the string itself uses. Only read access is supported here;
// chunk mutation belongs to field member editing, which the runtime does
// not host.

type chunkKind int

const (
	chunkChar chunkKind = iota
	chunkWord
	chunkItem
	chunkLine
)

// chunkKindFromName maps a chunk property name to its kind. The bool is
// false for names that are not chunk properties.
func chunkKindFromName(name string) (chunkKind, bool) {
	switch strings.ToLower(name) {
	case "char", "chars":
		return chunkChar, true
	case "word", "words":
		return chunkWord, true
	case "item", "items":
		return chunkItem, true
	case "line", "lines":
		return chunkLine, true
	default:
		return 0, false
	}
}

// stringLines splits on the break style present in the string: CRLF when
// present, else LF, else CR.
func stringLines(s string) []string {
	var sep string
	switch {
	case strings.Contains(s, "\r\n"):
		sep = "\r\n"
	case strings.Contains(s, "\n"):
		sep = "\n"
	default:
		sep = "\r"
	}
	return strings.Split(s, sep)
}

// stringItems splits on the item delimiter. A CR or LF delimiter means
// items are lines.
func stringItems(s string, delim byte) []string {
	if delim == '\r' || delim == '\n' {
		return stringLines(s)
	}
	return strings.Split(s, string(delim))
}

func chunkList(s string, kind chunkKind, delim byte) []string {
	switch kind {
	case chunkItem:
		return stringItems(s, delim)
	case chunkWord:
		return strings.Fields(s)
	case chunkLine:
		return stringLines(s)
	default:
		parts := make([]string, 0, len(s))
		for i := 0; i < len(s); i++ {
			parts = append(parts, s[i:i+1])
		}
		return parts
	}
}

// chunkCount counts chunks of the given kind.
func chunkCount(s string, kind chunkKind, delim byte) int {
	switch kind {
	case chunkChar:
		return len(s)
	case chunkWord:
		return len(strings.Fields(s))
	case chunkItem:
		return len(stringItems(s, delim))
	default:
		return len(stringLines(s))
	}
}

// chunkRange converts a 1-based script range to half-open host indexes.
// end 0 selects the single chunk at start; a negative end or one past the
// count selects through the last chunk.
func chunkRange(start, end, max int) (int, int) {
	lo := start - 1
	if lo < 0 {
		lo = 0
	}
	var hi int
	switch {
	case end == 0:
		hi = lo + 1
	case end < 0 || end > max:
		hi = max
	default:
		hi = end
	}
	if lo > max {
		lo = max
	}
	if hi < lo {
		hi = lo
	} else if hi > max {
		hi = max
	}
	return lo, hi
}

// resolveChunk extracts the chunk range [start, end] of the given kind as
// a plain string. The empty string always resolves to itself.
func resolveChunk(s string, kind chunkKind, start, end int, delim byte) string {
	if len(s) == 0 {
		return ""
	}
	if kind == chunkChar {
		lo, hi := chunkRange(start, end, len(s))
		return s[lo:hi]
	}
	list := chunkList(s, kind, delim)
	lo, hi := chunkRange(start, end, len(list))
	if len(list) == 0 {
		return ""
	}
	switch kind {
	case chunkItem:
		return strings.Join(list[lo:hi], string(delim))
	case chunkWord:
		return strings.Join(list[lo:hi], " ")
	default:
		return strings.Join(list[lo:hi], "\r\n")
	}
}

// lastChunk returns the final chunk of the given kind, or "" when there
// is none.
func lastChunk(s string, kind chunkKind, delim byte) string {
	list := chunkList(s, kind, delim)
	if len(list) == 0 {
		return ""
	}
	return list[len(list)-1]
}
