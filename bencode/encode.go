package bencode

import (
	"sort"
	"strconv"
)

// writeString appends the bencode ByteString encoding of s to dst.
func writeString(dst []byte, s []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(s)), 10)
	dst = append(dst, ':')
	return append(dst, s...)
}

// writeInteger appends the bencode Integer encoding of n to dst.
func writeInteger(dst []byte, n Value) []byte {
	dst = append(dst, 'i')
	dst = append(dst, n.Int.String()...)
	return append(dst, 'e')
}

type encodeTokenKind int

const (
	tokenValue encodeTokenKind = iota
	tokenListStart
	tokenListEnd
	tokenDictStart
	tokenDictEntry
	tokenDictEnd
)

type encodeToken struct {
	kind  encodeTokenKind
	value Value
	key   []byte
}

// Encode serializes a Value to its canonical bencode form: dict keys are
// sorted ascending lexicographically regardless of the input order.
// Recursion is implemented with an explicit value stack, mirroring
// Decode, so deeply nested values cannot exhaust the native call stack.
func Encode(v Value) []byte {
	var out []byte

	switch v.Kind {
	case KindString:
		return writeString(out, v.Str)
	case KindInteger:
		return writeInteger(out, v)
	}

	stack := []encodeToken{{kind: tokenValue, value: v}}
	for len(stack) > 0 {
		tok := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch tok.kind {
		case tokenValue:
			switch tok.value.Kind {
			case KindString:
				out = writeString(out, tok.value.Str)
			case KindInteger:
				out = writeInteger(out, tok.value)
			case KindList:
				items := tok.value.List
				frames := make([]encodeToken, 0, len(items)+2)
				frames = append(frames, encodeToken{kind: tokenListEnd})
				for i := len(items) - 1; i >= 0; i-- {
					frames = append(frames, encodeToken{kind: tokenValue, value: items[i]})
				}
				frames = append(frames, encodeToken{kind: tokenListStart})
				stack = append(stack, frames...)
			case KindDict:
				entries := make([]DictEntry, len(tok.value.Dict))
				copy(entries, tok.value.Dict)
				sort.SliceStable(entries, func(i, j int) bool {
					return string(entries[i].Key) < string(entries[j].Key)
				})
				frames := make([]encodeToken, 0, len(entries)*2+2)
				frames = append(frames, encodeToken{kind: tokenDictEnd})
				for i := len(entries) - 1; i >= 0; i-- {
					frames = append(frames, encodeToken{kind: tokenValue, value: entries[i].Value})
					frames = append(frames, encodeToken{kind: tokenDictEntry, key: entries[i].Key})
				}
				frames = append(frames, encodeToken{kind: tokenDictStart})
				stack = append(stack, frames...)
			}

		case tokenListEnd, tokenDictEnd:
			out = append(out, 'e')

		case tokenDictEntry:
			out = writeString(out, tok.key)

		case tokenListStart:
			out = append(out, 'l')

		case tokenDictStart:
			out = append(out, 'd')
		}
	}

	return out
}

// SortKeys recursively reorders every dict's keys ascending by raw byte
// value. It is idempotent and the identity on every non-dict descendant.
func SortKeys(v Value) Value {
	switch v.Kind {
	case KindList:
		items := make([]Value, len(v.List))
		for i, item := range v.List {
			items[i] = SortKeys(item)
		}
		return List(items)
	case KindDict:
		entries := make([]DictEntry, len(v.Dict))
		for i, entry := range v.Dict {
			entries[i] = DictEntry{Key: entry.Key, Value: SortKeys(entry.Value)}
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return string(entries[i].Key) < string(entries[j].Key)
		})
		return Dict(entries)
	default:
		return v
	}
}
