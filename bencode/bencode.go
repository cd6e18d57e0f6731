// Package bencode implements BitTorrent's bencode serialization format:
// byte strings, signed integers, lists and dictionaries, encoded as a
// length-prefixed, binary-safe wire format.
//
// Dictionaries are kept as an ordered sequence of key/value pairs rather
// than a map: the wire order of a dict must be preserved exactly on
// decode (an info-hash is computed over the original bytes), and the
// encoder re-sorts its own input before emitting rather than assuming
// the caller already sorted it.
package bencode

import (
	"math/big"

	"github.com/pkg/errors"
)

// Kind identifies which of the four bencode variants a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindList
	KindDict
)

// DictEntry is a single key/value pair inside a Dict, kept in wire order.
type DictEntry struct {
	Key   []byte
	Value Value
}

// Value is a tagged union over the four bencode variants. Only the field
// matching Kind is meaningful.
type Value struct {
	Kind Kind

	Str  []byte
	Int  *big.Int
	List []Value
	Dict []DictEntry
}

// String builds a ByteString Value.
func String(s []byte) Value {
	return Value{Kind: KindString, Str: s}
}

// Integer builds an Integer Value from an int64.
func Integer(i int64) Value {
	return Value{Kind: KindInteger, Int: big.NewInt(i)}
}

// BigInteger builds an Integer Value from an arbitrary-precision integer.
func BigInteger(i *big.Int) Value {
	return Value{Kind: KindInteger, Int: i}
}

// List builds a List Value.
func List(items []Value) Value {
	return Value{Kind: KindList, List: items}
}

// Dict builds a Dict Value from entries in whatever order the caller
// supplies; Encode sorts keys regardless.
func Dict(entries []DictEntry) Value {
	return Value{Kind: KindDict, Dict: entries}
}

// ErrorKind classifies a decode failure per the bencode grammar.
type ErrorKind int

const (
	// InvalidString: non-digit in the length prefix, missing ':', or
	// length exceeds remaining input.
	InvalidString ErrorKind = iota
	// InvalidInteger: missing leading 'i', missing terminal 'e', empty
	// digits between them, or digits that do not parse as an integer.
	InvalidInteger
	// InvalidValue: mismatched 'e', a non-ByteString key, a value
	// appearing where a key was expected, or a truncated container.
	InvalidValue
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidString:
		return "InvalidString"
	case InvalidInteger:
		return "InvalidInteger"
	case InvalidValue:
		return "InvalidValue"
	default:
		return "Unknown"
	}
}

// DecodeError is returned by Decode; Kind discriminates the three
// grammar-level failure classes.
type DecodeError struct {
	Kind ErrorKind
}

func (e *DecodeError) Error() string {
	return "bencode: " + e.Kind.String()
}

func newDecodeError(kind ErrorKind) error {
	return errors.WithStack(&DecodeError{Kind: kind})
}

// Equal reports whether two Values are structurally identical: same
// kind, same bytes/integer, same list/dict contents in the same order.
// Dicts are compared entry-by-entry without re-sorting; use SortKeys
// first to compare up to canonicalization.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindString:
		return string(a.Str) == string(b.Str)
	case KindInteger:
		if a.Int == nil || b.Int == nil {
			return a.Int == b.Int
		}
		return a.Int.Cmp(b.Int) == 0
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(a.Dict) != len(b.Dict) {
			return false
		}
		for i := range a.Dict {
			if string(a.Dict[i].Key) != string(b.Dict[i].Key) {
				return false
			}
			if !Equal(a.Dict[i].Value, b.Dict[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// Lookup finds the first entry in a Dict Value matching key. Since dicts
// are ordered sequences rather than maps, duplicate keys resolve to the
// first occurrence.
func Lookup(v Value, key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	for _, entry := range v.Dict {
		if string(entry.Key) == key {
			return entry.Value, true
		}
	}
	return Value{}, false
}
