package bencode

import (
	"bytes"
	"math/big"
	"testing"
)

func TestDecodeString(t *testing.T) {
	n, s, err := decodeString([]byte("4:spam"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 6 || string(s) != "spam" {
		t.Errorf("expected (6, spam), got (%d, %s)", n, s)
	}
}

func TestDecodeStringMissingSeparator(t *testing.T) {
	_, _, err := decodeString([]byte("4spam"))
	assertDecodeError(t, err, InvalidString)
}

func TestDecodeStringNonDigitLength(t *testing.T) {
	_, _, err := decodeString([]byte("a:spam"))
	assertDecodeError(t, err, InvalidString)
}

func TestDecodeStringLengthExceedsRemaining(t *testing.T) {
	_, _, err := decodeString([]byte("10:spam"))
	assertDecodeError(t, err, InvalidString)
}

func TestDecodeStringEmpty(t *testing.T) {
	n, s, err := decodeString([]byte("0:"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 || len(s) != 0 {
		t.Errorf("expected (2, \"\"), got (%d, %q)", n, s)
	}
}

func TestDecodeIntegerZero(t *testing.T) {
	n, v, err := decodeInteger([]byte("i0e"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 || v.Cmp(big.NewInt(0)) != 0 {
		t.Errorf("expected (3, 0), got (%d, %s)", n, v)
	}
}

func TestDecodeIntegerNegative(t *testing.T) {
	n, v, err := decodeInteger([]byte("i-42e"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 || v.Cmp(big.NewInt(-42)) != 0 {
		t.Errorf("expected (5, -42), got (%d, %s)", n, v)
	}
}

func TestDecodeIntegerLeadingZeros(t *testing.T) {
	n, v, err := decodeInteger([]byte("i000e"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 || v.Cmp(big.NewInt(0)) != 0 {
		t.Errorf("expected (5, 0), got (%d, %s)", n, v)
	}
}

func TestDecodeIntegerMissingEnd(t *testing.T) {
	_, _, err := decodeInteger([]byte("i42"))
	assertDecodeError(t, err, InvalidInteger)
}

func TestDecodeIntegerMissingStart(t *testing.T) {
	_, _, err := decodeInteger([]byte("42e"))
	assertDecodeError(t, err, InvalidInteger)
}

// S1: bencode dict round-trip.
func TestDecodeDictRoundTrip(t *testing.T) {
	input := []byte("d3:cow3:moo4:spam4:eggse")
	n, v, err := Decode(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(input) {
		t.Errorf("expected to consume %d bytes, consumed %d", len(input), n)
	}
	if v.Kind != KindDict || len(v.Dict) != 2 {
		t.Fatalf("expected 2-entry dict, got %+v", v)
	}
	if string(v.Dict[0].Key) != "cow" || string(v.Dict[0].Value.Str) != "moo" {
		t.Errorf("unexpected first entry: %+v", v.Dict[0])
	}
	if string(v.Dict[1].Key) != "spam" || string(v.Dict[1].Value.Str) != "eggs" {
		t.Errorf("unexpected second entry: %+v", v.Dict[1])
	}

	reencoded := Encode(v)
	if !bytes.Equal(reencoded, input) {
		t.Errorf("expected round-trip to %s, got %s", input, reencoded)
	}
}

func TestDecodeListInList(t *testing.T) {
	input := []byte("lli4ei-4ei0eee")
	n, v, err := Decode(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(input) {
		t.Errorf("expected to consume %d bytes, consumed %d", len(input), n)
	}
	if v.Kind != KindList || len(v.List) != 1 {
		t.Fatalf("expected outer list of length 1, got %+v", v)
	}
	inner := v.List[0]
	if inner.Kind != KindList || len(inner.List) != 3 {
		t.Fatalf("expected inner list of length 3, got %+v", inner)
	}
	want := []int64{4, -4, 0}
	for i, w := range want {
		if inner.List[i].Int.Cmp(big.NewInt(w)) != 0 {
			t.Errorf("expected inner.List[%d]=%d, got %s", i, w, inner.List[i].Int)
		}
	}
}

func TestDecodeTrailingBytesNotConsumed(t *testing.T) {
	input := []byte("4:spamtrailing")
	n, v, err := Decode(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 6 {
		t.Errorf("expected to consume 6 bytes, consumed %d", n)
	}
	if string(v.Str) != "spam" {
		t.Errorf("expected spam, got %s", v.Str)
	}
}

func TestDecodeInvalidValueMismatchedEnd(t *testing.T) {
	_, _, err := Decode([]byte("e"))
	assertDecodeError(t, err, InvalidValue)
}

func TestDecodeInvalidValueTruncatedContainer(t *testing.T) {
	_, _, err := Decode([]byte("d3:cow"))
	assertDecodeError(t, err, InvalidValue)
}

// S2: announce_peer canonicalization, byte for byte.
func TestEncodeAnnouncePeerCanonical(t *testing.T) {
	v := Dict([]DictEntry{
		{Key: []byte("t"), Value: String([]byte("aa"))},
		{Key: []byte("y"), Value: String([]byte("q"))},
		{Key: []byte("q"), Value: String([]byte("announce_peer"))},
		{Key: []byte("a"), Value: Dict([]DictEntry{
			{Key: []byte("id"), Value: String([]byte("abcdefghij0123456789"))},
			{Key: []byte("info_hash"), Value: String([]byte("mnopqrstuvwxyz123456"))},
			{Key: []byte("port"), Value: Integer(6881)},
			{Key: []byte("token"), Value: String([]byte("aoeusnth"))},
			{Key: []byte("implied_port"), Value: Integer(1)},
		})},
	})

	got := Encode(v)
	want := []byte("d1:ad2:id20:abcdefghij012345678912:implied_porti1e9:info_hash20:mnopqrstuvwxyz1234564:porti6881e5:token8:aoeusnthe1:q13:announce_peer1:t2:aa1:y1:qe")
	if !bytes.Equal(got, want) {
		t.Errorf("expected\n%s\ngot\n%s", want, got)
	}
}

// S3: integer edge cases.
func TestIntegerEdgeCases(t *testing.T) {
	cases := []struct {
		input string
		want  int64
	}{
		{"i0e", 0},
		{"i-42e", -42},
		{"i000e", 0},
	}
	for _, c := range cases {
		_, v, err := Decode([]byte(c.input))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.input, err)
		}
		if v.Int.Cmp(big.NewInt(c.want)) != 0 {
			t.Errorf("%s: expected %d, got %s", c.input, c.want, v.Int)
		}
	}

	if _, _, err := Decode([]byte("i42")); err == nil {
		t.Errorf("expected InvalidInteger for truncated integer")
	} else {
		assertDecodeError(t, err, InvalidInteger)
	}
}

func TestEncodeIntegerCanonicalZero(t *testing.T) {
	got := Encode(Integer(0))
	if !bytes.Equal(got, []byte("i0e")) {
		t.Errorf("expected i0e, got %s", got)
	}
}

func TestSortKeysIdempotent(t *testing.T) {
	v := Dict([]DictEntry{
		{Key: []byte("b"), Value: Integer(1)},
		{Key: []byte("a"), Value: Dict([]DictEntry{
			{Key: []byte("z"), Value: Integer(2)},
			{Key: []byte("y"), Value: Integer(3)},
		})},
	})

	once := SortKeys(v)
	twice := SortKeys(once)
	if !Equal(once, twice) {
		t.Errorf("SortKeys not idempotent:\n%+v\n%+v", once, twice)
	}
	if string(once.Dict[0].Key) != "a" || string(once.Dict[1].Key) != "b" {
		t.Errorf("expected top-level keys sorted a,b, got %s,%s", once.Dict[0].Key, once.Dict[1].Key)
	}
	inner := once.Dict[0].Value
	if string(inner.Dict[0].Key) != "y" || string(inner.Dict[1].Key) != "z" {
		t.Errorf("expected nested keys sorted y,z, got %s,%s", inner.Dict[0].Key, inner.Dict[1].Key)
	}
}

func TestDecodeEncodeRoundTripAfterSortKeys(t *testing.T) {
	input := []byte("d4:spam4:eggs3:cow3:mooe")
	_, v, err := Decode(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sorted := SortKeys(v)
	reencoded := Encode(sorted)
	want := []byte("d3:cow3:moo4:spam4:eggse")
	if !bytes.Equal(reencoded, want) {
		t.Errorf("expected %s, got %s", want, reencoded)
	}

	n, redecoded, err := Decode(reencoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(reencoded) {
		t.Errorf("expected to consume all %d bytes, consumed %d", len(reencoded), n)
	}
	if !Equal(redecoded, sorted) {
		t.Errorf("expected re-decoded value to equal sorted value")
	}
}

func assertDecodeError(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %s, got nil", kind)
	}
	var de *DecodeError
	for unwrapped := err; unwrapped != nil; {
		if e, ok := unwrapped.(*DecodeError); ok {
			de = e
			break
		}
		type causer interface{ Cause() error }
		c, ok := unwrapped.(causer)
		if !ok {
			break
		}
		unwrapped = c.Cause()
	}
	if de == nil {
		t.Fatalf("expected *DecodeError, got %T: %v", err, err)
	}
	if de.Kind != kind {
		t.Errorf("expected kind %s, got %s", kind, de.Kind)
	}
}
