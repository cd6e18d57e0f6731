package krpc

import (
	"bytes"
	"encoding/hex"

	"github.com/pkg/errors"
)

// NodeID is the 20-byte BitTorrent Mainline DHT node identifier. It
// satisfies kademlia.ID[NodeID]: CmpDistance is a plain byte-wise total
// order (not XOR distance to a third point) and BucketIndex counts
// leading identical bytes; both pinned choices, not "improved" ones.
type NodeID [20]byte

// Equal reports byte-for-byte equality.
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// CmpDistance returns -1, 0 or 1 per lexicographic byte order.
func (id NodeID) CmpDistance(other NodeID) int {
	return bytes.Compare(id[:], other[:])
}

// BucketIndex returns the number of leading bytes shared with other; an
// ID compared with itself yields the maximal index (20).
func (id NodeID) BucketIndex(other NodeID) int {
	for i := range id {
		if id[i] != other[i] {
			return i
		}
	}
	return len(id)
}

// Distance returns the XOR distance between two IDs, used by a driver to
// rank nodes by true Kademlia closeness to a target. This is distinct
// from CmpDistance, which is a stable byte-wise order used internally by
// the routing table, not a distance metric.
func (id NodeID) Distance(other NodeID) NodeID {
	var out NodeID
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// String renders the ID as lowercase hex.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// NodeIDFromBytes converts a bencode ByteString payload into a NodeID.
// The input must be exactly 20 bytes.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != len(id) {
		return NodeID{}, errors.New("Invalid NodeId")
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the ID's raw 20 bytes.
func (id NodeID) Bytes() []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

// IDCodec lets the KRPC message layer (de)serialize a generic ID type T
// to and from its raw byte form, so Query/Response can be parameterized
// over test fixtures (e.g. an 8-byte mock ID) as well as the production
// 20-byte NodeID, mirroring the source's NodeId trait bound.
type IDCodec[T any] struct {
	Len    int
	Encode func(T) []byte
	Decode func([]byte) (T, error)
}

// NodeIDCodec is the IDCodec for the production 20-byte NodeID.
var NodeIDCodec = IDCodec[NodeID]{
	Len:    20,
	Encode: NodeID.Bytes,
	Decode: NodeIDFromBytes,
}
