// Package kademlia implements the XOR-metric routing table shared by a
// Kademlia-style DHT: an ordered list of buckets, each holding nodes
// sorted by ID, with bucket splitting on overflow. A full bucket whose
// range contains the local ID still accepts a new node and is then split
// (see splitBucket), so such a bucket can hold more than bucket_size nodes.
//
// The table is generic over the node-ID type (a self-referential
// capability bundle mirroring a Rust trait bound) and the address type a
// driver uses to contact a node, so the same table serves both the real
// 20-byte BitTorrent ID (see package krpc) and a small mock ID in tests.
//
// Deliberately NOT a classical binary trie: find_bucket scans the bucket
// list and picks the one with the greatest common-prefix match, and
// CmpDistance is a plain byte-wise total order rather than an
// XOR-distance ranking. Both choices reproduce behavior pinned by the
// system this table was modeled on rather than a "cleaner" redesign.
package kademlia

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ID is the capability bundle a node identifier must satisfy: equality,
// a stable total order used for sorted bucket storage and range checks,
// and a common-prefix index used to choose a bucket. T is the concrete
// ID type itself (Go's stand-in for a self-referential trait bound).
type ID[T any] interface {
	// Equal reports whether two IDs are identical.
	Equal(other T) bool
	// CmpDistance returns -1, 0 or 1 as the receiver orders before, the
	// same as, or after other. This is a byte-wise total order, not an
	// XOR-distance ranking relative to a third point.
	CmpDistance(other T) int
	// BucketIndex returns the number of leading bytes shared with
	// other; equal IDs yield the maximal (ID-length) index.
	BucketIndex(other T) int
}

// Node is a routing-table entry: an ID plus the addresses known for it.
type Node[T ID[T], A any] struct {
	ID        T
	Addresses []A
}

// Bucket holds nodes sorted ascending by ID, with no duplicates.
type Bucket[T ID[T], A any] struct {
	nodes []Node[T, A]
}

// RoutingTable is an ordered list of Buckets local to one node.
type RoutingTable[T ID[T], A any] struct {
	buckets    []*Bucket[T, A]
	localID    T
	bucketSize int
}

// DefaultBucketSize is k, the number of nodes a bucket holds before a
// further insert into it is rejected or triggers a split.
const DefaultBucketSize = 20

// NewRoutingTable creates an empty routing table owned by localID, with
// the default bucket size.
func NewRoutingTable[T ID[T], A any](localID T) *RoutingTable[T, A] {
	return &RoutingTable[T, A]{
		buckets:    nil,
		localID:    localID,
		bucketSize: DefaultBucketSize,
	}
}

// NewRoutingTableWithBucketSize is NewRoutingTable with an explicit k.
func NewRoutingTableWithBucketSize[T ID[T], A any](localID T, bucketSize int) *RoutingTable[T, A] {
	return &RoutingTable[T, A]{
		buckets:    nil,
		localID:    localID,
		bucketSize: bucketSize,
	}
}

// First returns the lowest-ID node in the bucket, or false if empty.
func (b *Bucket[T, A]) First() (Node[T, A], bool) {
	if len(b.nodes) == 0 {
		return Node[T, A]{}, false
	}
	return b.nodes[0], true
}

// Last returns the highest-ID node in the bucket, or false if empty.
func (b *Bucket[T, A]) Last() (Node[T, A], bool) {
	if len(b.nodes) == 0 {
		return Node[T, A]{}, false
	}
	return b.nodes[len(b.nodes)-1], true
}

// Len returns the number of nodes in the bucket.
func (b *Bucket[T, A]) Len() int {
	return len(b.nodes)
}

// Nodes returns the bucket's nodes in sorted order. The returned slice
// must not be mutated by the caller.
func (b *Bucket[T, A]) Nodes() []Node[T, A] {
	return b.nodes
}

// find returns the index of id within the bucket (ok=true) or the
// sorted-insertion point (ok=false).
func (b *Bucket[T, A]) find(id T) (index int, ok bool) {
	low, high := 0, len(b.nodes)
	for low < high {
		mid := (low + high) / 2
		switch b.nodes[mid].ID.CmpDistance(id) {
		case 0:
			return mid, true
		case -1:
			low = mid + 1
		default:
			high = mid
		}
	}
	return low, false
}

// Contains reports whether id is present in the bucket.
func (b *Bucket[T, A]) Contains(id T) bool {
	_, ok := b.find(id)
	return ok
}

// Insert adds node in sorted position. Returns false without modifying
// the bucket if a node with the same ID is already present.
func (b *Bucket[T, A]) Insert(node Node[T, A]) bool {
	index, ok := b.find(node.ID)
	if ok {
		return false
	}
	b.nodes = append(b.nodes, Node[T, A]{})
	copy(b.nodes[index+1:], b.nodes[index:])
	b.nodes[index] = node
	return true
}

// Remove deletes the node with the given id, returning it if found.
func (b *Bucket[T, A]) Remove(id T) (Node[T, A], bool) {
	index, ok := b.find(id)
	if !ok {
		return Node[T, A]{}, false
	}
	node := b.nodes[index]
	b.nodes = append(b.nodes[:index], b.nodes[index+1:]...)
	return node, true
}

// RangeContains reports whether id's distance falls between the
// bucket's first and last member, inclusive. Combined with CmpDistance
// being a plain byte-wise order, this is a simple byte-wise range check
// rather than a bit-index probe.
func (b *Bucket[T, A]) RangeContains(id T) bool {
	first, ok := b.First()
	if !ok {
		panic("kademlia: RangeContains on empty bucket")
	}
	last, _ := b.Last()
	return id.CmpDistance(first.ID) != -1 && id.CmpDistance(last.ID) != 1
}

// findBucketIndex locates the bucket whose members maximize common
// prefix length with id: among all non-empty buckets it picks the one
// whose first and last members have the greatest minimum BucketIndex
// relative to id, with ties resolved to the later-indexed bucket.
func (t *RoutingTable[T, A]) findBucketIndex(id T) (int, bool) {
	if len(t.buckets) == 0 {
		return 0, false
	}

	bucketIdx := 0
	bestLength := -1
	for i, bucket := range t.buckets {
		if bucket.Len() == 0 {
			continue
		}
		first, _ := bucket.First()
		last, _ := bucket.Last()
		lIndex := id.BucketIndex(first.ID)
		rIndex := id.BucketIndex(last.ID)
		bIndex := lIndex
		if rIndex < bIndex {
			bIndex = rIndex
		}
		if bIndex >= bestLength {
			bucketIdx = i
			bestLength = bIndex
		}
	}
	return bucketIdx, true
}

// FindBucket returns the bucket that would hold id, or false if the
// table has no buckets yet.
func (t *RoutingTable[T, A]) FindBucket(id T) (*Bucket[T, A], bool) {
	index, ok := t.findBucketIndex(id)
	if !ok {
		return nil, false
	}
	return t.buckets[index], true
}

// Insert adds node to the routing table. If the target bucket is full
// and its range contains the local ID, the node is inserted anyway and
// the bucket is split into two; otherwise a full bucket rejects the
// insertion. Returns whether the node ended up in the table.
func (t *RoutingTable[T, A]) Insert(node Node[T, A]) bool {
	index, ok := t.findBucketIndex(node.ID)
	if !ok {
		t.buckets = append(t.buckets, &Bucket[T, A]{nodes: []Node[T, A]{node}})
		return true
	}

	bucket := t.buckets[index]
	if bucket.Len() < t.bucketSize {
		return bucket.Insert(node)
	}

	if !bucket.RangeContains(t.localID) {
		return false
	}

	if !bucket.Insert(node) {
		return false
	}
	t.splitBucket(index)
	return true
}

// splitBucket partitions the bucket at index into two buckets using
// bucket_index(first, last) as the split point: nodes at or beyond that
// common-prefix length relative to the bucket's original first member
// go left, the rest go right. The original bucket is removed and both
// are appended to the end of the table, left followed by right. Every
// member of a sorted bucket shares at least splitPoint leading bytes with
// its first member, so all nodes go left and the right bucket is empty.
func (t *RoutingTable[T, A]) splitBucket(index int) {
	bucket := t.buckets[index]
	if bucket.Len() < t.bucketSize {
		return
	}

	first, _ := bucket.First()
	last, _ := bucket.Last()
	splitPoint := first.ID.BucketIndex(last.ID)

	left := &Bucket[T, A]{}
	right := &Bucket[T, A]{}
	for _, node := range bucket.nodes {
		if first.ID.BucketIndex(node.ID) >= splitPoint {
			left.Insert(node)
		} else {
			right.Insert(node)
		}
	}

	t.buckets = append(t.buckets[:index], t.buckets[index+1:]...)
	t.buckets = append(t.buckets, left, right)
}

// Remove deletes the node with the given id from the table, removing
// its bucket too if that leaves it empty. Returns the removed node.
func (t *RoutingTable[T, A]) Remove(id T) (Node[T, A], bool) {
	index, ok := t.findBucketIndex(id)
	if !ok {
		return Node[T, A]{}, false
	}
	bucket := t.buckets[index]
	node, found := bucket.Remove(id)
	if !found {
		return Node[T, A]{}, false
	}
	if bucket.Len() == 0 {
		t.buckets = append(t.buckets[:index], t.buckets[index+1:]...)
	}
	return node, true
}

// Buckets returns the table's buckets in table order. The returned
// slice must not be mutated by the caller.
func (t *RoutingTable[T, A]) Buckets() []*Bucket[T, A] {
	return t.buckets
}

// LocalID returns the ID the table was constructed with.
func (t *RoutingTable[T, A]) LocalID() T {
	return t.localID
}

// Size returns the total number of nodes across all buckets.
func (t *RoutingTable[T, A]) Size() int {
	total := 0
	for _, bucket := range t.buckets {
		total += bucket.Len()
	}
	return total
}

// AllNodes flattens every bucket's nodes into a single slice, in table
// (then bucket) order.
func (t *RoutingTable[T, A]) AllNodes() []Node[T, A] {
	return lo.FlatMap(t.buckets, func(bucket *Bucket[T, A], _ int) []Node[T, A] {
		return bucket.Nodes()
	})
}

// ErrNotFound is an error value for a missing node, for callers that
// model absence as an error; Remove and FindBucket themselves report a
// missing node with a boolean and do not return it.
var ErrNotFound = errors.New("kademlia: node not found")
