package krpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusetim/bitcrawler/bencode"
)

// mockID is an 8-byte identifier used only by this package's tests, kept
// independent of kademlia's own mockID so krpc's test suite has no
// dependency on the routing table package.
type mockID [8]byte

func mockIDFromBytes(b []byte) (mockID, error) {
	var id mockID
	if len(b) != len(id) {
		return mockID{}, errors.New("Invalid NodeId")
	}
	copy(id[:], b)
	return id, nil
}

func (id mockID) Bytes() []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

var mockCodec = IDCodec[mockID]{Len: 8, Encode: mockID.Bytes, Decode: mockIDFromBytes}

func mustDecode(t *testing.T, raw string) bencode.Value {
	t.Helper()
	n, v, err := bencode.Decode([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	return v
}

// S4: ping response parse.
func TestPingResponseParse(t *testing.T) {
	v := mustDecode(t, "d1:rd2:id8:12345678e1:t2:aa1:y1:re")

	resp, err := TryPingResponseFromBencoded(v, mockCodec)
	require.NoError(t, err)

	assert.Equal(t, []byte("aa"), resp.TransactionID)
	assert.Equal(t, ResponsePing, resp.Kind)
	assert.Equal(t, mockID([8]byte{'1', '2', '3', '4', '5', '6', '7', '8'}), resp.Ping.ID)
}

// S5: get_peers response carrying both nodes and values.
func TestGetPeersResponseWithNodesAndValues(t *testing.T) {
	id := mockID{'r', 'e', 's', 'p', 'o', 'n', 'd', '1'}
	node1ID := mockID{'n', 'o', 'd', 'e', '0', '0', '0', '1'}
	node2ID := mockID{'n', 'o', 'd', 'e', '0', '0', '0', '2'}

	nodesRaw := append(append([]byte{}, node1ID[:]...), 1, 2, 3, 4, 0x1A, 0xE1)
	nodesRaw = append(nodesRaw, node2ID[:]...)
	nodesRaw = append(nodesRaw, 5, 6, 7, 8, 0x1A, 0xE2)

	peer1 := []byte{9, 9, 9, 9, 0x1F, 0x90}
	peer2 := []byte{8, 8, 8, 8, 0x1F, 0x91}

	resultDict := bencode.Dict([]bencode.DictEntry{
		{Key: []byte("id"), Value: bencode.String(id.Bytes())},
		{Key: []byte("token"), Value: bencode.String([]byte{0, 1, 2, 3})},
		{Key: []byte("nodes"), Value: bencode.String(nodesRaw)},
		{Key: []byte("values"), Value: bencode.List([]bencode.Value{
			bencode.String(peer1),
			bencode.String(peer2),
		})},
	})
	v := bencode.Dict([]bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.String([]byte("aa"))},
		{Key: []byte("y"), Value: bencode.String([]byte("r"))},
		{Key: []byte("r"), Value: resultDict},
	})

	resp, err := TryGetPeersResponseFromBencoded(v, mockCodec)
	require.NoError(t, err)

	require.Equal(t, ResponseGetPeers, resp.Kind)
	result := resp.GetPeers
	assert.True(t, result.HasToken)
	assert.Equal(t, []byte{0, 1, 2, 3}, result.Token)

	assert.True(t, result.HasNodes)
	require.Len(t, result.Nodes, 2)
	assert.Equal(t, node1ID, result.Nodes[0].ID)
	assert.Equal(t, [4]byte{1, 2, 3, 4}, result.Nodes[0].IP)
	assert.Equal(t, uint16(0x1AE1), result.Nodes[0].Port)
	assert.Equal(t, node2ID, result.Nodes[1].ID)

	assert.True(t, result.HasValues)
	require.Len(t, result.Values, 2)
	assert.Equal(t, [4]byte{9, 9, 9, 9}, result.Values[0].IP)
	assert.Equal(t, uint16(0x1F90), result.Values[0].Port)
	assert.Equal(t, [4]byte{8, 8, 8, 8}, result.Values[1].IP)
}

// S7: classifier precedence.
func TestClassifyPrecedence(t *testing.T) {
	responseWith := func(entries ...bencode.DictEntry) bencode.Value {
		return bencode.Dict([]bencode.DictEntry{
			{Key: []byte("t"), Value: bencode.String([]byte("aa"))},
			{Key: []byte("y"), Value: bencode.String([]byte("r"))},
			{Key: []byte("r"), Value: bencode.Dict(entries)},
		})
	}

	valuesAndNodes := responseWith(
		bencode.DictEntry{Key: []byte("id"), Value: bencode.String([]byte{1})},
		bencode.DictEntry{Key: []byte("values"), Value: bencode.List(nil)},
		bencode.DictEntry{Key: []byte("nodes"), Value: bencode.String(nil)},
	)
	method, txID, err := Classify(valuesAndNodes)
	require.NoError(t, err)
	assert.Equal(t, MethodGetPeers, method)
	assert.Equal(t, []byte("aa"), txID)

	onlyNodes := responseWith(
		bencode.DictEntry{Key: []byte("id"), Value: bencode.String([]byte{1})},
		bencode.DictEntry{Key: []byte("nodes"), Value: bencode.String(nil)},
	)
	method, _, err = Classify(onlyNodes)
	require.NoError(t, err)
	assert.Equal(t, MethodFindNode, method)

	justID := responseWith(
		bencode.DictEntry{Key: []byte("id"), Value: bencode.String([]byte{1})},
	)
	method, _, err = Classify(justID)
	require.NoError(t, err)
	assert.Equal(t, MethodPing, method)
}

// Invariant 7: classifying the same dict twice yields the same tag.
func TestClassifyIsDeterministic(t *testing.T) {
	v := bencode.Dict([]bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.String([]byte("zz"))},
		{Key: []byte("y"), Value: bencode.String([]byte("r"))},
		{Key: []byte("r"), Value: bencode.Dict([]bencode.DictEntry{
			{Key: []byte("token"), Value: bencode.String([]byte{7})},
		})},
	})

	m1, t1, err1 := Classify(v)
	m2, t2, err2 := Classify(v)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, m1, m2)
	assert.Equal(t, t1, t2)
}

// Invariant 6: compact info codecs round-trip.
func TestCompactNodeInfoRoundTrip(t *testing.T) {
	n := NodeInfo[mockID]{ID: mockID{1, 2, 3, 4, 5, 6, 7, 8}, IP: [4]byte{10, 0, 0, 1}, Port: 6881}
	buf := WriteCompactNodeInfo(n, mockCodec)
	assert.Len(t, buf, 14)

	read, decoded, err := ReadCompactNodeInfo(buf, mockCodec)
	require.NoError(t, err)
	assert.Equal(t, 14, read)
	assert.Equal(t, n, decoded)
}

func TestCompactPeerInfoRoundTrip(t *testing.T) {
	p := PeerInfo{IP: [4]byte{192, 168, 1, 1}, Port: 443}
	buf := WritePeerInfo(p)
	assert.Len(t, buf, 6)

	decoded, err := ReadPeerInfo(buf)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestAnnouncePeerImpliedPortRoundTrip(t *testing.T) {
	args := AnnouncePeerArgs[mockID]{
		ID:             mockID{1},
		InfoHash:       mockID{2},
		Port:           6881,
		Token:          []byte("tok"),
		ImpliedPort:    true,
		HasImpliedPort: true,
	}
	query := Query[mockID]{TransactionID: []byte("aa"), Args: args}
	v := query.ToBencoded(mockCodec)

	decoded, err := QueryFromBencoded(v, mockCodec)
	require.NoError(t, err)

	got, ok := decoded.Args.(AnnouncePeerArgs[mockID])
	require.True(t, ok)
	assert.Equal(t, args, got)
}

func TestAnnouncePeerWithoutImpliedPort(t *testing.T) {
	args := AnnouncePeerArgs[mockID]{
		ID:       mockID{1},
		InfoHash: mockID{2},
		Port:     6881,
		Token:    []byte("tok"),
	}
	query := Query[mockID]{TransactionID: []byte("aa"), Args: args}
	v := query.ToBencoded(mockCodec)

	decoded, err := QueryFromBencoded(v, mockCodec)
	require.NoError(t, err)

	got, ok := decoded.Args.(AnnouncePeerArgs[mockID])
	require.True(t, ok)
	assert.False(t, got.HasImpliedPort)
}

func TestAnnouncePeerMissingFieldRejected(t *testing.T) {
	v := bencode.Dict([]bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.String([]byte("aa"))},
		{Key: []byte("y"), Value: bencode.String([]byte("q"))},
		{Key: []byte("q"), Value: bencode.String([]byte(MethodAnnouncePeer))},
		{Key: []byte("a"), Value: bencode.Dict([]bencode.DictEntry{
			{Key: []byte("id"), Value: bencode.String(mockID{1}.Bytes())},
		})},
	})
	_, err := QueryFromBencoded(v, mockCodec)
	require.Error(t, err)
	assert.Equal(t, "Missing required field(s)", err.Error())
}

func TestErrorMessageEqualityIsCodeOnly(t *testing.T) {
	a := ErrorMessage{TransactionID: []byte("aa"), Code: ErrorCodeGeneric, Message: "first"}
	b := ErrorMessage{TransactionID: []byte("bb"), Code: ErrorCodeGeneric, Message: "second"}
	c := ErrorMessage{TransactionID: []byte("aa"), Code: ErrorCodeServer, Message: "first"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestErrorMessageRoundTrip(t *testing.T) {
	e := ErrorMessage{TransactionID: []byte("aa"), Code: ErrorCodeProtocol, Message: "bad token"}
	v := e.ToBencoded()

	decoded, err := ErrorMessageFromBencoded(v)
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

func TestErrorMessageRejectsUnknownCode(t *testing.T) {
	v := bencode.Dict([]bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.String([]byte("aa"))},
		{Key: []byte("y"), Value: bencode.String([]byte("e"))},
		{Key: []byte("e"), Value: bencode.List([]bencode.Value{
			bencode.Integer(999),
			bencode.String([]byte("nonsense")),
		})},
	})
	_, err := ErrorMessageFromBencoded(v)
	require.Error(t, err)
}

func TestClosestNodesOrdersByXORDistance(t *testing.T) {
	target := NodeID{}
	near := NodeID{0, 0, 0, 1}
	mid := NodeID{0, 1}
	far := NodeID{1}

	nodes := []NodeInfo[NodeID]{
		{ID: far, IP: [4]byte{1, 1, 1, 1}, Port: 1},
		{ID: near, IP: [4]byte{2, 2, 2, 2}, Port: 2},
		{ID: mid, IP: [4]byte{3, 3, 3, 3}, Port: 3},
	}

	closest := ClosestNodes(nodes, target, 2)
	require.Len(t, closest, 2)
	assert.Equal(t, near, closest[0].ID)
	assert.Equal(t, mid, closest[1].ID)
}

func TestFindNodeQueryRoundTrip(t *testing.T) {
	args := FindNodeArgs[mockID]{ID: mockID{1}, Target: mockID{2}}
	query := Query[mockID]{TransactionID: []byte("aa"), Args: args}
	v := query.ToBencoded(mockCodec)

	decoded, err := QueryFromBencoded(v, mockCodec)
	require.NoError(t, err)
	got, ok := decoded.Args.(FindNodeArgs[mockID])
	require.True(t, ok)
	assert.Equal(t, args, got)
}
