package krpc

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// NodeInfo is a generic compact node info: a node ID, an IPv4 address
// and a port, concatenated with no separator as `<id><ip><port>`.
// Multiple entries are packed back to back in a single bencode
// ByteString (see ReadCompactNodeInfoList).
type NodeInfo[T any] struct {
	ID   T
	IP   [4]byte
	Port uint16
}

const compactNodeInfoV4AddrLen = 6 // 4-byte IPv4 + 2-byte port

// ReadCompactNodeInfo reads one fixed-length compact node info from the
// front of buf using idc to decode the ID portion. Returns the number of
// bytes read. Fewer bytes than the fixed length is an error; there is no
// trailing validation beyond length.
func ReadCompactNodeInfo[T any](buf []byte, idc IDCodec[T]) (int, NodeInfo[T], error) {
	total := idc.Len + compactNodeInfoV4AddrLen
	if len(buf) < total {
		return 0, NodeInfo[T]{}, errors.New("invalid length for compact node info")
	}
	id, err := idc.Decode(buf[:idc.Len])
	if err != nil {
		return 0, NodeInfo[T]{}, errors.Wrap(err, "invalid node id in compact node info")
	}
	var ip [4]byte
	copy(ip[:], buf[idc.Len:idc.Len+4])
	port := binary.BigEndian.Uint16(buf[idc.Len+4 : idc.Len+6])
	return total, NodeInfo[T]{ID: id, IP: ip, Port: port}, nil
}

// WriteCompactNodeInfo is the inverse of ReadCompactNodeInfo.
func WriteCompactNodeInfo[T any](n NodeInfo[T], idc IDCodec[T]) []byte {
	buf := make([]byte, 0, idc.Len+compactNodeInfoV4AddrLen)
	buf = append(buf, idc.Encode(n.ID)...)
	buf = append(buf, n.IP[:]...)
	buf = binary.BigEndian.AppendUint16(buf, n.Port)
	return buf
}

// ReadCompactNodeInfoList decodes every fixed-length compact node info
// concatenated in buf, in order.
func ReadCompactNodeInfoList[T any](buf []byte, idc IDCodec[T]) ([]NodeInfo[T], error) {
	elemLen := idc.Len + compactNodeInfoV4AddrLen
	if len(buf)%elemLen != 0 {
		return nil, errors.New("invalid length for compact node info list")
	}
	nodes := make([]NodeInfo[T], 0, len(buf)/elemLen)
	for offset := 0; offset < len(buf); {
		n, node, err := ReadCompactNodeInfo(buf[offset:], idc)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
		offset += n
	}
	return nodes, nil
}

// WriteCompactNodeInfoList concatenates the compact encoding of every
// node with no separator, matching the "nodes" field's wire layout.
func WriteCompactNodeInfoList[T any](nodes []NodeInfo[T], idc IDCodec[T]) []byte {
	buf := make([]byte, 0, len(nodes)*(idc.Len+compactNodeInfoV4AddrLen))
	for _, n := range nodes {
		buf = append(buf, WriteCompactNodeInfo(n, idc)...)
	}
	return buf
}

// NodeInfo6 is the IPv6 counterpart of NodeInfo: `<id><ip16><port>`.
type NodeInfo6[T any] struct {
	ID   T
	IP   [16]byte
	Port uint16
}

const compactNodeInfoV6AddrLen = 18 // 16-byte IPv6 + 2-byte port

// ReadCompactNodeInfo6 is ReadCompactNodeInfo for the 38-byte IPv6 layout.
func ReadCompactNodeInfo6[T any](buf []byte, idc IDCodec[T]) (int, NodeInfo6[T], error) {
	total := idc.Len + compactNodeInfoV6AddrLen
	if len(buf) < total {
		return 0, NodeInfo6[T]{}, errors.New("invalid length for compact node info")
	}
	id, err := idc.Decode(buf[:idc.Len])
	if err != nil {
		return 0, NodeInfo6[T]{}, errors.Wrap(err, "invalid node id in compact node info")
	}
	var ip [16]byte
	copy(ip[:], buf[idc.Len:idc.Len+16])
	port := binary.BigEndian.Uint16(buf[idc.Len+16 : idc.Len+18])
	return total, NodeInfo6[T]{ID: id, IP: ip, Port: port}, nil
}

// WriteCompactNodeInfo6 is the inverse of ReadCompactNodeInfo6.
func WriteCompactNodeInfo6[T any](n NodeInfo6[T], idc IDCodec[T]) []byte {
	buf := make([]byte, 0, idc.Len+compactNodeInfoV6AddrLen)
	buf = append(buf, idc.Encode(n.ID)...)
	buf = append(buf, n.IP[:]...)
	buf = binary.BigEndian.AppendUint16(buf, n.Port)
	return buf
}

// PeerInfo is a compact (address, port) pair with no node ID, used in
// get_peers responses. Unlike node info, peers are never concatenated:
// each is its own bencode ByteString inside the "values" list.
type PeerInfo struct {
	IP   [4]byte
	Port uint16
}

// ReadPeerInfo decodes a single 6-byte compact peer. buf must be exactly
// 6 bytes; the caller is expected to have already split the "values"
// list into its per-peer ByteString elements.
func ReadPeerInfo(buf []byte) (PeerInfo, error) {
	if len(buf) != 6 {
		return PeerInfo{}, errors.New("invalid length for compact peer info")
	}
	var ip [4]byte
	copy(ip[:], buf[:4])
	return PeerInfo{IP: ip, Port: binary.BigEndian.Uint16(buf[4:6])}, nil
}

// WritePeerInfo is the inverse of ReadPeerInfo.
func WritePeerInfo(p PeerInfo) []byte {
	buf := make([]byte, 0, 6)
	buf = append(buf, p.IP[:]...)
	return binary.BigEndian.AppendUint16(buf, p.Port)
}

// PeerInfo6 is the IPv6 counterpart of PeerInfo: 18 bytes.
type PeerInfo6 struct {
	IP   [16]byte
	Port uint16
}

// ReadPeerInfo6 decodes a single 18-byte compact IPv6 peer.
func ReadPeerInfo6(buf []byte) (PeerInfo6, error) {
	if len(buf) != 18 {
		return PeerInfo6{}, errors.New("invalid length for compact peer info")
	}
	var ip [16]byte
	copy(ip[:], buf[:16])
	return PeerInfo6{IP: ip, Port: binary.BigEndian.Uint16(buf[16:18])}, nil
}

// WritePeerInfo6 is the inverse of ReadPeerInfo6.
func WritePeerInfo6(p PeerInfo6) []byte {
	buf := make([]byte, 0, 18)
	buf = append(buf, p.IP[:]...)
	return binary.BigEndian.AppendUint16(buf, p.Port)
}
