package krpc

import (
	"github.com/pkg/errors"

	"github.com/fusetim/bitcrawler/bencode"
)

// PingResult carries the "r" fields of a ping response.
type PingResult[T any] struct {
	ID T
}

// FindNodeResult carries the "r" fields of a find_node response.
type FindNodeResult[T any] struct {
	ID    T
	Nodes []NodeInfo[T]
}

// GetPeersResult carries the "r" fields of a get_peers response. Token
// is optional; exactly one of Values/Nodes is expected to be present in
// practice, though both may be set (see Classify's precedence).
type GetPeersResult[T any] struct {
	ID        T
	Token     []byte
	HasToken  bool
	Values    []PeerInfo
	HasValues bool
	Nodes     []NodeInfo[T]
	HasNodes  bool
}

// AnnouncePeerResult carries the "r" fields of an announce_peer
// response: just the responder's ID, same shape as a ping response.
type AnnouncePeerResult[T any] struct {
	ID T
}

// ResponseKind discriminates which method a Response answers.
type ResponseKind int

const (
	ResponsePing ResponseKind = iota
	ResponseFindNode
	ResponseGetPeers
	ResponseAnnouncePeer
)

// Response is a KRPC response message: a transaction ID plus exactly one
// populated method-specific result, selected by Kind.
type Response[T any] struct {
	TransactionID []byte
	Kind          ResponseKind
	Ping          *PingResult[T]
	FindNode      *FindNodeResult[T]
	GetPeers      *GetPeersResult[T]
	AnnouncePeer  *AnnouncePeerResult[T]
}

func (r Response[T]) toArguments(idc IDCodec[T]) []bencode.DictEntry {
	switch r.Kind {
	case ResponsePing:
		return []bencode.DictEntry{{Key: []byte("id"), Value: bencode.String(idc.Encode(r.Ping.ID))}}
	case ResponseAnnouncePeer:
		return []bencode.DictEntry{{Key: []byte("id"), Value: bencode.String(idc.Encode(r.AnnouncePeer.ID))}}
	case ResponseFindNode:
		return []bencode.DictEntry{
			{Key: []byte("id"), Value: bencode.String(idc.Encode(r.FindNode.ID))},
			{Key: []byte("nodes"), Value: bencode.String(WriteCompactNodeInfoList(r.FindNode.Nodes, idc))},
		}
	case ResponseGetPeers:
		entries := []bencode.DictEntry{
			{Key: []byte("id"), Value: bencode.String(idc.Encode(r.GetPeers.ID))},
		}
		if r.GetPeers.HasToken {
			entries = append(entries, bencode.DictEntry{Key: []byte("token"), Value: bencode.String(r.GetPeers.Token)})
		}
		if r.GetPeers.HasValues {
			values := make([]bencode.Value, len(r.GetPeers.Values))
			for i, p := range r.GetPeers.Values {
				values[i] = bencode.String(WritePeerInfo(p))
			}
			entries = append(entries, bencode.DictEntry{Key: []byte("values"), Value: bencode.List(values)})
		}
		if r.GetPeers.HasNodes {
			entries = append(entries, bencode.DictEntry{Key: []byte("nodes"), Value: bencode.String(WriteCompactNodeInfoList(r.GetPeers.Nodes, idc))})
		}
		return entries
	}
	return nil
}

// ToBencoded builds the top-level {"t","y","r"} dict.
func (r Response[T]) ToBencoded(idc IDCodec[T]) bencode.Value {
	return bencode.Dict([]bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.String(r.TransactionID)},
		{Key: []byte("y"), Value: bencode.String([]byte("r"))},
		{Key: []byte("r"), Value: bencode.Dict(r.toArguments(idc))},
	})
}

func responseEnvelope(v bencode.Value) (transactionID []byte, result bencode.Value, err error) {
	if v.Kind != bencode.KindDict {
		return nil, bencode.Value{}, errors.New("Invalid response format")
	}
	messageType, err := lookupString(v, "y", "Missing 'y' field")
	if err != nil {
		return nil, bencode.Value{}, err
	}
	if string(messageType) != "r" {
		return nil, bencode.Value{}, errors.New("Invalid message type")
	}
	transactionID, err = lookupString(v, "t", "Missing 't' field")
	if err != nil {
		return nil, bencode.Value{}, err
	}
	resultValue, ok := bencode.Lookup(v, "r")
	if !ok || resultValue.Kind != bencode.KindDict {
		return nil, bencode.Value{}, errors.New("Missing 'r' field")
	}
	return transactionID, resultValue, nil
}

// TryPingResponseFromBencoded parses a ping response.
func TryPingResponseFromBencoded[T any](v bencode.Value, idc IDCodec[T]) (Response[T], error) {
	transactionID, result, err := responseEnvelope(v)
	if err != nil {
		return Response[T]{}, err
	}
	id, err := lookupID(result, "id", idc)
	if err != nil {
		return Response[T]{}, err
	}
	return Response[T]{TransactionID: transactionID, Kind: ResponsePing, Ping: &PingResult[T]{ID: id}}, nil
}

// TryAnnouncePeerResponseFromBencoded parses an announce_peer response.
func TryAnnouncePeerResponseFromBencoded[T any](v bencode.Value, idc IDCodec[T]) (Response[T], error) {
	transactionID, result, err := responseEnvelope(v)
	if err != nil {
		return Response[T]{}, err
	}
	id, err := lookupID(result, "id", idc)
	if err != nil {
		return Response[T]{}, err
	}
	return Response[T]{TransactionID: transactionID, Kind: ResponseAnnouncePeer, AnnouncePeer: &AnnouncePeerResult[T]{ID: id}}, nil
}

// TryFindNodeResponseFromBencoded parses a find_node response.
func TryFindNodeResponseFromBencoded[T any](v bencode.Value, idc IDCodec[T]) (Response[T], error) {
	transactionID, result, err := responseEnvelope(v)
	if err != nil {
		return Response[T]{}, err
	}
	id, err := lookupID(result, "id", idc)
	if err != nil {
		return Response[T]{}, err
	}
	nodesRaw, err := lookupString(result, "nodes", "Missing 'nodes' field")
	if err != nil {
		return Response[T]{}, err
	}
	nodes, err := ReadCompactNodeInfoList(nodesRaw, idc)
	if err != nil {
		return Response[T]{}, errors.New("Invalid node info")
	}
	return Response[T]{TransactionID: transactionID, Kind: ResponseFindNode, FindNode: &FindNodeResult[T]{ID: id, Nodes: nodes}}, nil
}

// TryGetPeersResponseFromBencoded parses a get_peers response. Exactly
// one of nodes/values is expected on the wire but either, both, or
// neither (besides id/token) may be present; the caller gets HasNodes /
// HasValues to tell which were.
func TryGetPeersResponseFromBencoded[T any](v bencode.Value, idc IDCodec[T]) (Response[T], error) {
	transactionID, result, err := responseEnvelope(v)
	if err != nil {
		return Response[T]{}, err
	}
	id, err := lookupID(result, "id", idc)
	if err != nil {
		return Response[T]{}, err
	}

	out := GetPeersResult[T]{ID: id}

	if tokenValue, ok := bencode.Lookup(result, "token"); ok {
		if tokenValue.Kind != bencode.KindString {
			return Response[T]{}, errors.New("Invalid 'token' field")
		}
		out.Token, out.HasToken = tokenValue.Str, true
	}

	if valuesValue, ok := bencode.Lookup(result, "values"); ok {
		if valuesValue.Kind != bencode.KindList {
			return Response[T]{}, errors.New("Invalid 'values' field")
		}
		peers := make([]PeerInfo, 0, len(valuesValue.List))
		for _, item := range valuesValue.List {
			if item.Kind != bencode.KindString {
				return Response[T]{}, errors.New("Invalid 'values' field")
			}
			peer, err := ReadPeerInfo(item.Str)
			if err != nil {
				return Response[T]{}, errors.New("Invalid peer info")
			}
			peers = append(peers, peer)
		}
		out.Values, out.HasValues = peers, true
	}

	if nodesValue, ok := bencode.Lookup(result, "nodes"); ok {
		if nodesValue.Kind != bencode.KindString {
			return Response[T]{}, errors.New("Invalid 'nodes' field")
		}
		nodes, err := ReadCompactNodeInfoList(nodesValue.Str, idc)
		if err != nil {
			return Response[T]{}, errors.New("Invalid node info")
		}
		out.Nodes, out.HasNodes = nodes, true
	}

	return Response[T]{TransactionID: transactionID, Kind: ResponseGetPeers, GetPeers: &out}, nil
}
