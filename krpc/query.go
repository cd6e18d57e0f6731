package krpc

import (
	"github.com/pkg/errors"

	"github.com/fusetim/bitcrawler/bencode"
)

// Method names, as they appear in the bencode "q" field.
const (
	MethodPing         = "ping"
	MethodFindNode     = "find_node"
	MethodGetPeers     = "get_peers"
	MethodAnnouncePeer = "announce_peer"
)

// QueryArgs is implemented by each method's argument struct: it knows
// its own method name and how to serialize itself into an "a" dict.
type QueryArgs[T any] interface {
	method() string
	toArguments(idc IDCodec[T]) []bencode.DictEntry
}

// PingArgs carries the "a" fields of a ping query.
type PingArgs[T any] struct {
	ID T
}

// FindNodeArgs carries the "a" fields of a find_node query.
type FindNodeArgs[T any] struct {
	ID     T
	Target T
}

// GetPeersArgs carries the "a" fields of a get_peers query.
type GetPeersArgs[T any] struct {
	ID       T
	InfoHash T
}

// AnnouncePeerArgs carries the "a" fields of an announce_peer query.
// ImpliedPort is optional on the wire; HasImpliedPort reports whether it
// was present.
type AnnouncePeerArgs[T any] struct {
	ID             T
	InfoHash       T
	Port           uint16
	Token          []byte
	ImpliedPort    bool
	HasImpliedPort bool
}

func (PingArgs[T]) method() string         { return MethodPing }
func (FindNodeArgs[T]) method() string     { return MethodFindNode }
func (GetPeersArgs[T]) method() string     { return MethodGetPeers }
func (AnnouncePeerArgs[T]) method() string { return MethodAnnouncePeer }

func (a PingArgs[T]) toArguments(idc IDCodec[T]) []bencode.DictEntry {
	return []bencode.DictEntry{
		{Key: []byte("id"), Value: bencode.String(idc.Encode(a.ID))},
	}
}

func (a FindNodeArgs[T]) toArguments(idc IDCodec[T]) []bencode.DictEntry {
	return []bencode.DictEntry{
		{Key: []byte("id"), Value: bencode.String(idc.Encode(a.ID))},
		{Key: []byte("target"), Value: bencode.String(idc.Encode(a.Target))},
	}
}

func (a GetPeersArgs[T]) toArguments(idc IDCodec[T]) []bencode.DictEntry {
	return []bencode.DictEntry{
		{Key: []byte("id"), Value: bencode.String(idc.Encode(a.ID))},
		{Key: []byte("info_hash"), Value: bencode.String(idc.Encode(a.InfoHash))},
	}
}

func (a AnnouncePeerArgs[T]) toArguments(idc IDCodec[T]) []bencode.DictEntry {
	entries := []bencode.DictEntry{
		{Key: []byte("id"), Value: bencode.String(idc.Encode(a.ID))},
		{Key: []byte("info_hash"), Value: bencode.String(idc.Encode(a.InfoHash))},
		{Key: []byte("port"), Value: bencode.Integer(int64(a.Port))},
		{Key: []byte("token"), Value: bencode.String(a.Token)},
	}
	if a.HasImpliedPort {
		v := int64(0)
		if a.ImpliedPort {
			v = 1
		}
		entries = append(entries, bencode.DictEntry{Key: []byte("implied_port"), Value: bencode.Integer(v)})
	}
	return entries
}

// Query is a KRPC query message: a transaction ID plus method-specific
// arguments.
type Query[T any] struct {
	TransactionID []byte
	Args          QueryArgs[T]
}

// ToBencoded builds the top-level {"t","y","q","a"} dict. The "a" dict
// is assembled unsorted; Encode sorts it during serialization.
func (q Query[T]) ToBencoded(idc IDCodec[T]) bencode.Value {
	return bencode.Dict([]bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.String(q.TransactionID)},
		{Key: []byte("y"), Value: bencode.String([]byte("q"))},
		{Key: []byte("q"), Value: bencode.String([]byte(q.Args.method()))},
		{Key: []byte("a"), Value: bencode.Dict(q.Args.toArguments(idc))},
	})
}

// QueryFromBencoded parses a query message, dispatching on the "q"
// method name to the matching argument shape.
func QueryFromBencoded[T any](v bencode.Value, idc IDCodec[T]) (Query[T], error) {
	if v.Kind != bencode.KindDict {
		return Query[T]{}, errors.New("invalid query - not a dictionary")
	}

	transactionID, err := lookupString(v, "t", "Missing 't' field")
	if err != nil {
		return Query[T]{}, err
	}
	methodValue, ok := bencode.Lookup(v, "q")
	if !ok || methodValue.Kind != bencode.KindString {
		return Query[T]{}, errors.New("Missing 'q' field")
	}
	argsValue, ok := bencode.Lookup(v, "a")
	if !ok || argsValue.Kind != bencode.KindDict {
		return Query[T]{}, errors.New("Missing 'a' field")
	}

	var args QueryArgs[T]
	switch string(methodValue.Str) {
	case MethodPing:
		args, err = pingArgsFromArguments[T](argsValue, idc)
	case MethodFindNode:
		args, err = findNodeArgsFromArguments[T](argsValue, idc)
	case MethodGetPeers:
		args, err = getPeersArgsFromArguments[T](argsValue, idc)
	case MethodAnnouncePeer:
		args, err = announcePeerArgsFromArguments[T](argsValue, idc)
	default:
		return Query[T]{}, errors.New("Invalid query type")
	}
	if err != nil {
		return Query[T]{}, err
	}

	return Query[T]{TransactionID: transactionID, Args: args}, nil
}

func lookupString(v bencode.Value, key, missingMsg string) ([]byte, error) {
	entry, ok := bencode.Lookup(v, key)
	if !ok {
		return nil, errors.New(missingMsg)
	}
	if entry.Kind != bencode.KindString {
		return nil, errors.New("Invalid '" + key + "' field")
	}
	return entry.Str, nil
}

func lookupID[T any](v bencode.Value, key string, idc IDCodec[T]) (T, error) {
	var zero T
	raw, err := lookupString(v, key, "Missing '"+key+"' field")
	if err != nil {
		return zero, err
	}
	id, err := idc.Decode(raw)
	if err != nil {
		return zero, errors.New("Invalid NodeId")
	}
	return id, nil
}

func pingArgsFromArguments[T any](v bencode.Value, idc IDCodec[T]) (QueryArgs[T], error) {
	id, err := lookupID(v, "id", idc)
	if err != nil {
		return nil, err
	}
	return PingArgs[T]{ID: id}, nil
}

func findNodeArgsFromArguments[T any](v bencode.Value, idc IDCodec[T]) (QueryArgs[T], error) {
	id, err := lookupID(v, "id", idc)
	if err != nil {
		return nil, err
	}
	target, err := lookupID(v, "target", idc)
	if err != nil {
		return nil, errors.New("Invalid 'id' or 'target' field")
	}
	return FindNodeArgs[T]{ID: id, Target: target}, nil
}

func getPeersArgsFromArguments[T any](v bencode.Value, idc IDCodec[T]) (QueryArgs[T], error) {
	id, err := lookupID(v, "id", idc)
	if err != nil {
		return nil, err
	}
	infoHash, err := lookupID(v, "info_hash", idc)
	if err != nil {
		return nil, errors.New("Invalid 'id' or 'info_hash' field")
	}
	return GetPeersArgs[T]{ID: id, InfoHash: infoHash}, nil
}

func announcePeerArgsFromArguments[T any](v bencode.Value, idc IDCodec[T]) (QueryArgs[T], error) {
	if v.Kind != bencode.KindDict {
		return nil, errors.New("Missing required field(s)")
	}

	var (
		id, infoHash         T
		haveID, haveInfoHash bool
		port                 uint16
		havePort             bool
		token                []byte
		haveToken            bool
		impliedPort          bool
		haveImpliedPort      bool
	)

	for _, entry := range v.Dict {
		switch string(entry.Key) {
		case "id":
			if entry.Value.Kind != bencode.KindString {
				return nil, errors.New("Invalid 'id' field")
			}
			decoded, err := idc.Decode(entry.Value.Str)
			if err != nil {
				return nil, errors.New("Invalid NodeId")
			}
			id, haveID = decoded, true
		case "info_hash":
			if entry.Value.Kind != bencode.KindString {
				return nil, errors.New("Invalid 'info_hash' field")
			}
			decoded, err := idc.Decode(entry.Value.Str)
			if err != nil {
				return nil, errors.New("Invalid InfoHash")
			}
			infoHash, haveInfoHash = decoded, true
		case "port":
			if entry.Value.Kind != bencode.KindInteger {
				return nil, errors.New("Invalid 'port' field")
			}
			if !entry.Value.Int.IsInt64() {
				return nil, errors.New("Invalid 'port' field")
			}
			p := entry.Value.Int.Int64()
			if p < 0 || p > 65535 {
				return nil, errors.New("Invalid 'port' field")
			}
			port, havePort = uint16(p), true
		case "token":
			if entry.Value.Kind != bencode.KindString {
				return nil, errors.New("Invalid 'token' field")
			}
			token, haveToken = entry.Value.Str, true
		case "implied_port":
			if entry.Value.Kind != bencode.KindInteger {
				return nil, errors.New("Invalid 'implied_port' field")
			}
			impliedPort, haveImpliedPort = entry.Value.Int.Sign() != 0, true
		}
	}

	if !haveID || !haveInfoHash || !havePort || !haveToken {
		return nil, errors.New("Missing required field(s)")
	}

	return AnnouncePeerArgs[T]{
		ID:             id,
		InfoHash:       infoHash,
		Port:           port,
		Token:          token,
		ImpliedPort:    impliedPort,
		HasImpliedPort: haveImpliedPort,
	}, nil
}
