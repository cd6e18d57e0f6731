package krpc

import (
	"github.com/pkg/errors"

	"github.com/fusetim/bitcrawler/bencode"
)

// Classify recovers a response's method from the shape of its "r" dict,
// for peers that did not track the transaction-to-method binding
// themselves. It does not consume or validate the response body beyond
// what is needed to apply the precedence rule below:
//
//  1. "values" present  -> get_peers
//  2. "token" present   -> get_peers
//  3. "nodes" present   -> find_node
//  4. otherwise         -> ping
//
// This order is pinned, not load-bearing: real peers populate at most
// one of values/nodes, so the tie case is arbitrary by construction.
func Classify(v bencode.Value) (method string, transactionID []byte, err error) {
	if v.Kind != bencode.KindDict {
		return "", nil, errors.New("Invalid response format")
	}
	messageType, err := lookupString(v, "y", "Missing 'y' field")
	if err != nil {
		return "", nil, err
	}
	if string(messageType) != "r" {
		return "", nil, errors.New("Invalid message type")
	}
	transactionID, err = lookupString(v, "t", "Missing 't' field")
	if err != nil {
		return "", nil, err
	}
	result, ok := bencode.Lookup(v, "r")
	if !ok || result.Kind != bencode.KindDict {
		return "", nil, errors.New("Missing 'r' field")
	}

	if _, ok := bencode.Lookup(result, "values"); ok {
		return MethodGetPeers, transactionID, nil
	}
	if _, ok := bencode.Lookup(result, "token"); ok {
		return MethodGetPeers, transactionID, nil
	}
	if _, ok := bencode.Lookup(result, "nodes"); ok {
		return MethodFindNode, transactionID, nil
	}
	return MethodPing, transactionID, nil
}
