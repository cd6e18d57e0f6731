package main

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"

	"github.com/fusetim/bitcrawler/bencode"
	"github.com/fusetim/bitcrawler/kademlia"
	"github.com/fusetim/bitcrawler/krpc"
)

const (
	maxPacketSize    = 1500
	queryTimeout     = 15 * time.Second
	refreshInterval  = 15 * time.Minute
	refreshDebounce  = 3 * time.Second
	closestNodeCount = 8
)

// crawler is the UDP driver around the core: it owns the socket, the
// routing table's external mutex (the core itself does no locking, per
// design), pending-query bookkeeping and a local peer store for
// announce_peer/get_peers. None of this lives in package krpc or
// kademlia.
type crawler struct {
	id   krpc.NodeID
	conn *net.UDPConn
	log  zerolog.Logger

	tableMu sync.Mutex
	table   *kademlia.RoutingTable[krpc.NodeID, netip.AddrPort]

	transactions *transactionManager

	peersMu sync.RWMutex
	peers   map[krpc.NodeID][]netip.AddrPort

	refreshNow func(func())

	shutdown chan struct{}
	wg       sync.WaitGroup
}

func newCrawler(id krpc.NodeID, conn *net.UDPConn, logger zerolog.Logger) *crawler {
	c := &crawler{
		id:           id,
		conn:         conn,
		log:          logger,
		table:        kademlia.NewRoutingTable[krpc.NodeID, netip.AddrPort](id),
		transactions: newTransactionManager(),
		peers:        make(map[krpc.NodeID][]netip.AddrPort),
		shutdown:     make(chan struct{}),
	}
	c.refreshNow = debounce.New(refreshDebounce)
	return c
}

// run starts the read loop and the periodic refresh loop, blocking until
// ctx is cancelled or stop is called.
func (c *crawler) run(ctx context.Context) {
	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.refreshLoop(ctx)
	c.wg.Wait()
}

func (c *crawler) stop() {
	close(c.shutdown)
	c.conn.Close()
}

func (c *crawler) readLoop(ctx context.Context) {
	defer c.wg.Done()
	buf := make([]byte, maxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-c.shutdown:
				return
			default:
				c.log.Warn().Err(err).Msg("udp read error")
				continue
			}
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		peer := addr.AddrPort()
		go c.handlePacket(data, peer)
	}
}

func (c *crawler) refreshLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.doRefresh()
		}
	}
}

func (c *crawler) doRefresh() {
	c.transactions.expire(queryTimeout)
	for _, target := range c.staleTargets() {
		go c.findNode(target)
	}
}

// staleTargets returns one lookup target per occupied bucket: the ID of
// the bucket's lowest-ID member, so a find_node for it probes that
// bucket's region of the ID space.
func (c *crawler) staleTargets() []krpc.NodeID {
	c.tableMu.Lock()
	defer c.tableMu.Unlock()
	buckets := c.table.Buckets()
	targets := make([]krpc.NodeID, 0, len(buckets))
	for _, b := range buckets {
		first, ok := b.First()
		if !ok {
			continue
		}
		targets = append(targets, first.ID)
	}
	return targets
}

func (c *crawler) handlePacket(data []byte, from netip.AddrPort) {
	_, value, err := bencode.Decode(data)
	if err != nil {
		c.log.Debug().Err(err).Stringer("from", from).Msg("dropping undecodable packet")
		return
	}

	messageType, ok := bencode.Lookup(value, "y")
	if !ok || messageType.Kind != bencode.KindString {
		c.log.Debug().Stringer("from", from).Msg("dropping packet missing 'y' field")
		return
	}

	switch string(messageType.Str) {
	case "q":
		c.handleQuery(value, from)
	case "r":
		c.handleResponse(value, from)
	case "e":
		c.handleError(value, from)
	default:
		c.log.Debug().Stringer("from", from).Msg("dropping packet with unknown message type")
	}
}

func (c *crawler) handleQuery(value bencode.Value, from netip.AddrPort) {
	query, err := krpc.QueryFromBencoded(value, krpc.NodeIDCodec)
	if err != nil {
		c.log.Debug().Err(err).Stringer("from", from).Msg("malformed query")
		return
	}

	var response bencode.Value
	switch args := query.Args.(type) {
	case krpc.PingArgs[krpc.NodeID]:
		c.noteNode(args.ID, from)
		response = krpc.Response[krpc.NodeID]{
			TransactionID: query.TransactionID,
			Kind:          krpc.ResponsePing,
			Ping:          &krpc.PingResult[krpc.NodeID]{ID: c.id},
		}.ToBencoded(krpc.NodeIDCodec)

	case krpc.FindNodeArgs[krpc.NodeID]:
		c.noteNode(args.ID, from)
		response = krpc.Response[krpc.NodeID]{
			TransactionID: query.TransactionID,
			Kind:          krpc.ResponseFindNode,
			FindNode: &krpc.FindNodeResult[krpc.NodeID]{
				ID:    c.id,
				Nodes: c.closestNodes(args.Target, closestNodeCount),
			},
		}.ToBencoded(krpc.NodeIDCodec)

	case krpc.GetPeersArgs[krpc.NodeID]:
		c.noteNode(args.ID, from)
		response = c.getPeersResponse(query.TransactionID, args.InfoHash)

	case krpc.AnnouncePeerArgs[krpc.NodeID]:
		c.noteNode(args.ID, from)
		c.storePeer(args.InfoHash, from)
		response = krpc.Response[krpc.NodeID]{
			TransactionID: query.TransactionID,
			Kind:          krpc.ResponseAnnouncePeer,
			AnnouncePeer:  &krpc.AnnouncePeerResult[krpc.NodeID]{ID: c.id},
		}.ToBencoded(krpc.NodeIDCodec)

	default:
		response = krpc.ErrorMessage{
			TransactionID: query.TransactionID,
			Code:          krpc.ErrorCodeMethodUnknown,
			Message:       "unknown method",
		}.ToBencoded()
	}

	c.send(response, from)
}

func (c *crawler) getPeersResponse(transactionID []byte, infoHash krpc.NodeID) bencode.Value {
	c.peersMu.RLock()
	peers := append([]netip.AddrPort{}, c.peers[infoHash]...)
	c.peersMu.RUnlock()

	result := &krpc.GetPeersResult[krpc.NodeID]{
		ID:       c.id,
		Token:    infoHash.Bytes()[:4],
		HasToken: true,
	}
	if len(peers) > 0 {
		result.Values = make([]krpc.PeerInfo, 0, len(peers))
		for _, p := range peers {
			if !p.Addr().Is4() {
				continue
			}
			result.Values = append(result.Values, krpc.PeerInfo{IP: p.Addr().As4(), Port: p.Port()})
		}
		result.HasValues = len(result.Values) > 0
	}
	if !result.HasValues {
		result.Nodes = c.closestNodes(infoHash, closestNodeCount)
		result.HasNodes = true
	}

	return krpc.Response[krpc.NodeID]{
		TransactionID: transactionID,
		Kind:          krpc.ResponseGetPeers,
		GetPeers:      result,
	}.ToBencoded(krpc.NodeIDCodec)
}

func (c *crawler) handleResponse(value bencode.Value, from netip.AddrPort) {
	method, transactionID, err := krpc.Classify(value)
	if err != nil {
		c.log.Debug().Err(err).Stringer("from", from).Msg("unclassifiable response")
		return
	}

	pq, ok := c.transactions.take(transactionID)
	if ok {
		method = pq.method
	}

	switch method {
	case krpc.MethodPing:
		c.handlePingResponse(value, from, pq)
	case krpc.MethodFindNode:
		c.handleFindNodeResponse(value, from, pq)
	case krpc.MethodGetPeers:
		c.handleGetPeersResponse(value, from, pq)
	case krpc.MethodAnnouncePeer:
		c.handleAnnouncePeerResponse(value, from, pq)
	}
}

func (c *crawler) handlePingResponse(value bencode.Value, from netip.AddrPort, pq *pendingQuery) {
	resp, err := krpc.TryPingResponseFromBencoded(value, krpc.NodeIDCodec)
	if err != nil {
		return
	}
	c.noteNode(resp.Ping.ID, from)
	c.deliver(pq, value)
}

func (c *crawler) handleFindNodeResponse(value bencode.Value, from netip.AddrPort, pq *pendingQuery) {
	resp, err := krpc.TryFindNodeResponseFromBencoded(value, krpc.NodeIDCodec)
	if err != nil {
		return
	}
	c.noteNode(resp.FindNode.ID, from)
	for _, n := range resp.FindNode.Nodes {
		c.noteNode(n.ID, netip.AddrPortFrom(netip.AddrFrom4(n.IP), n.Port))
	}
	c.deliver(pq, value)
}

func (c *crawler) handleGetPeersResponse(value bencode.Value, from netip.AddrPort, pq *pendingQuery) {
	resp, err := krpc.TryGetPeersResponseFromBencoded(value, krpc.NodeIDCodec)
	if err != nil {
		return
	}
	c.noteNode(resp.GetPeers.ID, from)
	for _, n := range resp.GetPeers.Nodes {
		c.noteNode(n.ID, netip.AddrPortFrom(netip.AddrFrom4(n.IP), n.Port))
	}
	c.deliver(pq, value)
}

func (c *crawler) handleAnnouncePeerResponse(value bencode.Value, from netip.AddrPort, pq *pendingQuery) {
	resp, err := krpc.TryAnnouncePeerResponseFromBencoded(value, krpc.NodeIDCodec)
	if err != nil {
		return
	}
	c.noteNode(resp.AnnouncePeer.ID, from)
	c.deliver(pq, value)
}

func (c *crawler) handleError(value bencode.Value, from netip.AddrPort) {
	errMsg, err := krpc.ErrorMessageFromBencoded(value)
	if err != nil {
		c.log.Debug().Err(err).Stringer("from", from).Msg("malformed error message")
		return
	}
	if pq, ok := c.transactions.take(errMsg.TransactionID); ok {
		close(pq.response)
	}
	c.log.Debug().Stringer("from", from).Int64("code", int64(errMsg.Code)).Str("message", errMsg.Message).Msg("peer returned error")
}

func (c *crawler) deliver(pq *pendingQuery, value bencode.Value) {
	if pq == nil {
		return
	}
	select {
	case pq.response <- value:
	default:
	}
}

func (c *crawler) send(v bencode.Value, to netip.AddrPort) {
	_, err := c.conn.WriteToUDP(bencode.Encode(v), net.UDPAddrFromAddrPort(to))
	if err != nil {
		c.log.Warn().Err(err).Stringer("to", to).Msg("write failed")
	}
}

// noteNode inserts a discovered node into the routing table, guarded by
// the external mutex the core requires since it does no locking itself.
func (c *crawler) noteNode(id krpc.NodeID, addr netip.AddrPort) {
	if id.Equal(c.id) {
		return
	}
	c.tableMu.Lock()
	inserted := c.table.Insert(kademlia.Node[krpc.NodeID, netip.AddrPort]{ID: id, Addresses: []netip.AddrPort{addr}})
	c.tableMu.Unlock()
	if inserted {
		c.refreshNow(c.doRefresh)
	}
}

func (c *crawler) storePeer(infoHash krpc.NodeID, addr netip.AddrPort) {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	for _, existing := range c.peers[infoHash] {
		if existing == addr {
			return
		}
	}
	c.peers[infoHash] = append(c.peers[infoHash], addr)
}

// closestNodes returns up to count known nodes ordered by XOR distance
// to target.
func (c *crawler) closestNodes(target krpc.NodeID, count int) []krpc.NodeInfo[krpc.NodeID] {
	c.tableMu.Lock()
	all := c.table.AllNodes()
	c.tableMu.Unlock()

	candidates := make([]krpc.NodeInfo[krpc.NodeID], 0, len(all))
	for _, n := range all {
		if len(n.Addresses) == 0 {
			continue
		}
		addr := n.Addresses[0]
		if !addr.Addr().Is4() {
			continue
		}
		candidates = append(candidates, krpc.NodeInfo[krpc.NodeID]{ID: n.ID, IP: addr.Addr().As4(), Port: addr.Port()})
	}
	return krpc.ClosestNodes(candidates, target, count)
}

// ping sends a ping query to addr and blocks for the response or timeout.
func (c *crawler) ping(addr netip.AddrPort) (bencode.Value, error) {
	txID := newTransactionID()
	query := krpc.Query[krpc.NodeID]{TransactionID: txID, Args: krpc.PingArgs[krpc.NodeID]{ID: c.id}}
	pq := c.transactions.add(txID, krpc.MethodPing, addr)
	c.send(query.ToBencoded(krpc.NodeIDCodec), addr)
	return awaitResponse(pq, queryTimeout)
}

// findNode sends a find_node query for target to the closest known nodes.
func (c *crawler) findNode(target krpc.NodeID) {
	c.tableMu.Lock()
	candidates := c.table.AllNodes()
	c.tableMu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID.Distance(target).CmpDistance(candidates[j].ID.Distance(target)) < 0
	})
	if len(candidates) > closestNodeCount {
		candidates = candidates[:closestNodeCount]
	}

	for _, n := range candidates {
		if len(n.Addresses) == 0 {
			continue
		}
		go c.findNodeQuery(n.Addresses[0], target)
	}
}

func (c *crawler) findNodeQuery(addr netip.AddrPort, target krpc.NodeID) {
	txID := newTransactionID()
	query := krpc.Query[krpc.NodeID]{TransactionID: txID, Args: krpc.FindNodeArgs[krpc.NodeID]{ID: c.id, Target: target}}
	pq := c.transactions.add(txID, krpc.MethodFindNode, addr)
	c.send(query.ToBencoded(krpc.NodeIDCodec), addr)
	awaitResponse(pq, queryTimeout)
}

func awaitResponse(pq *pendingQuery, timeout time.Duration) (bencode.Value, error) {
	select {
	case v, ok := <-pq.response:
		if !ok {
			return bencode.Value{}, errTimeout
		}
		return v, nil
	case <-time.After(timeout):
		return bencode.Value{}, errTimeout
	}
}
