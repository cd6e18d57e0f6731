package main

import (
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fusetim/bitcrawler/bencode"
)

// pendingQuery tracks an outgoing query awaiting a response, keyed by its
// transaction ID. The core has no notion of pending queries or timeouts;
// that bookkeeping is entirely the driver's job (spec: response
// classification is a fallback for peers that did not track this
// binding themselves).
type pendingQuery struct {
	method   string
	target   netip.AddrPort
	sentAt   time.Time
	response chan bencode.Value
}

// transactionManager generates transaction IDs and matches responses
// back to the query that produced them.
type transactionManager struct {
	mu      sync.Mutex
	pending map[string]*pendingQuery
}

func newTransactionManager() *transactionManager {
	return &transactionManager{pending: make(map[string]*pendingQuery)}
}

// newTransactionID returns 4 opaque bytes carved from a fresh UUID. KRPC
// transaction IDs are an opaque byte string on the wire; nothing in the
// protocol requires the conventional 2-byte counter, so a UUID prefix is
// as valid as any other byte sequence and sidesteps counter wraparound.
func newTransactionID() []byte {
	id := uuid.New()
	return append([]byte{}, id[:4]...)
}

func (tm *transactionManager) add(txID []byte, method string, target netip.AddrPort) *pendingQuery {
	pq := &pendingQuery{
		method:   method,
		target:   target,
		sentAt:   time.Now(),
		response: make(chan bencode.Value, 1),
	}
	tm.mu.Lock()
	tm.pending[string(txID)] = pq
	tm.mu.Unlock()
	return pq
}

// take removes and returns the pending query for txID, if any, reporting
// the method it was registered under so the caller need not re-classify.
func (tm *transactionManager) take(txID []byte) (*pendingQuery, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	pq, ok := tm.pending[string(txID)]
	if ok {
		delete(tm.pending, string(txID))
	}
	return pq, ok
}

// expire drops pending queries older than timeout, closing their
// response channels so any waiter unblocks.
func (tm *transactionManager) expire(timeout time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := time.Now()
	for txID, pq := range tm.pending {
		if now.Sub(pq.sentAt) > timeout {
			close(pq.response)
			delete(tm.pending, txID)
		}
	}
}
