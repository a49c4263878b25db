package services

import (
	"log"
	"sync"
)

// Connection is the registry's view of one transport connection. Send must
// be bounded: implementations fail fast instead of blocking on a dead or
// slow peer, so a single connection can never stall a fan-out.
type Connection interface {
	ID() string
	Send(v any) error
	Close()
}

// SubscriptionRegistry tracks which connections want which symbols and
// which connection belongs to which user. All mutations are safe under
// concurrent broadcast reads from the polling loop.
type SubscriptionRegistry struct {
	mu          sync.RWMutex
	symbolSubs  map[string]map[string]Connection // symbol -> connID -> conn
	connSymbols map[string]map[string]struct{}   // connID -> symbols
	userConns   map[string]Connection            // userID -> conn (latest wins)
	connUsers   map[string]string                // connID -> userID
}

// NewSubscriptionRegistry creates an empty registry
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		symbolSubs:  make(map[string]map[string]Connection),
		connSymbols: make(map[string]map[string]struct{}),
		userConns:   make(map[string]Connection),
		connUsers:   make(map[string]string),
	}
}

// Subscribe idempotently adds the connection to each symbol's subscriber set
// and records user ownership when userID is non-empty.
func (r *SubscriptionRegistry) Subscribe(conn Connection, userID string, symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A connection counts as tracked from its first Subscribe call, even
	// before it asks for any symbols.
	syms, ok := r.connSymbols[conn.ID()]
	if !ok {
		syms = make(map[string]struct{})
		r.connSymbols[conn.ID()] = syms
	}

	for _, symbol := range symbols {
		if symbol == "" {
			continue
		}
		subs, ok := r.symbolSubs[symbol]
		if !ok {
			subs = make(map[string]Connection)
			r.symbolSubs[symbol] = subs
		}
		subs[conn.ID()] = conn
		syms[symbol] = struct{}{}
	}

	if userID != "" {
		r.userConns[userID] = conn
		r.connUsers[conn.ID()] = userID
	}
}

// UnsubscribeSymbols removes the connection from the given symbols only
func (r *SubscriptionRegistry) UnsubscribeSymbols(conn Connection, symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, symbol := range symbols {
		r.removeFromSymbol(symbol, conn.ID())
		if syms, ok := r.connSymbols[conn.ID()]; ok {
			delete(syms, symbol)
		}
	}
}

// Unsubscribe removes the connection from every symbol set and the user
// ownership map. Safe to call multiple times.
func (r *SubscriptionRegistry) Unsubscribe(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropConn(conn.ID())
}

// dropConn removes all registry state for a connection ID. Caller holds mu.
func (r *SubscriptionRegistry) dropConn(connID string) {
	for symbol := range r.connSymbols[connID] {
		r.removeFromSymbol(symbol, connID)
	}
	delete(r.connSymbols, connID)

	if userID, ok := r.connUsers[connID]; ok {
		// Only clear the user mapping if it still points at this connection;
		// a newer connection from the same user must not be evicted.
		if current, ok := r.userConns[userID]; ok && current.ID() == connID {
			delete(r.userConns, userID)
		}
		delete(r.connUsers, connID)
	}
}

// removeFromSymbol removes one subscriber, deleting the set when it empties.
// Caller holds mu.
func (r *SubscriptionRegistry) removeFromSymbol(symbol, connID string) {
	subs, ok := r.symbolSubs[symbol]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(r.symbolSubs, symbol)
	}
}

// ActiveSymbols returns the symbols that currently have at least one subscriber
func (r *SubscriptionRegistry) ActiveSymbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	symbols := make([]string, 0, len(r.symbolSubs))
	for symbol := range r.symbolSubs {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// SubscriberCount returns the number of live subscribers for a symbol
func (r *SubscriptionRegistry) SubscriberCount(symbol string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.symbolSubs[symbol])
}

// ConnectionCount returns the number of distinct tracked connections
func (r *SubscriptionRegistry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connSymbols)
}

// BroadcastToSymbol delivers message to every subscriber of symbol. A failed
// send evicts that connection from the registry so the set self-heals; the
// remaining subscribers are unaffected.
func (r *SubscriptionRegistry) BroadcastToSymbol(symbol string, message any) {
	r.mu.RLock()
	subs := make([]Connection, 0, len(r.symbolSubs[symbol]))
	for _, conn := range r.symbolSubs[symbol] {
		subs = append(subs, conn)
	}
	r.mu.RUnlock()

	var dead []Connection
	for _, conn := range subs {
		if err := conn.Send(message); err != nil {
			log.Printf("Broadcast to %s failed for connection %s: %v", symbol, conn.ID(), err)
			dead = append(dead, conn)
		}
	}

	if len(dead) > 0 {
		r.mu.Lock()
		for _, conn := range dead {
			r.dropConn(conn.ID())
		}
		r.mu.Unlock()
		for _, conn := range dead {
			conn.Close()
		}
	}
}

// DeliverToUser sends message to the user's live connection. Best effort:
// returns false without error when the user has no connection or the send
// fails (alerts are not queued for later delivery).
func (r *SubscriptionRegistry) DeliverToUser(userID string, message any) bool {
	r.mu.RLock()
	conn, ok := r.userConns[userID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	if err := conn.Send(message); err != nil {
		log.Printf("Delivery to user %s failed: %v", userID, err)
		r.mu.Lock()
		r.dropConn(conn.ID())
		r.mu.Unlock()
		conn.Close()
		return false
	}
	return true
}
