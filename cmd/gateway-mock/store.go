package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"sahelpay-go/pkg/operation"
)

type record struct {
	kind    operation.Kind
	payload operation.Payload
	queries int
}

// store keeps every operation in memory. Creates are idempotent per
// Idempotency-Key, like the real Gateway.
type store struct {
	mu       sync.Mutex
	entropy  *ulid.MonotonicEntropy
	records  map[string]*record
	byKey    map[string]string
	byClient map[string]string
}

func newStore() *store {
	t := time.Now().UTC()
	return &store{
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0),
		records:  make(map[string]*record),
		byKey:    make(map[string]string),
		byClient: make(map[string]string),
	}
}

// newID returns a prefixed ULID like "pay_01D78XYFJ1PRM1WPBCBT3VHMNV".
// Callers hold mu.
func (s *store) newID(kind operation.Kind) string {
	prefix := map[operation.Kind]string{
		operation.KindPayment: "pay",
		operation.KindPayout:  "po",
		operation.KindRefund:  "rf",
	}[kind]
	u := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), s.entropy)
	return fmt.Sprintf("%s_%s", prefix, strings.ToLower(u.String()))
}

// create stores a new PENDING operation, or returns the one already created
// under key. created is false for a replay.
func (s *store) create(kind operation.Kind, key, clientRef string, p operation.Payload) (operation.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok {
		return s.records[id].payload, false
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	p.ID = s.newID(kind)
	p.Status = string(operation.StatusPending)
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Currency == "" {
		p.Currency = "XOF"
	}
	if kind == operation.KindPayout {
		p.Reference = p.ID
	}

	s.records[p.ID] = &record{kind: kind, payload: p}
	s.byKey[key] = p.ID
	if clientRef != "" {
		s.byClient[clientRef] = p.ID
	}
	return p, true
}

func (s *store) get(id string) (operation.Payload, operation.Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return operation.Payload{}, "", false
	}
	return r.payload, r.kind, true
}

func (s *store) findByClientReference(ref string) (operation.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byClient[ref]
	if !ok {
		return operation.Payload{}, false
	}
	return s.records[id].payload, true
}

// query counts one status query and lets the operation advance: payouts move
// to PROCESSING on the first query, and every kind settles to result once
// afterQueries queries were seen. changed reports a status change.
func (s *store) query(id string, afterQueries int, result operation.Status) (p operation.Payload, changed, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, found := s.records[id]
	if !found {
		return operation.Payload{}, false, false
	}
	r.queries++

	current := operation.Status(r.payload.Status)
	if current.IsTerminal() {
		return r.payload, false, true
	}

	next := current
	if r.kind == operation.KindPayout && current == operation.StatusPending {
		next = operation.StatusProcessing
	}
	if r.queries >= afterQueries {
		next = result
	}
	if next != current {
		r.payload.Status = string(next)
		r.payload.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		changed = true
	}
	return r.payload, changed, true
}

// setStatus moves a non-terminal operation to status. It fails for an
// operation that already settled.
func (s *store) setStatus(id string, status operation.Status) (operation.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return operation.Payload{}, errNotFound
	}
	if operation.Status(r.payload.Status).IsTerminal() {
		return r.payload, errAlreadySettled
	}
	r.payload.Status = string(status)
	r.payload.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return r.payload, nil
}

func amountOf(p operation.Payload) int64 {
	n, _ := operation.MinorUnits(p.Amount)
	return n
}

func jsonAmount(n int64) json.Number {
	return json.Number(strconv.FormatInt(n, 10))
}
