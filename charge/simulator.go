package charge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Simulator is an in-memory Charger for development and tests. Charges are
// idempotent on their key, like a real processor.
type Simulator struct {
	mu       sync.Mutex
	charges  map[string]*simulated // idempotency key -> charge
	byID     map[string]*simulated
	seq      atomic.Int64
	declines map[string]string // payer -> decline reason
	faults   []Fault
}

type simulated struct {
	req      Request
	result   Result
	refundID string
	unlisted bool
}

// Fault makes the next matching call fail after optionally recording the charge.
type Fault struct {
	// Err is returned from Charge.
	Err error
	// Applied records the charge as succeeded before returning Err, the
	// way a timeout after the processor accepted the payment looks.
	Applied bool
	// Unresolved leaves the recorded charge pending for Lookup.
	Unresolved bool
	// Unlisted hides the recorded charge from Lookup until Reveal, the
	// way a search index trails the processor's writes.
	Unlisted bool
}

// NewSimulator returns an empty Simulator.
func NewSimulator() *Simulator {
	return &Simulator{
		charges:  make(map[string]*simulated),
		byID:     make(map[string]*simulated),
		declines: make(map[string]string),
	}
}

// DeclinePayer makes every charge from payerID fail with reason.
func (s *Simulator) DeclinePayer(payerID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declines[payerID] = reason
}

// InjectFault queues a fault for the next Charge call.
func (s *Simulator) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

// Charge implements Charger.
func (s *Simulator) Charge(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("charge: idempotency key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.charges[req.IdempotencyKey]; ok {
		r := existing.result
		return &r, nil
	}

	var fault *Fault
	if len(s.faults) > 0 {
		fault = &s.faults[0]
		s.faults = s.faults[1:]
	}
	if fault != nil && !fault.Applied {
		return nil, fault.Err
	}

	ch := &simulated{req: req, unlisted: fault != nil && fault.Unlisted}
	ch.result.ChargeID = fmt.Sprintf("ch_sim_%d", s.seq.Add(1))
	switch reason, declined := s.declines[req.PayerID]; {
	case fault != nil && fault.Unresolved:
		ch.result.Status = StatusPending
	case declined:
		ch.result.Status = StatusFailed
		ch.result.FailureReason = reason
	default:
		ch.result.Status = StatusSucceeded
	}
	s.charges[req.IdempotencyKey] = ch
	s.byID[ch.result.ChargeID] = ch

	if fault != nil {
		return nil, fault.Err
	}
	r := ch.result
	return &r, nil
}

// Lookup implements Charger.
func (s *Simulator) Lookup(_ context.Context, key string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.charges[key]
	if !ok || ch.unlisted {
		return nil, ErrNotFound
	}
	r := ch.result
	return &r, nil
}

// Refund implements Charger.
func (s *Simulator) Refund(_ context.Context, chargeID, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.byID[chargeID]
	if !ok {
		return "", ErrNotFound
	}
	if ch.refundID != "" {
		return ch.refundID, ErrAlreadyRefunded
	}
	if ch.result.Status != StatusSucceeded {
		return "", fmt.Errorf("charge: cannot refund %s charge %s", ch.result.Status, chargeID)
	}
	ch.refundID = "re_" + chargeID
	return ch.refundID, nil
}

// Resolve settles a pending simulated charge, as a processor webhook would.
func (s *Simulator) Resolve(key string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.charges[key]; ok {
		ch.result.Status = status
	}
}

// Reveal makes an Unlisted charge visible to Lookup.
func (s *Simulator) Reveal(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.charges[key]; ok {
		ch.unlisted = false
	}
}

// Stats summarizes what the simulator has processed.
type Stats struct {
	Charges   int
	Succeeded int
	Refunded  int
	// Collected is net money kept, in minor units, across all currencies.
	Collected int64
}

// Stats returns a snapshot of processed charges.
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, ch := range s.charges {
		st.Charges++
		if ch.result.Status != StatusSucceeded {
			continue
		}
		st.Succeeded++
		if ch.refundID != "" {
			st.Refunded++
			continue
		}
		st.Collected += ch.req.Amount.Amount
	}
	return st
}
