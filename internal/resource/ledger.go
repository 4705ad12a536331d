package resource

import (
	"errors"
	"fmt"
	"sort"
)

// Kind identifies a resource type ("wood", "stone", ...). The set of valid
// kinds comes from the catalog; the ledger itself accepts any kind.
type Kind string

// Stake is a (kind, quantity) line used for costs, inputs and outputs.
type Stake struct {
	Kind Kind `json:"kind"`
	Qty  int  `json:"qty"`
}

var (
	ErrInsufficientResource = errors.New("insufficient resources")

	// ErrNegativeStock means a quantity went negative, which the reserve
	// contract is supposed to make impossible. Treated as fatal upstream.
	ErrNegativeStock = errors.New("negative resource stock")
)

// Ledger is the authoritative store of resource quantities. All debits go
// through Reserve/ReserveAll/Apply so quantities can never go negative.
// Kinds may carry an optional cap; credits clamp at the cap and the excess
// is discarded.
type Ledger struct {
	stocks map[Kind]int
	caps   map[Kind]int // present key => capped
}

func NewLedger() *Ledger {
	return &Ledger{
		stocks: make(map[Kind]int),
		caps:   make(map[Kind]int),
	}
}

// SetCap sets the maximum stock for a kind. A negative cap removes the cap.
// If the current stock exceeds the new cap it is truncated.
func (l *Ledger) SetCap(kind Kind, cap int) {
	if cap < 0 {
		delete(l.caps, kind)
		return
	}
	l.caps[kind] = cap
	if l.stocks[kind] > cap {
		l.stocks[kind] = cap
	}
}

func (l *Ledger) Cap(kind Kind) (int, bool) {
	c, ok := l.caps[kind]
	return c, ok
}

func (l *Ledger) Amount(kind Kind) int {
	return l.stocks[kind]
}

// Credit adds qty of kind and returns the amount actually credited after
// cap clamping. Non-positive quantities are no-ops.
func (l *Ledger) Credit(kind Kind, qty int) int {
	if qty <= 0 {
		return 0
	}
	cur := l.stocks[kind]
	next := cur + qty
	if cap, ok := l.caps[kind]; ok && next > cap {
		next = cap
	}
	l.stocks[kind] = next
	return next - cur
}

// Reserve debits qty of kind atomically. Returns false, with no partial
// debit, when the stock is insufficient.
func (l *Ledger) Reserve(kind Kind, qty int) bool {
	if qty <= 0 {
		return true
	}
	cur := l.stocks[kind]
	if cur < qty {
		return false
	}
	l.stocks[kind] = cur - qty
	return true
}

// ReserveAll debits every line or none of them. Lines of the same kind are
// summed before the sufficiency check.
func (l *Ledger) ReserveAll(lines []Stake) bool {
	need := make(map[Kind]int, len(lines))
	for _, s := range lines {
		if s.Qty > 0 {
			need[s.Kind] += s.Qty
		}
	}
	for kind, qty := range need {
		if l.stocks[kind] < qty {
			return false
		}
	}
	for kind, qty := range need {
		l.stocks[kind] -= qty
	}
	return true
}

// Batch is a set of debits and credits settled as one transaction.
type Batch struct {
	Debits  []Stake
	Credits []Stake
}

// Apply settles the batch: either every debit succeeds (checked up front)
// and the credits land, or nothing changes.
func (l *Ledger) Apply(b Batch) bool {
	if !l.ReserveAll(b.Debits) {
		return false
	}
	for _, s := range b.Credits {
		l.Credit(s.Kind, s.Qty)
	}
	return true
}

// Snapshot returns a copy of all non-zero stocks for read-only consumers.
func (l *Ledger) Snapshot() map[Kind]int {
	out := make(map[Kind]int, len(l.stocks))
	for kind, qty := range l.stocks {
		if qty != 0 {
			out[kind] = qty
		}
	}
	return out
}

// Kinds returns every kind the ledger has seen, sorted for determinism.
func (l *Ledger) Kinds() []Kind {
	out := make([]Kind, 0, len(l.stocks))
	for kind := range l.stocks {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Check scans for negative stocks. A non-nil error is an invariant
// violation: the reserve contract was bypassed somewhere.
func (l *Ledger) Check() error {
	for kind, qty := range l.stocks {
		if qty < 0 {
			return fmt.Errorf("%w: %s=%d", ErrNegativeStock, kind, qty)
		}
	}
	return nil
}
