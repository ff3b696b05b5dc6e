package valuation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// EventKind orders events sharing a date: corporate actions apply before the
// day's trades.
type EventKind int

const (
	EventSplit EventKind = iota
	EventDividend
	EventTrade
)

// Event is one step of a portfolio's replay
type Event struct {
	Date   time.Time
	Kind   EventKind
	Symbol string
	// Amount is the signed quantity of a trade, the ratio of a split or the
	// cash per share of a dividend.
	Amount        decimal.Decimal
	SequenceNo    int64
	TransactionID string
}

// Holdings maps ticker to running quantity. A Holdings value is never mutated
// once returned from Fold; zero positions are dropped.
type Holdings map[string]decimal.Decimal

// Quantity returns the held quantity of symbol
func (h Holdings) Quantity(symbol string) decimal.Decimal {
	return h[symbol]
}

// Symbols returns the held tickers, sorted
func (h Holdings) Symbols() []string {
	out := make([]string, 0, len(h))
	for sym := range h {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// State is the fold accumulator
type State struct {
	Holdings     Holdings
	DividendCash decimal.Decimal
}

// Equal compares two states by value
func (s State) Equal(o State) bool {
	if !s.DividendCash.Equal(o.DividendCash) || len(s.Holdings) != len(o.Holdings) {
		return false
	}
	for sym, q := range s.Holdings {
		if oq, ok := o.Holdings[sym]; !ok || !q.Equal(oq) {
			return false
		}
	}
	return true
}

// Fold applies events in order to s and returns the new state. s is left
// untouched; when events is empty s itself is returned.
func Fold(s State, events []Event) State {
	if len(events) == 0 {
		return s
	}
	next := State{
		Holdings:     make(Holdings, len(s.Holdings)+1),
		DividendCash: s.DividendCash,
	}
	for sym, q := range s.Holdings {
		next.Holdings[sym] = q
	}

	for _, e := range events {
		q, held := next.Holdings[e.Symbol]
		switch e.Kind {
		case EventSplit:
			if held {
				next.Holdings[e.Symbol] = q.Mul(e.Amount)
			}
		case EventDividend:
			if held {
				next.DividendCash = next.DividendCash.Add(q.Mul(e.Amount))
			}
		case EventTrade:
			q = q.Add(e.Amount)
			if q.IsZero() {
				delete(next.Holdings, e.Symbol)
			} else {
				next.Holdings[e.Symbol] = q
			}
		}
	}
	return next
}

// Replay folds every event dated on or before through, starting from an empty state
func Replay(events []Event, through time.Time) State {
	n := sort.Search(len(events), func(i int) bool { return events[i].Date.After(through) })
	return Fold(State{Holdings: Holdings{}}, events[:n])
}

// BuildEvents merges a portfolio's transactions with the corporate actions of the
// tickers it trades, in replay order: date, then actions before trades, then
// sequence number and transaction id.
func BuildEvents(txns []domain.Transaction, actions []domain.CorporateAction) []Event {
	traded := make(map[string]bool)
	events := make([]Event, 0, len(txns))
	for _, t := range txns {
		traded[t.Symbol] = true
		events = append(events, Event{
			Date:          t.Date,
			Kind:          EventTrade,
			Symbol:        t.Symbol,
			Amount:        t.Quantity,
			SequenceNo:    t.SequenceNo,
			TransactionID: t.TransactionID,
		})
	}
	for _, a := range actions {
		if !traded[a.Symbol] {
			continue
		}
		kind := EventDividend
		if a.Action == domain.ActionSplit {
			kind = EventSplit
		}
		events = append(events, Event{Date: a.Date, Kind: kind, Symbol: a.Symbol, Amount: a.Value})
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.SequenceNo != b.SequenceNo {
			return a.SequenceNo < b.SequenceNo
		}
		if a.TransactionID != b.TransactionID {
			return a.TransactionID < b.TransactionID
		}
		return a.Symbol < b.Symbol
	})
	return events
}
