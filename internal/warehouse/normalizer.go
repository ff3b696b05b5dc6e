package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/internal/validation"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Stats counts what normalization did per kind
type Stats struct {
	Duplicates map[domain.EntityKind]int
	Conflicts  map[domain.EntityKind]int
	Loaded     map[domain.EntityKind]int
}

func newStats() Stats {
	return Stats{
		Duplicates: make(map[domain.EntityKind]int),
		Conflicts:  make(map[domain.EntityKind]int),
		Loaded:     make(map[domain.EntityKind]int),
	}
}

// Normalizer builds canonical fact tables from validated rows
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a normalizer
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger.With(slog.String("component", "normalizer"))}
}

// Normalize deduplicates every kind on its natural key. Exact duplicates are dropped
// and counted. A later row with the same key but different values is quarantined
// as a conflicting duplicate and the first row in input order wins. Transactions are
// additionally unique by transaction id.
func (n *Normalizer) Normalize(ctx context.Context, res *validation.Result) (*Warehouse, []domain.QuarantineRecord, error) {
	stats := newStats()
	var quarantine []domain.QuarantineRecord
	wh := &Warehouse{}

	wh.Accounts, quarantine = dedup(res.Accounts, domain.KindAccount, accountKey, equalComparable[domain.Account], &stats, quarantine)
	wh.Portfolios, quarantine = dedup(res.Portfolios, domain.KindPortfolio, portfolioKey, equalComparable[domain.Portfolio], &stats, quarantine)
	wh.Tickers, quarantine = dedup(res.Tickers, domain.KindTicker, tickerKey, equalComparable[domain.Ticker], &stats, quarantine)
	wh.Bars, quarantine = dedup(res.Bars, domain.KindPriceBar, barKey, equalBar, &stats, quarantine)
	wh.Transactions, quarantine = dedup(res.Transactions, domain.KindTransaction, transactionKey, equalTransaction, &stats, quarantine)
	wh.Transactions, quarantine = uniqueTransactionIDs(wh.Transactions, res.Transactions, &stats, quarantine)
	wh.Actions, quarantine = dedup(res.Actions, domain.KindCorporateAction, actionKey, equalAction, &stats, quarantine)

	sortTables(wh)
	wh.index()
	if err := wh.CheckIntegrity(); err != nil {
		return nil, quarantine, err
	}

	for _, kind := range domain.EntityKinds {
		stats.Loaded[kind] = wh.Count(kind)
		if stats.Duplicates[kind] > 0 || stats.Conflicts[kind] > 0 {
			n.logger.WarnContext(ctx, "duplicates_removed",
				slog.String("kind", string(kind)),
				slog.Int("exact", stats.Duplicates[kind]),
				slog.Int("conflicting", stats.Conflicts[kind]))
		}
	}
	n.logger.InfoContext(ctx, "warehouse_built",
		slog.Int("accounts", len(wh.Accounts)),
		slog.Int("portfolios", len(wh.Portfolios)),
		slog.Int("tickers", len(wh.Tickers)),
		slog.Int("price_bars", len(wh.Bars)),
		slog.Int("transactions", len(wh.Transactions)),
		slog.Int("corporate_actions", len(wh.Actions)))

	wh.stats = stats
	return wh, quarantine, nil
}

// Stats returns what normalization did
func (w *Warehouse) Stats() Stats {
	if w.stats.Loaded == nil {
		return newStats()
	}
	return w.stats
}

func dedup[T any](
	records []validation.Record[T],
	kind domain.EntityKind,
	key func(T) string,
	equal func(a, b T) bool,
	stats *Stats,
	quarantine []domain.QuarantineRecord,
) ([]T, []domain.QuarantineRecord) {
	seen := make(map[string]T, len(records))
	out := make([]T, 0, len(records))
	for _, rec := range records {
		k := key(rec.Value)
		first, ok := seen[k]
		if !ok {
			seen[k] = rec.Value
			out = append(out, rec.Value)
			continue
		}
		if equal(first, rec.Value) {
			stats.Duplicates[kind]++
			continue
		}
		stats.Conflicts[kind]++
		quarantine = append(quarantine, conflict(kind, rec.Origin, k, "natural key already loaded with different values"))
	}
	return out, quarantine
}

// uniqueTransactionIDs drops transactions reusing an id already taken by a different
// natural key. Input order decides which one wins.
func uniqueTransactionIDs(
	kept []domain.Transaction,
	records []validation.Record[domain.Transaction],
	stats *Stats,
	quarantine []domain.QuarantineRecord,
) ([]domain.Transaction, []domain.QuarantineRecord) {
	keptByKey := make(map[string]domain.Transaction, len(kept))
	for _, t := range kept {
		keptByKey[transactionKey(t)] = t
	}

	owner := make(map[string]string, len(kept))
	drop := make(map[string]bool)
	for _, rec := range records {
		k := transactionKey(rec.Value)
		if t, ok := keptByKey[k]; !ok || !equalTransaction(t, rec.Value) {
			continue
		}
		id := rec.Value.TransactionID
		prev, ok := owner[id]
		if !ok {
			owner[id] = k
			continue
		}
		if prev == k || drop[k] {
			continue
		}
		drop[k] = true
		stats.Conflicts[domain.KindTransaction]++
		quarantine = append(quarantine, conflict(domain.KindTransaction, rec.Origin, id,
			fmt.Sprintf("transaction_id already used by %s", prev)))
	}
	if len(drop) == 0 {
		return kept, quarantine
	}

	out := kept[:0]
	for _, t := range kept {
		if !drop[transactionKey(t)] {
			out = append(out, t)
		}
	}
	return out, quarantine
}

func conflict(kind domain.EntityKind, origin validation.Origin, key, detail string) domain.QuarantineRecord {
	err := apperrors.NewValidationError(detail).WithContext("code", domain.CodeConflictingDuplicate)
	return domain.QuarantineRecord{
		Kind:   kind,
		Source: origin.Source,
		Line:   origin.Line,
		Key:    key,
		Reason: string(err.Type),
		Code:   apperrors.CodeOf(err),
		Detail: err.Message,
	}
}

func equalComparable[T comparable](a, b T) bool { return a == b }

func equalBar(a, b domain.PriceBar) bool {
	return a.Symbol == b.Symbol && a.Date.Equal(b.Date) &&
		a.Close.Equal(b.Close) && a.Volume.Equal(b.Volume)
}

func equalTransaction(a, b domain.Transaction) bool {
	return a.TransactionID == b.TransactionID && a.PortfolioID == b.PortfolioID &&
		a.Symbol == b.Symbol && a.Date.Equal(b.Date) && a.SequenceNo == b.SequenceNo &&
		a.Quantity.Equal(b.Quantity) && a.Price.Equal(b.Price)
}

func equalAction(a, b domain.CorporateAction) bool {
	return a.Symbol == b.Symbol && a.Date.Equal(b.Date) && a.Action == b.Action && a.Value.Equal(b.Value)
}

func sortTables(w *Warehouse) {
	sort.Slice(w.Accounts, func(i, j int) bool { return w.Accounts[i].AccountID < w.Accounts[j].AccountID })
	sort.Slice(w.Portfolios, func(i, j int) bool { return w.Portfolios[i].PortfolioID < w.Portfolios[j].PortfolioID })
	sort.Slice(w.Tickers, func(i, j int) bool { return w.Tickers[i].Symbol < w.Tickers[j].Symbol })
	sort.Slice(w.Bars, func(i, j int) bool {
		a, b := w.Bars[i], w.Bars[j]
		if c := strings.Compare(a.Symbol, b.Symbol); c != 0 {
			return c < 0
		}
		return compareTime(a.Date, b.Date) < 0
	})
	sort.Slice(w.Transactions, func(i, j int) bool {
		a, b := w.Transactions[i], w.Transactions[j]
		if c := strings.Compare(a.PortfolioID, b.PortfolioID); c != 0 {
			return c < 0
		}
		if c := strings.Compare(a.Symbol, b.Symbol); c != 0 {
			return c < 0
		}
		if c := compareTime(a.Date, b.Date); c != 0 {
			return c < 0
		}
		return a.SequenceNo < b.SequenceNo
	})
	sort.Slice(w.Actions, func(i, j int) bool {
		a, b := w.Actions[i], w.Actions[j]
		if c := strings.Compare(a.Symbol, b.Symbol); c != 0 {
			return c < 0
		}
		if c := compareTime(a.Date, b.Date); c != 0 {
			return c < 0
		}
		return a.Action < b.Action
	})
}

// New builds a warehouse from tables that are already canonical, such as
// tables read back from storage. Tables are re-sorted and integrity is checked.
func New(accounts []domain.Account, portfolios []domain.Portfolio, tickers []domain.Ticker,
	bars []domain.PriceBar, txns []domain.Transaction, actions []domain.CorporateAction) (*Warehouse, error) {
	wh := &Warehouse{
		Accounts:     accounts,
		Portfolios:   portfolios,
		Tickers:      tickers,
		Bars:         bars,
		Transactions: txns,
		Actions:      actions,
	}
	sortTables(wh)
	wh.index()
	if err := wh.CheckIntegrity(); err != nil {
		return nil, err
	}
	return wh, nil
}
