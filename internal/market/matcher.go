package market

import (
	"slices"
	"strings"
	"time"

	"github.com/escrow-marketplace/backend/internal/fill"
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/gagliardetto/solana-go"
)

type Filter struct {
	TradeType TradeType         // empty = any classified type
	Currency  *solana.PublicKey // currency side must be this mint
	Class     string            // item side class, case-insensitive
	Search    string            // address/name/symbol substring
}

// Viewer is the user the listing is rendered for. Balances are raw amounts
// keyed by mint; the native mint entry covers native plus wrapped balance.
type Viewer struct {
	Wallet   solana.PublicKey
	Balances map[solana.PublicKey]uint64
}

type Listing struct {
	Escrow    models.Escrow `json:"escrow"`
	TradeType TradeType     `json:"trade_type"`
	Class     string        `json:"class,omitempty"`
	Fillable  bool          `json:"fillable"`
}

type Matcher struct {
	sf         *models.Storefront
	collection map[solana.PublicKey]struct{}
	currencies map[solana.PublicKey]struct{}
	now        func() time.Time
}

func NewMatcher(sf *models.Storefront) *Matcher {
	return &Matcher{
		sf:         sf,
		collection: sf.CollectionSet(),
		currencies: mintSet(sf.Currencies()),
		now:        time.Now,
	}
}

// Match runs the listing pipeline in its fixed order: collection, active,
// trade type, class, search, then a stable fillable-first sort.
func (m *Matcher) Match(escrows []models.Escrow, f Filter, viewer *Viewer) []Listing {
	now := m.now()
	query := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]Listing, 0, len(escrows))
	for _, e := range escrows {
		if !m.inCollection(e) {
			continue
		}
		if e.Status(now) != models.EscrowStatusActive {
			continue
		}
		tt := ClassifyTradeType(e.DepositToken.Mint, e.RequestToken.Mint, m.collection, m.currencies)
		if tt == TradeTypeNone {
			continue
		}
		if f.TradeType != TradeTypeNone && tt != f.TradeType {
			continue
		}
		if f.Currency != nil && !m.hasCurrency(e, *f.Currency) {
			continue
		}
		class := m.classOf(e)
		if f.Class != "" && !strings.EqualFold(class, f.Class) {
			continue
		}
		if query != "" && !matchesSearch(e, query) {
			continue
		}
		l := Listing{Escrow: e, TradeType: tt, Class: class}
		if viewer != nil {
			l.Fillable = IsFillable(e, *viewer, now)
		}
		out = append(out, l)
	}

	if viewer != nil {
		slices.SortStableFunc(out, func(a, b Listing) int {
			switch {
			case a.Fillable == b.Fillable:
				return 0
			case a.Fillable:
				return -1
			default:
				return 1
			}
		})
	}
	return out
}

// inCollection keeps escrows with at least one side in the collection or
// both sides in the storefront's currencies.
func (m *Matcher) inCollection(e models.Escrow) bool {
	_, dep := m.collection[e.DepositToken.Mint]
	_, req := m.collection[e.RequestToken.Mint]
	if dep || req {
		return true
	}
	_, depCur := m.currencies[e.DepositToken.Mint]
	_, reqCur := m.currencies[e.RequestToken.Mint]
	return depCur && reqCur
}

func (m *Matcher) hasCurrency(e models.Escrow, currency solana.PublicKey) bool {
	for _, side := range []solana.PublicKey{e.DepositToken.Mint, e.RequestToken.Mint} {
		if _, ok := m.currencies[side]; ok && side.Equals(currency) {
			return true
		}
	}
	return false
}

// classOf returns the class of the item side; deposit wins for item-for-item trades.
func (m *Matcher) classOf(e models.Escrow) string {
	for _, side := range []solana.PublicKey{e.DepositToken.Mint, e.RequestToken.Mint} {
		if _, ok := m.collection[side]; ok {
			if c := m.sf.ItemClass(side); c != "" {
				return c
			}
		}
	}
	return ""
}

func matchesSearch(e models.Escrow, query string) bool {
	fields := []string{
		e.ID.String(),
		e.DepositToken.Mint.String(),
		e.RequestToken.Mint.String(),
		e.DepositToken.Name,
		e.DepositToken.Symbol,
		e.RequestToken.Name,
		e.RequestToken.Symbol,
	}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}

// IsFillable reports whether viewer can fill e right now.
func IsFillable(e models.Escrow, viewer Viewer, now time.Time) bool {
	if e.Status(now) != models.EscrowStatusActive {
		return false
	}
	if viewer.Wallet.Equals(e.Maker) {
		return false
	}
	if r, reserved := e.ReservedFor(); reserved && !r.Equals(viewer.Wallet) {
		return false
	}
	return fill.FromEscrow(e).CanFill(viewer.Balances[e.RequestToken.Mint])
}
