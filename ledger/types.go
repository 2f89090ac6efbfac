/*
Package ledger provides the clan transaction engine.

PURPOSE:
  Owns every state transition of clan assets: stock trades against the
  market (multi-signature, quorum confirmed) and planet redemption. The
  engine is the only writer of Transaction status.

KEY CONCEPTS IN THIS FILE (types.go):
  - Clan: pooled money, fuel, stocks and owned planets of a team
  - Planet: map node that a clan claims with a secret redeem code
  - Transaction: record of an asset transfer between two Parties
  - Party: tagged counterparty (Clan, Market, Planet)
  - Position: where a clan currently stands (AtPlanet or Home)

DESIGN PRINCIPLES:
  1. Explicit variants: no magic ids ("0" for market, clan id for home)
  2. Versioned documents: every record carries a Version used by the
     store for optimistic writes
  3. Terminal statuses: PENDING -> SUCCESS | REJECT, never back

SEE ALSO:
  - stock.go: Stock trade state machine
  - redeem.go: Planet redemption
  - store.go: Persistence contract
*/
package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClanID string
type PlanetID string
type UserID string
type TransactionID string

// =============================================================================
// PARTY - Counterparty of a transaction
// =============================================================================

type PartyType string

const (
	PartyClan   PartyType = "clan"
	PartyMarket PartyType = "market"
	PartyPlanet PartyType = "planet"
)

// Party identifies one side of a transaction. The market is an infinite
// counterparty and has no id.
type Party struct {
	Type PartyType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

func ClanParty(id ClanID) Party { return Party{Type: PartyClan, ID: string(id)} }
func MarketParty() Party { return Party{Type: PartyMarket} }
func PlanetParty(id PlanetID) Party { return Party{Type: PartyPlanet, ID: string(id)} }

func (p Party) IsClan(id ClanID) bool { return p.Type == PartyClan && p.ID == string(id) }
func (p Party) IsMarket() bool { return p.Type == PartyMarket }

func (p Party) String() string {
	if p.Type == PartyMarket {
		return "market"
	}
	return fmt.Sprintf("%s:%s", p.Type, p.ID)
}

// =============================================================================
// POSITION - Where a clan stands on the map
// =============================================================================

// Position is either Home or AtPlanet(id). The zero value is Home.
type Position struct {
	planet PlanetID
}

func Home() Position { return Position{} }
func AtPlanet(id PlanetID) Position { return Position{planet: id} }
func (p Position) IsHome() bool { return p.planet == "" }
func (p Position) Planet() PlanetID { return p.planet }
func (p Position) IsAt(id PlanetID) bool { return !p.IsHome() && p.planet == id }

type positionJSON struct {
	Home   bool     `json:"home"`
	Planet PlanetID `json:"planet,omitempty"`
}

func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(positionJSON{Home: p.IsHome(), Planet: p.planet})
}

func (p *Position) UnmarshalJSON(data []byte) error {
	var raw positionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Home {
		*p = Home()
		return nil
	}
	*p = AtPlanet(raw.Planet)
	return nil
}

// =============================================================================
// CLAN
// =============================================================================

type ClanProperties struct {
	Money  int64            `json:"money"`
	Fuel   int64            `json:"fuel"`
	Stocks map[string]int64 `json:"stocks"`
}

type Clan struct {
	ID             ClanID         `json:"id"`
	Name           string         `json:"name"`
	Leader         UserID         `json:"leader"`
	Properties     ClanProperties `json:"properties"`
	OwnedPlanetIDs []PlanetID     `json:"owned_planet_ids"`
	Position       Position       `json:"position"`
	Version        int64          `json:"-"`
}

// Holding returns the clan's quantity of symbol (zero when absent).
func (c *Clan) Holding(symbol string) int64 {
	if c.Properties.Stocks == nil {
		return 0
	}
	return c.Properties.Stocks[symbol]
}

func (c *Clan) Owns(id PlanetID) bool {
	return slices.Contains(c.OwnedPlanetIDs, id)
}

// NonNegative reports whether money, fuel and every stock quantity are >= 0.
func (c *Clan) NonNegative() bool {
	if c.Properties.Money < 0 || c.Properties.Fuel < 0 {
		return false
	}
	for _, q := range c.Properties.Stocks {
		if q < 0 {
			return false
		}
	}
	return true
}

func (c *Clan) Clone() *Clan {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Properties.Stocks != nil {
		cp.Properties.Stocks = make(map[string]int64, len(c.Properties.Stocks))
		for k, v := range c.Properties.Stocks {
			cp.Properties.Stocks[k] = v
		}
	}
	cp.OwnedPlanetIDs = slices.Clone(c.OwnedPlanetIDs)
	return &cp
}

// =============================================================================
// PLANET
// =============================================================================

type Planet struct {
	ID      PlanetID `json:"id"`
	Name    string   `json:"name"`
	Owner   *ClanID  `json:"owner"` // nil: unowned
	Visitor int      `json:"visitor"`
	Redeem  string   `json:"redeem,omitempty"`
	Version int64    `json:"-"`
}

func (p *Planet) IsOwned() bool { return p.Owner != nil }
func (p *Planet) OwnedBy(id ClanID) bool { return p.Owner != nil && *p.Owner == id }

func (p *Planet) Clone() *Planet {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Owner != nil {
		owner := *p.Owner
		cp.Owner = &owner
	}
	return &cp
}

// Public returns a copy without the redeem code, safe to broadcast.
func (p *Planet) Public() *Planet {
	cp := p.Clone()
	cp.Redeem = ""
	return cp
}

// =============================================================================
// USER
// =============================================================================

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMod    Role = "mod"
	RoleMember Role = "member"
)

type User struct {
	ID         UserID           `json:"id"`
	Username   string           `json:"username"`
	Role       Role             `json:"role"`
	ClanID     ClanID           `json:"clan_id"`
	Properties map[string]int64 `json:"properties,omitempty"`
	Version    int64            `json:"-"`
}

// Elevated reports whether the user holds an admin or mod role.
func (u *User) Elevated() bool { return u.Role == RoleAdmin || u.Role == RoleMod }
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// =============================================================================
// TRANSACTION
// =============================================================================

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusReject  Status = "REJECT"
)

func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusReject }

type Method string

const (
	MethodBuy  Method = "BUY"
	MethodSell Method = "SELL"
)

// StockItem is the payload of a stock trade. Rate is frozen at creation.
type StockItem struct {
	Symbol string          `json:"symbol"`
	Rate   decimal.Decimal `json:"rate"`
	Amount int64           `json:"amount"`
}

// Total is rate x amount.
func (s StockItem) Total() decimal.Decimal {
	return s.Rate.Mul(decimal.NewFromInt(s.Amount))
}

var maxMoney = decimal.NewFromInt(math.MaxInt64)

// Cost is what a buy debits, the total rounded up. ok is false when the
// cost does not fit in a balance.
func (s StockItem) Cost() (cost int64, ok bool) {
	return toMoney(s.Total().Ceil())
}

// Proceeds is what a sell credits, the total rounded down.
func (s StockItem) Proceeds() (proceeds int64, ok bool) {
	return toMoney(s.Total().Floor())
}

func toMoney(d decimal.Decimal) (int64, bool) {
	if d.IsNegative() || d.GreaterThan(maxMoney) {
		return 0, false
	}
	return d.IntPart(), true
}

// addFits reports whether a+b stays within int64 for non-negative a and b.
func addFits(a, b int64) bool {
	return a <= math.MaxInt64-b
}

// Item is either a stock trade or a planet transfer.
type Item struct {
	Stock   *StockItem `json:"stock,omitempty"`
	Planets []PlanetID `json:"planets,omitempty"`
}

type Transaction struct {
	ID             TransactionID `json:"id"`
	Owner          Party         `json:"owner"`
	Receiver       Party         `json:"receiver"`
	Status         Status        `json:"status"`
	ConfirmRequire int           `json:"confirm_require"`
	Confirmer      []UserID      `json:"confirmer"`
	Rejector       []UserID      `json:"rejector"`
	Item           Item          `json:"item"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Version        int64         `json:"-"`
}

func (t *Transaction) IsStock() bool { return t.Item.Stock != nil }

// ClanSide returns the clan side of the transaction, if any.
func (t *Transaction) ClanSide() (ClanID, bool) {
	if t.Owner.Type == PartyClan {
		return ClanID(t.Owner.ID), true
	}
	if t.Receiver.Type == PartyClan {
		return ClanID(t.Receiver.ID), true
	}
	return "", false
}

// Involves reports whether the clan is the owner or the receiver.
func (t *Transaction) Involves(id ClanID) bool {
	return t.Owner.IsClan(id) || t.Receiver.IsClan(id)
}

// Method derives BUY/SELL from the money direction: the clan pays on BUY.
func (t *Transaction) Method() Method {
	if t.Owner.Type == PartyClan {
		return MethodBuy
	}
	return MethodSell
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Confirmer = slices.Clone(t.Confirmer)
	cp.Rejector = slices.Clone(t.Rejector)
	if t.Item.Stock != nil {
		stock := *t.Item.Stock
		cp.Item.Stock = &stock
	}
	cp.Item.Planets = slices.Clone(t.Item.Planets)
	return &cp
}

// =============================================================================
// STOCK HISTORY - Daily rate snapshot, written by the pricing job
// =============================================================================

type StockHistory struct {
	Date   time.Time       `json:"date"`
	Symbol string          `json:"symbol"`
	Rate   decimal.Decimal `json:"rate"`
}
