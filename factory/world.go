/*
Package factory provides YAML to Go world conversion.

PURPOSE:
  Converts YAML world definitions into ledger records: clans, planets,
  users and the day's stock rates. Used to seed a fresh store at startup
  and by the demo scenarios.

YAML SCHEMA:
  clans:
    - id: andromeda
      name: Andromeda
      leader: u-alice
      money: 1000
      fuel: 20
      stocks: {MINT: 0}
      at: p-proxima            # omit for home
  planets:
    - id: p-proxima
      name: Proxima
      redeem: ALPHA
      visitor: 3
      owner: andromeda         # omit for unowned
  users:
    - id: u-alice
      username: alice
      role: member             # admin | mod | member
      clan: andromeda
  stocks:
    - symbol: MINT
      rate: "10"
      date: 2024-03-01         # omit for the load day

KEY FEATURES:
  - Validates references (leader, clan, owner, position) before writing
  - Owned planets are mirrored into the owner's owned_planet_ids
  - All records are written in one store transaction

USAGE:
  world, err := factory.ParseWorld(data)
  err = factory.NewWorldFactory().Load(ctx, store, world, hours.Day(time.Now()))

SEE ALSO:
  - api/scenarios.go: Built-in demo worlds
*/
package factory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/freshy/clanwars/ledger"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// WorldYAML is the YAML representation of a world.
type WorldYAML struct {
	Clans   []ClanYAML   `yaml:"clans"`
	Planets []PlanetYAML `yaml:"planets"`
	Users   []UserYAML   `yaml:"users"`
	Stocks  []StockYAML  `yaml:"stocks"`
}

type ClanYAML struct {
	ID     string           `yaml:"id"`
	Name   string           `yaml:"name"`
	Leader string           `yaml:"leader"`
	Money  int64            `yaml:"money"`
	Fuel   int64            `yaml:"fuel"`
	Stocks map[string]int64 `yaml:"stocks,omitempty"`
	At     string           `yaml:"at,omitempty"`
}

type PlanetYAML struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Redeem  string `yaml:"redeem"`
	Visitor int    `yaml:"visitor,omitempty"`
	Owner   string `yaml:"owner,omitempty"`
}

type UserYAML struct {
	ID         string           `yaml:"id"`
	Username   string           `yaml:"username"`
	Role       string           `yaml:"role,omitempty"`
	Clan       string           `yaml:"clan,omitempty"`
	Properties map[string]int64 `yaml:"properties,omitempty"`
}

type StockYAML struct {
	Symbol string `yaml:"symbol"`
	Rate   string `yaml:"rate"`
	Date   string `yaml:"date,omitempty"` // 2006-01-02
}

// World is a validated set of records ready to be written.
type World struct {
	Clans   []*ledger.Clan
	Planets []*ledger.Planet
	Users   []*ledger.User
	Stocks  []WorldStock
}

// WorldStock is a rate whose Date may be zero, meaning the load day.
type WorldStock struct {
	Symbol string
	Rate   decimal.Decimal
	Date   time.Time
}

// =============================================================================
// WORLD FACTORY
// =============================================================================

// WorldFactory converts YAML worlds into ledger records.
type WorldFactory struct {
	// Location interprets stock dates. Defaults to UTC.
	Location *time.Location
}

// NewWorldFactory creates a new world factory.
func NewWorldFactory() *WorldFactory {
	return &WorldFactory{Location: time.UTC}
}

// ParseWorld parses a YAML document with the default factory.
func ParseWorld(data []byte) (*World, error) {
	return NewWorldFactory().Parse(data)
}

// ReadWorld parses the YAML file at path.
func (f *WorldFactory) ReadWorld(path string) (*World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("factory: read %q: %w", path, err)
	}
	return f.Parse(data)
}

// Parse parses a YAML string into a World.
func (f *WorldFactory) Parse(data []byte) (*World, error) {
	var wy WorldYAML
	if err := yaml.Unmarshal(data, &wy); err != nil {
		return nil, fmt.Errorf("failed to parse world YAML: %w", err)
	}
	return f.FromYAML(wy)
}

// FromYAML converts and cross-checks a WorldYAML.
func (f *WorldFactory) FromYAML(wy WorldYAML) (*World, error) {
	w := &World{}

	clans := make(map[ledger.ClanID]*ledger.Clan, len(wy.Clans))
	for _, cy := range wy.Clans {
		if cy.ID == "" {
			return nil, fmt.Errorf("clan without id")
		}
		if _, dup := clans[ledger.ClanID(cy.ID)]; dup {
			return nil, fmt.Errorf("duplicate clan %q", cy.ID)
		}
		c := &ledger.Clan{
			ID:     ledger.ClanID(cy.ID),
			Name:   cy.Name,
			Leader: ledger.UserID(cy.Leader),
			Properties: ledger.ClanProperties{
				Money:  cy.Money,
				Fuel:   cy.Fuel,
				Stocks: normalizeStocks(cy.Stocks),
			},
			OwnedPlanetIDs: []ledger.PlanetID{},
			Position:       ledger.Home(),
		}
		if cy.At != "" {
			c.Position = ledger.AtPlanet(ledger.PlanetID(cy.At))
		}
		if !c.NonNegative() {
			return nil, fmt.Errorf("clan %q has a negative balance", cy.ID)
		}
		clans[c.ID] = c
		w.Clans = append(w.Clans, c)
	}

	planets := make(map[ledger.PlanetID]bool, len(wy.Planets))
	for _, py := range wy.Planets {
		if py.ID == "" {
			return nil, fmt.Errorf("planet without id")
		}
		p := &ledger.Planet{
			ID:      ledger.PlanetID(py.ID),
			Name:    py.Name,
			Redeem:  py.Redeem,
			Visitor: py.Visitor,
		}
		if py.Owner != "" {
			owner, ok := clans[ledger.ClanID(py.Owner)]
			if !ok {
				return nil, fmt.Errorf("planet %q: unknown owner clan %q", py.ID, py.Owner)
			}
			id := owner.ID
			p.Owner = &id
			owner.OwnedPlanetIDs = append(owner.OwnedPlanetIDs, p.ID)
		}
		planets[p.ID] = true
		w.Planets = append(w.Planets, p)
	}

	for _, c := range w.Clans {
		if planet := c.Position.Planet(); planet != "" && !planets[planet] {
			return nil, fmt.Errorf("clan %q is at unknown planet %q", c.ID, planet)
		}
	}

	members := make(map[ledger.UserID]ledger.ClanID, len(wy.Users))
	for _, uy := range wy.Users {
		if uy.ID == "" || uy.Username == "" {
			return nil, fmt.Errorf("user needs id and username")
		}
		role, err := parseRole(uy.Role)
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", uy.ID, err)
		}
		u := &ledger.User{
			ID:         ledger.UserID(uy.ID),
			Username:   uy.Username,
			Role:       role,
			ClanID:     ledger.ClanID(uy.Clan),
			Properties: uy.Properties,
		}
		if u.Properties == nil {
			u.Properties = map[string]int64{}
		}
		if u.ClanID != "" {
			if _, ok := clans[u.ClanID]; !ok {
				return nil, fmt.Errorf("user %q: unknown clan %q", uy.ID, uy.Clan)
			}
		}
		members[u.ID] = u.ClanID
		w.Users = append(w.Users, u)
	}

	for _, c := range w.Clans {
		if c.Leader == "" {
			continue
		}
		clan, ok := members[c.Leader]
		if !ok {
			return nil, fmt.Errorf("clan %q: unknown leader %q", c.ID, c.Leader)
		}
		if clan != c.ID {
			return nil, fmt.Errorf("clan %q: leader %q belongs to %q", c.ID, c.Leader, clan)
		}
	}

	for _, sy := range wy.Stocks {
		s, err := f.parseStock(sy)
		if err != nil {
			return nil, err
		}
		w.Stocks = append(w.Stocks, s)
	}

	return w, nil
}

// Load writes the world into store in one transaction. With reset set the
// store is emptied first. Stocks without a date are priced on day.
func (f *WorldFactory) Load(ctx context.Context, store ledger.TxStore, w *World, day time.Time, reset bool) error {
	return store.WithTx(ctx, func(st ledger.Store) error {
		if reset {
			if err := st.Reset(ctx); err != nil {
				return err
			}
		}
		for _, c := range w.Clans {
			if err := st.CreateClan(ctx, c.Clone()); err != nil {
				return fmt.Errorf("create clan %s: %w", c.ID, err)
			}
		}
		for _, p := range w.Planets {
			if err := st.CreatePlanet(ctx, p.Clone()); err != nil {
				return fmt.Errorf("create planet %s: %w", p.ID, err)
			}
		}
		for _, u := range w.Users {
			user := *u
			if err := st.CreateUser(ctx, &user); err != nil {
				return fmt.Errorf("create user %s: %w", u.ID, err)
			}
		}
		for _, s := range w.Stocks {
			date := s.Date
			if date.IsZero() {
				date = day
			}
			if err := st.SaveStockRate(ctx, ledger.StockHistory{Date: date, Symbol: s.Symbol, Rate: s.Rate}); err != nil {
				return fmt.Errorf("save rate %s: %w", s.Symbol, err)
			}
		}
		return nil
	})
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func (f *WorldFactory) parseStock(sy StockYAML) (WorldStock, error) {
	symbol := strings.ToUpper(strings.TrimSpace(sy.Symbol))
	if symbol == "" {
		return WorldStock{}, fmt.Errorf("stock without symbol")
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(sy.Rate))
	if err != nil {
		return WorldStock{}, fmt.Errorf("stock %s: invalid rate %q: %w", symbol, sy.Rate, err)
	}
	if !rate.IsPositive() {
		return WorldStock{}, fmt.Errorf("stock %s: rate must be positive", symbol)
	}

	s := WorldStock{Symbol: symbol, Rate: rate}
	if sy.Date != "" {
		loc := f.Location
		if loc == nil {
			loc = time.UTC
		}
		d, err := time.ParseInLocation("2006-01-02", sy.Date, loc)
		if err != nil {
			return WorldStock{}, fmt.Errorf("stock %s: invalid date format: %w", symbol, err)
		}
		s.Date = d
	}
	return s, nil
}

func parseRole(s string) (ledger.Role, error) {
	role := ledger.Role(strings.ToLower(strings.TrimSpace(s)))
	if role == "" {
		return ledger.RoleMember, nil
	}
	if !slices.Contains([]ledger.Role{ledger.RoleAdmin, ledger.RoleMod, ledger.RoleMember}, role) {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}

func normalizeStocks(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for symbol, n := range in {
		out[strings.ToUpper(symbol)] = n
	}
	return out
}
