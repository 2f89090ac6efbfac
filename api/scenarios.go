/*
scenarios.go - Demo worlds for testing and demonstrations

PURPOSE:

	Provides pre-built worlds that populate the store with clans, planets,
	players and today's stock rates, so the trading and redeem flows can be
	tried without an admin console.

AVAILABLE SCENARIOS:

	quickstart:   One clan of four, five priced symbols, two free planets
	rivals:       Two clans, one planet already owned, both clans in orbit
	thin-wallet:  A clan that can afford exactly one small trade

HOW SCENARIOS WORK:
 1. Parse the world YAML via factory
 2. Reset the store and write the world in one transaction
 3. Price stocks without a date on the current market day

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "rivals"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Add the YAML world to 'scenarioWorlds'

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
	Every world keeps the u-admin account so the caller stays logged in.

SEE ALSO:
  - handlers.go: Handler context
  - factory/world.go: World YAML schema
*/
package api

import (
	"context"
	"fmt"
	"net/http"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "quickstart",
		Name:        "Quickstart",
		Description: "One clan of four players, every symbol priced, two unclaimed planets",
	},
	{
		ID:          "rivals",
		Name:        "Rivals",
		Description: "Two clans in orbit, one planet already taken",
	},
	{
		ID:          "thin-wallet",
		Name:        "Thin Wallet",
		Description: "A clan with just enough money for one small trade",
	},
}

const adminUser = `
  - {id: u-admin, username: admin, role: admin}
  - {id: u-mod, username: mod, role: mod}
`

var scenarioWorlds = map[string]string{
	"quickstart": `
clans:
  - {id: andromeda, name: Andromeda, leader: u-alice, money: 1000, fuel: 20, stocks: {MINT: 0}, at: p-proxima}
planets:
  - {id: p-proxima, name: Proxima, redeem: ALPHA}
  - {id: p-vega, name: Vega, redeem: BETA}
users:
  - {id: u-alice, username: alice, clan: andromeda}
  - {id: u-bob, username: bob, clan: andromeda}
  - {id: u-carol, username: carol, clan: andromeda}
  - {id: u-dave, username: dave, clan: andromeda}` + adminUser + `
stocks:
  - {symbol: MINT, rate: "10"}
  - {symbol: ECML, rate: "25"}
  - {symbol: HCA, rate: "7.5"}
  - {symbol: LING, rate: "40"}
  - {symbol: MALP, rate: "3"}
`,
	"rivals": `
clans:
  - {id: andromeda, name: Andromeda, leader: u-alice, money: 2000, at: p-sirius}
  - {id: orion, name: Orion, leader: u-olga, money: 1500, stocks: {MINT: 50}, at: p-vega}
planets:
  - {id: p-sirius, name: Sirius, redeem: DOG}
  - {id: p-vega, name: Vega, redeem: BETA, owner: andromeda}
users:
  - {id: u-alice, username: alice, clan: andromeda}
  - {id: u-bob, username: bob, clan: andromeda}
  - {id: u-carol, username: carol, clan: andromeda}
  - {id: u-dave, username: dave, clan: andromeda}
  - {id: u-olga, username: olga, clan: orion}
  - {id: u-pete, username: pete, clan: orion}
  - {id: u-quinn, username: quinn, clan: orion}
  - {id: u-rosa, username: rosa, clan: orion}` + adminUser + `
stocks:
  - {symbol: MINT, rate: "12"}
  - {symbol: ECML, rate: "20"}
`,
	"thin-wallet": `
clans:
  - {id: andromeda, name: Andromeda, leader: u-alice, money: 120}
planets:
  - {id: p-proxima, name: Proxima, redeem: ALPHA}
users:
  - {id: u-alice, username: alice, clan: andromeda}
  - {id: u-bob, username: bob, clan: andromeda}
  - {id: u-carol, username: carol, clan: andromeda}
  - {id: u-dave, username: dave, clan: andromeda}` + adminUser + `
stocks:
  - {symbol: MINT, rate: "10"}
`,
}

// ListScenarios returns all available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	h.writeEnvelope(w, http.StatusOK, true, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			h.writeEnvelope(w, http.StatusOK, true, s)
			return
		}
	}
	h.writeEnvelope(w, http.StatusOK, false, nil)
}

// LoadScenario resets the store and loads a predefined world.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if _, known := scenarioWorlds[req.ScenarioID]; !known {
			h.writeDenial(w, http.StatusBadRequest, "Unknown scenario")
			return
		}
		h.Logger.Error("load scenario", "scenario", req.ScenarioID, "err", err)
		h.writeDenial(w, http.StatusInternalServerError, "Failed to load scenario")
		return
	}

	h.writeEnvelope(w, http.StatusOK, true, map[string]string{
		"status":   "ok",
		"scenario": req.ScenarioID,
	})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	doc, ok := scenarioWorlds[id]
	if !ok {
		return fmt.Errorf("unknown scenario %q", id)
	}
	world, err := h.Worlds.Parse([]byte(doc))
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Worlds.Load(ctx, h.Store, world, h.Stocks.Config.Hours.Day(h.now()), true); err != nil {
		return err
	}
	h.currentScenario = id
	h.Logger.Info("scenario loaded", "scenario", id)
	return nil
}
