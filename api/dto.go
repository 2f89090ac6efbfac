/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Engine types are
  returned as-is inside the envelope; this file holds request bodies, the
  envelope and denial shapes, and a few read-model wrappers.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

ENVELOPES:
  Success:  {"success": true, "data": ..., "timestamp": "..."}
  Denial:   {"message": "Your code is incorrect. ..."}

VALIDATION:
  Validation is done by the engine, not in DTOs. Numeric fields are
  accepted as JSON numbers or strings and handed to the engine as text, so
  "abc" and 1.5 get the engine's own messages.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/freshy/clanwars/ledger"
)

// =============================================================================
// ENVELOPES
// =============================================================================

// Envelope wraps every successful (and "empty") read response.
type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// DenialResponse is the body of every non-2xx response.
type DenialResponse struct {
	Message string `json:"message"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// NumberText accepts a JSON number, a JSON string or null and keeps the
// text form.
type NumberText string

func (n *NumberText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NumberText(s)
		return nil
	}
	*n = NumberText(data)
	return nil
}

// StockOrderRequest is the body of POST /clans/{id}/transfer/stock.
type StockOrderRequest struct {
	Method string     `json:"method"`
	Symbol string     `json:"symbol"`
	Amount NumberText `json:"amount"`
}

// VoteRequest is the body of PATCH and DELETE /clans/{id}/transfer/stock.
type VoteRequest struct {
	TransactionID string `json:"transaction_id"`
}

// RedeemRequest is the body of POST /clans/{id}/transfer/redeem.
type RedeemRequest struct {
	Code     string `json:"code"`
	PlanetID string `json:"planet_id"`
}

// StockRateRequest is the body of PUT /admin/stocks/{symbol}.
type StockRateRequest struct {
	Rate NumberText `json:"rate"`
	Date string     `json:"date,omitempty"` // 2006-01-02, market day when empty
}

// LoadScenarioRequest selects a demo world.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ScenarioDTO describes a demo world.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// StockRateDTO is the stored rate of a symbol for a day.
type StockRateDTO struct {
	Symbol string `json:"symbol"`
	Date   string `json:"date"`
	Rate   string `json:"rate"`
}

// UserDTO is a user as shown to other players.
type UserDTO struct {
	ID       ledger.UserID `json:"id"`
	Username string        `json:"username"`
	Role     ledger.Role   `json:"role"`
	ClanID   ledger.ClanID `json:"clan_id,omitempty"`
}

func toUserDTO(u *ledger.User) UserDTO {
	return UserDTO{ID: u.ID, Username: u.Username, Role: u.Role, ClanID: u.ClanID}
}

// HealthDTO is the body of GET /health.
type HealthDTO struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Clients int    `json:"clients"`
}
