/*
redeem.go - Planet redemption

PURPOSE:
  A clan claims an unowned planet by typing the planet's secret code while
  standing on it. Single step, no quorum.

WRONG CODE:
  A wrong code is not a no-op: the planet's visitor counter resets and the
  clan is sent home. Both records are written and broadcast, and the caller
  still receives a denial explaining what happened.

CLAIM:
  Owner of the planet, the clan's owned set and a SUCCESS transaction
  (owner = Clan, receiver = Planet) are written in one store transaction,
  so planet.Owner and clan.OwnedPlanetIDs always agree.
*/
package ledger

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"
)

type RedeemRequest struct {
	Code     string
	PlanetID PlanetID
}

type RedeemResult struct {
	ClanID      ClanID       `json:"clan_id"`
	PlanetIDs   []PlanetID   `json:"planet_id"`
	RedeemCode  string       `json:"redeem_code"`
	Transaction *Transaction `json:"-"`
}

// RedeemService claims planets for clans.
type RedeemService struct {
	Store    TxStore
	Notifier Notifier
	Alerter  Alerter
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewRedeemService(store TxStore, notifier Notifier) *RedeemService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &RedeemService{
		Store:    store,
		Notifier: notifier,
		Alerter:  nopAlerter{},
		Logger:   slog.Default(),
		Now:      time.Now,
	}
}

// Redeem checks req.Code against the planet and claims it for the clan.
// The leader may redeem for the clan; admins and mods may redeem for any
// clan, and admins need not stand on the planet.
func (s *RedeemService) Redeem(ctx context.Context, actor *User, clanID ClanID, req RedeemRequest) (*RedeemResult, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, deny(ErrValidation, "Please enter a code")
	}
	if req.PlanetID == "" {
		return nil, deny(ErrValidation, "planet_id is required")
	}

	var (
		out    outbox
		result *RedeemResult
		denial error
		clan   *Clan
		planet *Planet
	)

	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		clan, err = st.GetClan(ctx, clanID)
		if errors.Is(err, ErrRecordNotFound) {
			return deny(ErrNotFound, "clan not found")
		}
		if err != nil {
			return err
		}

		if clan.Leader != actor.ID && !actor.Elevated() {
			return deny(ErrUnauthorized, "only clan leader can perform this action")
		}

		planet, err = st.GetPlanet(ctx, req.PlanetID)
		if errors.Is(err, ErrRecordNotFound) {
			return deny(ErrNotFound, "Planet not found")
		}
		if err != nil {
			return err
		}

		if !clan.Position.IsAt(planet.ID) && !actor.IsAdmin() {
			return deny(ErrPrecondition, "Your clan is not on this planet")
		}

		if subtle.ConstantTimeCompare([]byte(planet.Redeem), []byte(code)) != 1 {
			planet.Visitor = 0
			clan.Position = Home()
			if err := st.SavePlanet(ctx, planet); err != nil {
				return err
			}
			if err := st.SaveClan(ctx, clan); err != nil {
				return err
			}
			out.add(EventClan, string(clan.ID), clan)
			out.add(EventPlanet, string(planet.ID), planet.Public())
			denial = deny(ErrPrecondition, "Your code is incorrect. You will be teleported to your home planet.")
			return nil
		}

		if planet.OwnedBy(clan.ID) {
			return deny(ErrPrecondition, "You already own this planet")
		}
		if planet.IsOwned() {
			return deny(ErrPrecondition, "This planet has owner")
		}

		now := s.Now()
		tx := &Transaction{
			ID:        NewTransactionID(),
			Owner:     ClanParty(clan.ID),
			Receiver:  PlanetParty(planet.ID),
			Status:    StatusSuccess,
			Confirmer: []UserID{},
			Rejector:  []UserID{},
			Item:      Item{Planets: []PlanetID{planet.ID}},
			CreatedAt: now,
			UpdatedAt: now,
		}

		owner := clan.ID
		clan.OwnedPlanetIDs = append(clan.OwnedPlanetIDs, planet.ID)
		clan.Position = Home()
		planet.Owner = &owner
		planet.Visitor = 0

		if err := st.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		if err := st.SaveClan(ctx, clan); err != nil {
			return err
		}
		if err := st.SavePlanet(ctx, planet); err != nil {
			return err
		}

		out.add(EventClan, string(clan.ID), clan)
		out.add(EventPlanet, string(planet.ID), planet.Public())
		out.add(EventTransaction, string(clan.ID), tx)

		result = &RedeemResult{
			ClanID:      clan.ID,
			PlanetIDs:   tx.Item.Planets,
			RedeemCode:  code,
			Transaction: tx,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.flush(s.Notifier)
	if denial != nil {
		s.Logger.Info("redeem code rejected, clan sent home", "clan", clanID, "planet", req.PlanetID, "by", actor.ID)
		return nil, denial
	}

	s.Logger.Info("planet claimed", "clan", clanID, "planet", planet.ID, "tx", result.Transaction.ID)
	s.Alerter.PlanetClaimed(ctx, clan, planet.Public())
	return result, nil
}
