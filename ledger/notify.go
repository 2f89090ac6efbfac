package ledger

import "context"

// Event names pushed to connected clients.
type Event string

const (
	EventClan        Event = "set.clan"
	EventPlanet      Event = "set.planet"
	EventTransaction Event = "set.transaction"
	EventTaskStock   Event = "set.task.stock"
	EventClanMoney   Event = "set.clan.money"
	EventClanStock   Event = "set.clan.stock"
)

// Notifier publishes state changes. Emit must not block; delivery is
// best-effort and at most once.
type Notifier interface {
	Emit(event Event, subjectID string, payload any)
}

// Alerter sends out-of-game announcements. Failures are the
// implementation's concern and never reach the engine.
type Alerter interface {
	TradeSettled(ctx context.Context, clan *Clan, tx *Transaction)
	PlanetClaimed(ctx context.Context, clan *Clan, planet *Planet)
}

type nopNotifier struct{}

func (nopNotifier) Emit(Event, string, any) {}

type nopAlerter struct{}

func (nopAlerter) TradeSettled(context.Context, *Clan, *Transaction) {}
func (nopAlerter) PlanetClaimed(context.Context, *Clan, *Planet)     {}

// outbox collects events during a store transaction so they are emitted
// only after the writes commit.
type outbox struct {
	events []emission
}

type emission struct {
	event   Event
	subject string
	payload any
}

func (o *outbox) add(event Event, subject string, payload any) {
	o.events = append(o.events, emission{event: event, subject: subject, payload: payload})
}

func (o *outbox) flush(n Notifier) {
	for _, e := range o.events {
		n.Emit(e.event, e.subject, e.payload)
	}
	o.events = nil
}
