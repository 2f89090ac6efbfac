package alert_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshy/clanwars/alert"
	"github.com/freshy/clanwars/ledger"
)

type payload struct {
	Embeds []struct {
		Title  string `json:"title"`
		Fields []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"fields"`
	} `json:"embeds"`
}

func webhook(t *testing.T, status int) (*httptest.Server, chan payload) {
	t.Helper()
	got := make(chan payload, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		got <- p
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch chan payload) payload {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
		return payload{}
	}
}

func TestDiscord_TradeSettled(t *testing.T) {
	srv, got := webhook(t, http.StatusNoContent)
	d := alert.NewDiscord(srv.URL, quietLogger())

	clan := &ledger.Clan{ID: "andromeda", Name: "Andromeda", Properties: ledger.ClanProperties{Money: 1234567}}
	tx := &ledger.Transaction{
		Owner:    ledger.ClanParty("andromeda"),
		Receiver: ledger.MarketParty(),
		Item:     ledger.Item{Stock: &ledger.StockItem{Symbol: "MINT", Rate: decimal.NewFromInt(10), Amount: 2500}},
	}

	d.TradeSettled(context.Background(), clan, tx)
	d.Wait()

	p := receive(t, got)
	require.Len(t, p.Embeds, 1)
	assert.Contains(t, p.Embeds[0].Title, "Andromeda buy")

	values := map[string]string{}
	for _, f := range p.Embeds[0].Fields {
		values[f.Name] = f.Value
	}
	assert.Equal(t, "MINT", values[":bar_chart: Symbol"])
	assert.Equal(t, "2,500", values[":package: Amount"])
	assert.Equal(t, "1,234,567", values[":bank: Clan money"])
}

func TestDiscord_PlanetClaimed(t *testing.T) {
	srv, got := webhook(t, http.StatusOK)
	d := alert.NewDiscord(srv.URL, quietLogger())

	clan := &ledger.Clan{ID: "andromeda", OwnedPlanetIDs: []ledger.PlanetID{"p-1", "p-2"}}
	d.PlanetClaimed(context.Background(), clan, &ledger.Planet{ID: "p-2", Name: "Vega"})
	d.Wait()

	p := receive(t, got)
	assert.Contains(t, p.Embeds[0].Title, "andromeda claimed Vega")
}

func TestDiscord_FailuresAreSwallowed(t *testing.T) {
	// No webhook configured
	d := alert.NewDiscord("", quietLogger())
	d.PlanetClaimed(context.Background(), &ledger.Clan{ID: "a"}, &ledger.Planet{ID: "p"})
	d.Wait()

	// Webhook answers with an error
	srv, got := webhook(t, http.StatusInternalServerError)
	d = alert.NewDiscord(srv.URL, quietLogger())
	d.PlanetClaimed(context.Background(), &ledger.Clan{ID: "a"}, &ledger.Planet{ID: "p"})
	d.Wait()
	receive(t, got)

	// Stock alerts without a stock item are ignored
	d.TradeSettled(context.Background(), &ledger.Clan{ID: "a"}, &ledger.Transaction{})
	d.Wait()
	assert.Empty(t, got)
}
