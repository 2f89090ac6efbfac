/*
Package alert announces game events on a Discord channel.

PURPOSE:
  Implements ledger.Alerter by posting webhook embeds. Alerts are
  best-effort: a missing webhook, a rate-limited burst or an HTTP failure
  is logged and swallowed, never returned to the engine.

EMBED LAYOUT:
  Title, a colored bar, inline fields and a timestamp. Money and share
  counts are comma grouped (1,234,567).
*/
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/freshy/clanwars/ledger"
)

const embedColor = 3286641

// Discord posts embeds to a webhook URL.
type Discord struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
	wg         sync.WaitGroup
}

var _ ledger.Alerter = (*Discord)(nil)

// NewDiscord creates a dispatcher. An empty webhookURL disables posting.
// Discord allows roughly 30 webhook calls a minute; the limiter stays below.
func NewDiscord(webhookURL string, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 5),
		logger:     logger,
		now:        time.Now,
	}
}

type webhookPayload struct {
	Content string  `json:"content"`
	Embeds  []embed `json:"embeds"`
}

type embed struct {
	Title     string       `json:"title"`
	Color     int          `json:"color"`
	Fields    []embedField `json:"fields"`
	Timestamp time.Time    `json:"timestamp"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// TradeSettled announces a completed stock trade.
func (d *Discord) TradeSettled(ctx context.Context, clan *ledger.Clan, tx *ledger.Transaction) {
	if tx.Item.Stock == nil {
		return
	}
	item := tx.Item.Stock
	d.send(ctx, embed{
		Title: fmt.Sprintf(":chart_with_upwards_trend: %s %s", clanLabel(clan), strings.ToLower(string(tx.Method()))),
		Color: embedColor,
		Fields: []embedField{
			{Name: ":bar_chart: Symbol", Value: item.Symbol, Inline: true},
			{Name: ":package: Amount", Value: humanize.Comma(item.Amount), Inline: true},
			{Name: ":moneybag: Rate", Value: item.Rate.String(), Inline: true},
			{Name: ":bank: Clan money", Value: humanize.Comma(clan.Properties.Money), Inline: true},
		},
		Timestamp: d.now(),
	})
}

// PlanetClaimed announces a successful redemption.
func (d *Discord) PlanetClaimed(ctx context.Context, clan *ledger.Clan, planet *ledger.Planet) {
	d.send(ctx, embed{
		Title: fmt.Sprintf(":fireworks: %s claimed %s", clanLabel(clan), planetLabel(planet)),
		Color: embedColor,
		Fields: []embedField{
			{Name: ":crossed_swords: Clan", Value: clanLabel(clan), Inline: true},
			{Name: ":star: Planet", Value: planetLabel(planet), Inline: true},
			{Name: ":earth_asia: Planets owned", Value: humanize.Comma(int64(len(clan.OwnedPlanetIDs))), Inline: true},
		},
		Timestamp: d.now(),
	})
}

// Wait blocks until every in-flight notification finished.
func (d *Discord) Wait() {
	d.wg.Wait()
}

// send posts in the background so the caller never waits on Discord.
func (d *Discord) send(ctx context.Context, e embed) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.post(ctx, e)
	}()
}

func (d *Discord) post(ctx context.Context, e embed) {
	if d.webhookURL == "" {
		d.logger.Info("alert: discord notification skipped, DISCORD_WEBHOOK is not set", "title", e.Title)
		return
	}
	if !d.limiter.Allow() {
		d.logger.Warn("alert: rate limited, dropping notification", "title", e.Title)
		return
	}

	body, err := json.Marshal(webhookPayload{Content: "", Embeds: []embed{e}})
	if err != nil {
		d.logger.Error("alert: encode payload", "err", err)
		return
	}

	// The request outlives the API call that triggered it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("alert: build request", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("alert: webhook post failed", "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		d.logger.Warn("alert: webhook rejected notification", "status", resp.StatusCode)
	}
}

func clanLabel(c *ledger.Clan) string {
	if c.Name != "" {
		return c.Name
	}
	return string(c.ID)
}

func planetLabel(p *ledger.Planet) string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.ID)
}
