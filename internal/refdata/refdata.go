// Package refdata supplies the static reference data used to validate
// incoming reports: valid servers grouped by region, the merchant catalog,
// and the appearance-window projection derived from the spawn schedule.
// The data is a read-only in-process cache of an external catalog.
package refdata

import (
	"strings"
	"time"

	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// Merchant is one catalog entry a submission is validated against.
type Merchant struct {
	Name     string
	Region   string
	Zones    []string
	Cards    []model.Card
	Rapports []model.Rapport
}

// Provider answers validity questions about servers and merchant payloads.
type Provider struct {
	serversByRegion map[string][]string
	servers         map[string]struct{}
	merchants       map[string]Merchant // lowercased name
	zoneAliases     map[string]string   // legacy name -> current name, lowercased key

	schedule Schedule
}

// Schedule describes the fixed spawn cadence merchants follow: a window of
// Duration opens every Interval, aligned to the top of the UTC day.
type Schedule struct {
	Interval time.Duration
	Duration time.Duration
}

// DefaultSchedule matches the live game cadence: a 25 minute window every 4 hours.
var DefaultSchedule = Schedule{Interval: 4 * time.Hour, Duration: 25 * time.Minute}

// New builds a provider over the given catalog. Zone aliases map renamed
// locations onto their current names so old clients keep validating.
func New(serversByRegion map[string][]string, merchants []Merchant, zoneAliases map[string]string, schedule Schedule) *Provider {
	p := &Provider{
		serversByRegion: serversByRegion,
		servers:         make(map[string]struct{}),
		merchants:       make(map[string]Merchant, len(merchants)),
		zoneAliases:     make(map[string]string, len(zoneAliases)),
		schedule:        schedule,
	}
	for _, list := range serversByRegion {
		for _, s := range list {
			p.servers[s] = struct{}{}
		}
	}
	for _, m := range merchants {
		p.merchants[strings.ToLower(m.Name)] = m
	}
	for old, current := range zoneAliases {
		p.zoneAliases[strings.ToLower(old)] = current
	}
	return p
}

// ValidServers returns server names grouped by region.
func (p *Provider) ValidServers() map[string][]string { return p.serversByRegion }

// IsValidServer reports whether the server name is a known partition.
func (p *Provider) IsValidServer(server string) bool {
	_, ok := p.servers[server]
	return ok
}

// Merchant looks up a catalog entry by name.
func (p *Provider) Merchant(name string) (Merchant, bool) {
	m, ok := p.merchants[strings.ToLower(name)]
	return m, ok
}

// NormalizeZone maps a legacy zone alias onto its current name. Unknown
// names pass through unchanged.
func (p *Provider) NormalizeZone(zone string) string {
	if current, ok := p.zoneAliases[strings.ToLower(strings.TrimSpace(zone))]; ok {
		return current
	}
	return strings.TrimSpace(zone)
}

// ValidSubmission reports whether the payload references a cataloged
// merchant with a zone, card and rapport that merchant can actually offer.
// The zone must already be normalized.
func (p *Provider) ValidSubmission(in model.SubmissionInput) bool {
	m, ok := p.Merchant(in.MerchantName)
	if !ok {
		return false
	}
	if !containsFold(m.Zones, in.Zone) {
		return false
	}
	if !cardMatches(m.Cards, in.Card) {
		return false
	}
	return rapportMatches(m.Rapports, in.Rapport)
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func cardMatches(cards []model.Card, c model.Card) bool {
	for _, k := range cards {
		if strings.EqualFold(k.Name, c.Name) && k.Rarity == c.Rarity {
			return true
		}
	}
	return false
}

func rapportMatches(rapports []model.Rapport, r model.Rapport) bool {
	for _, k := range rapports {
		if strings.EqualFold(k.Name, r.Name) && k.Rarity == r.Rarity {
			return true
		}
	}
	return false
}

// Window is one projected appearance window.
type Window struct {
	Appearance time.Time
	Expires    time.Time
	Next       time.Time
}

// Active reports whether now falls inside the window.
func (w Window) Active(now time.Time) bool {
	return !now.Before(w.Appearance) && now.Before(w.Expires)
}

// CurrentWindow projects the window containing or most recently preceding
// now. The projection is advisory only: it decides whether a not-yet
// persisted group may accept its first write, it is never authoritative.
func (p *Provider) CurrentWindow(now time.Time) Window {
	interval := p.schedule.Interval
	if interval <= 0 {
		interval = DefaultSchedule.Interval
	}
	duration := p.schedule.Duration
	if duration <= 0 {
		duration = DefaultSchedule.Duration
	}
	dayStart := now.UTC().Truncate(24 * time.Hour)
	elapsed := now.UTC().Sub(dayStart)
	start := dayStart.Add(elapsed.Truncate(interval))
	return Window{
		Appearance: start,
		Expires:    start.Add(duration),
		Next:       start.Add(interval),
	}
}

// ProjectGroup derives an unpersisted group for (server, merchant) if the
// current window is active. Returns false outside any active window.
func (p *Provider) ProjectGroup(server, merchantName string, now time.Time) (model.MerchantGroup, bool) {
	m, ok := p.Merchant(merchantName)
	if !ok {
		return model.MerchantGroup{}, false
	}
	w := p.CurrentWindow(now)
	if !w.Active(now) {
		return model.MerchantGroup{}, false
	}
	return model.MerchantGroup{
		Server:            server,
		MerchantName:      m.Name,
		Appearance:        w.Appearance,
		AppearanceExpires: w.Expires,
		NextAppearance:    w.Next,
	}, true
}
