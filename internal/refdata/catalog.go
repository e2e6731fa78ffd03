package refdata

import "github.com/wanderers-live/merchant-tracker/internal/model"

// DefaultServers lists the live server partitions grouped by region.
var DefaultServers = map[string][]string{
	"North America East": {"Una", "Azena", "Regulus", "Avesta"},
	"North America West": {"Mari", "Valtan", "Enviska"},
	"Europe Central":     {"Neria", "Kadan", "Trixion", "Zinnervale"},
	"South America":      {"Kazeros", "Agaton"},
}

// DefaultZoneAliases maps zone names that were renamed in a game patch onto
// their current catalog names. Old clients still send the legacy names.
var DefaultZoneAliases = map[string]string{
	"D'Certa Plateau":   "Decerta Plateau",
	"Bitterwind Hill":   "Bitterwind Cliff",
	"Mount Autumncrown": "Autumncrown Peak",
}

// DefaultMerchants is the wandering merchant catalog: who can appear where
// and what they can offer. Kept small here; the live list is loaded the
// same way from the catalog dump.
var DefaultMerchants = []Merchant{
	{
		Name:   "Ben",
		Region: "Yudia",
		Zones:  []string{"Sapira Cave", "Solar Fields", "Decerta Plateau"},
		Cards: []model.Card{
			{Name: "Siera", Rarity: RarityOf(1)},
			{Name: "Morina", Rarity: RarityOf(2)},
			{Name: "Wei", Rarity: RarityOf(4)},
		},
		Rapports: []model.Rapport{
			{Name: "Stalwart Shield", Rarity: RarityOf(2)},
			{Name: "Nineveh", Rarity: RarityOf(4)},
		},
	},
	{
		Name:   "Lucas",
		Region: "West Luterra",
		Zones:  []string{"Bitterwind Cliff", "Battlebound Plains", "Reddusk Outskirts"},
		Cards: []model.Card{
			{Name: "Cadogan", Rarity: RarityOf(2)},
			{Name: "Thirain", Rarity: RarityOf(3)},
			{Name: "Seria", Rarity: RarityOf(4)},
		},
		Rapports: []model.Rapport{
			{Name: "Luterran Sword", Rarity: RarityOf(2)},
			{Name: "Sian", Rarity: RarityOf(4)},
		},
	},
	{
		Name:   "Malone",
		Region: "Anikka",
		Zones:  []string{"Delphi Township", "Autumncrown Peak", "Twilight Mists"},
		Cards: []model.Card{
			{Name: "Ember", Rarity: RarityOf(1)},
			{Name: "Yom", Rarity: RarityOf(3)},
			{Name: "Kharmine", Rarity: RarityOf(4)},
		},
		Rapports: []model.Rapport{
			{Name: "Anikkan Pottery", Rarity: RarityOf(1)},
			{Name: "Mokoko Charm", Rarity: RarityOf(3)},
		},
	},
}

// RarityOf clamps a raw grade into the Rarity range.
func RarityOf(grade int) model.Rarity {
	if grade < int(model.RarityCommon) {
		return model.RarityCommon
	}
	if grade > int(model.RarityLegendary) {
		return model.RarityLegendary
	}
	return model.Rarity(grade)
}

// Default builds a provider over the bundled catalog and schedule.
func Default() *Provider {
	return New(DefaultServers, DefaultMerchants, DefaultZoneAliases, DefaultSchedule)
}
