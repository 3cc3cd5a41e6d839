package refdata

// rankNames maps competitive tier numbers to display names. Tiers 1 and 2
// are unused by the game; unknown tiers fall back to Unranked.
var rankNames = map[int]string{
	0:  "Unranked",
	3:  "Iron 1",
	4:  "Iron 2",
	5:  "Iron 3",
	6:  "Bronze 1",
	7:  "Bronze 2",
	8:  "Bronze 3",
	9:  "Silver 1",
	10: "Silver 2",
	11: "Silver 3",
	12: "Gold 1",
	13: "Gold 2",
	14: "Gold 3",
	15: "Platinum 1",
	16: "Platinum 2",
	17: "Platinum 3",
	18: "Diamond 1",
	19: "Diamond 2",
	20: "Diamond 3",
	21: "Ascendant 1",
	22: "Ascendant 2",
	23: "Ascendant 3",
	24: "Immortal 1",
	25: "Immortal 2",
	26: "Immortal 3",
	27: "Radiant",
}

// RankName returns the display name for a competitive tier.
func (c *Catalog) RankName(tier int) string {
	if name, ok := rankNames[tier]; ok {
		return name
	}
	return rankNames[0]
}
