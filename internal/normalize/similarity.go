package normalize

import "strings"

// filler words carry no identity: "EVgo Fast Charging - Mall" and
// "EVgo Mall" should still look alike.
var fillerTokens = map[string]bool{
	"station":  true,
	"charging": true,
	"charger":  true,
	"fast":     true,
	"ev":       true,
	"the":      true,
}

// NameSimilarity scores two station names in [0,1] using token-set Jaccard
// over normalized tokens.
func NameSimilarity(a, b string) float64 {
	ta := nameTokens(a)
	tb := nameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for tok := range ta {
		if tb[tok] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

func nameTokens(name string) map[string]bool {
	tokens := map[string]bool{}
	var sb strings.Builder
	flush := func() {
		if sb.Len() == 0 {
			return
		}
		tok := sb.String()
		sb.Reset()
		if !fillerTokens[tok] {
			tokens[tok] = true
		}
	}

	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
