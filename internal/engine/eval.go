// internal/engine/eval.go
package engine

import "sort"

// Hand categories, strongest first.
const (
	catHighCard = iota
	catPair
	catTwoPair
	catTrips
	catStraight
	catFlush
	catFullHouse
	catQuads
	catStraightFlush
)

// HandRank is a comparable evaluation of a five-card hand. Ranks holds the
// category-specific tiebreak ranks in descending significance.
type HandRank struct {
	Category int   `json:"category"`
	Ranks    []int `json:"ranks"`
}

// BetterThan reports whether h beats o.
func (h HandRank) BetterThan(o HandRank) bool {
	if h.Category != o.Category {
		return h.Category > o.Category
	}
	for i := 0; i < len(h.Ranks) && i < len(o.Ranks); i++ {
		if h.Ranks[i] != o.Ranks[i] {
			return h.Ranks[i] > o.Ranks[i]
		}
	}
	return false
}

// Equal reports whether two hands tie exactly.
func (h HandRank) Equal(o HandRank) bool {
	return !h.BetterThan(o) && !o.BetterThan(h)
}

// evaluateBest returns the best five-card rank out of the given cards
// (typically two hole cards plus up to five community cards).
func evaluateBest(cards []Card) HandRank {
	n := len(cards)
	if n <= 5 {
		return eval5(cards)
	}
	best := HandRank{Category: -1}
	pick := make([]Card, 5)
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			for c := b + 1; c < n; c++ {
				for d := c + 1; d < n; d++ {
					for e := d + 1; e < n; e++ {
						pick[0], pick[1], pick[2], pick[3], pick[4] = cards[a], cards[b], cards[c], cards[d], cards[e]
						if h := eval5(pick); h.BetterThan(best) {
							best = h
						}
					}
				}
			}
		}
	}
	return best
}

func eval5(cards []Card) HandRank {
	counts := map[int]int{}
	suitCount := map[Suit]int{}
	ranks := make([]int, 0, len(cards))
	for _, c := range cards {
		counts[c.Rank]++
		suitCount[c.Suit]++
		ranks = append(ranks, c.Rank)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ranks)))

	isFlush := false
	for _, v := range suitCount {
		if v == 5 {
			isFlush = true
		}
	}
	isStraight, straightTop := straightHigh(ranks)

	if isFlush && isStraight {
		return HandRank{Category: catStraightFlush, Ranks: []int{straightTop}}
	}

	type group struct{ rank, count int }
	groups := make([]group, 0, len(counts))
	for r, c := range counts {
		groups = append(groups, group{r, c})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return groups[i].rank > groups[j].rank
	})

	switch {
	case groups[0].count == 4:
		return HandRank{Category: catQuads, Ranks: append([]int{groups[0].rank}, kickers(ranks, 1, groups[0].rank)...)}
	case groups[0].count == 3 && len(groups) > 1 && groups[1].count >= 2:
		return HandRank{Category: catFullHouse, Ranks: []int{groups[0].rank, groups[1].rank}}
	case isFlush:
		return HandRank{Category: catFlush, Ranks: ranks}
	case isStraight:
		return HandRank{Category: catStraight, Ranks: []int{straightTop}}
	case groups[0].count == 3:
		return HandRank{Category: catTrips, Ranks: append([]int{groups[0].rank}, kickers(ranks, 2, groups[0].rank)...)}
	case groups[0].count == 2 && len(groups) > 1 && groups[1].count == 2:
		return HandRank{Category: catTwoPair, Ranks: append([]int{groups[0].rank, groups[1].rank}, kickers(ranks, 1, groups[0].rank, groups[1].rank)...)}
	case groups[0].count == 2:
		return HandRank{Category: catPair, Ranks: append([]int{groups[0].rank}, kickers(ranks, 3, groups[0].rank)...)}
	default:
		return HandRank{Category: catHighCard, Ranks: ranks}
	}
}

// straightHigh checks a descending rank slice for a five-card straight,
// treating the ace as low for the wheel.
func straightHigh(desc []int) (bool, int) {
	uniq := desc[:0:0]
	seen := map[int]bool{}
	for _, r := range desc {
		if !seen[r] {
			seen[r] = true
			uniq = append(uniq, r)
		}
	}
	if len(uniq) < 5 {
		return false, 0
	}
	run := 1
	for i := 1; i < len(uniq); i++ {
		if uniq[i] == uniq[i-1]-1 {
			run++
			if run == 5 {
				return true, uniq[i] + 4
			}
		} else {
			run = 1
		}
	}
	// wheel: A-5-4-3-2
	if seen[14] && seen[5] && seen[4] && seen[3] && seen[2] {
		return true, 5
	}
	return false, 0
}

// kickers returns the n highest ranks excluding the given ones.
func kickers(desc []int, n int, exclude ...int) []int {
	out := make([]int, 0, n)
	skip := map[int]bool{}
	for _, e := range exclude {
		skip[e] = true
	}
	for _, r := range desc {
		if skip[r] {
			continue
		}
		out = append(out, r)
		skip[r] = true // each rank counts once as a kicker
		if len(out) == n {
			break
		}
	}
	return out
}
