package assembler

import (
	"github.com/storyloom/storyloom/pkg/ranking"
	"github.com/storyloom/storyloom/pkg/story"
)

type tier int

const (
	tierRecent tier = iota
	tierCore
	tierMemory
)

// slot is one budgeted item, addressed by tier and index within the tier.
type slot struct {
	tier  tier
	index int
	cost  int
}

// fillOrder lists every item in the order it is admitted:
//
//  1. recent chapters, newest first
//  2. core items, most relevant first
//  3. ranked memories, highest score first
//
// A recent window that does not fit therefore loses its oldest chapters
// first and never leaves room for core items ahead of a chapter.
func fillOrder(unit Unit, recent []*story.Chapter, core []CoreItem, ranked []ranking.Ranked) []slot {
	order := make([]slot, 0, len(recent)+len(core)+len(ranked))
	for i, c := range recent {
		order = append(order, slot{tierRecent, i, unit.Cost(c.Digest())})
	}
	for i, c := range core {
		order = append(order, slot{tierCore, i, unit.Cost(c.Text)})
	}
	for i, r := range ranked {
		order = append(order, slot{tierMemory, i, unit.Cost(r.Entry.Content)})
	}
	return order
}

// fit admits the longest prefix of order that stays within budget. Filling
// stops at the first item that does not fit, so the included set only grows
// with the budget.
func fit(order []slot, budget int) (keep map[tier]map[int]bool, used int) {
	keep = map[tier]map[int]bool{tierRecent: {}, tierCore: {}, tierMemory: {}}
	for _, s := range order {
		if used+s.cost > budget {
			break
		}
		used += s.cost
		keep[s.tier][s.index] = true
	}
	return keep, used
}
