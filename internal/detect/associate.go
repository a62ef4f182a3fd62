package detect

import (
	"math"
	"sort"

	"github.com/civilworks/drainscan/internal/models"
	"github.com/civilworks/drainscan/internal/ocr"
)

// Associate pairs human-confirmed symbols with structure labels, nearest
// pair first, each label used at most once. Symbols with no label inside
// the association radius are returned as ambiguities for the operator to
// resolve.
func Associate(symbols []models.DetectedSymbol, labels []ocr.StructureLabel, s Settings) ([]models.Module, []models.DetectedSymbol) {
	type pair struct {
		symbol int
		label  int
		dist   float64
	}
	var pairs []pair
	for si, sym := range symbols {
		if !sym.Box.Valid() {
			continue
		}
		for li, l := range labels {
			if !l.Box.Valid() {
				continue
			}
			d := sym.Box.Center().Distance(l.Box.Center())
			if d <= s.MaxAssociationDistance {
				pairs = append(pairs, pair{symbol: si, label: li, dist: d})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })

	usedSymbol := make(map[int]bool)
	usedLabel := make(map[int]bool)
	var modules []models.Module
	for _, p := range pairs {
		if usedSymbol[p.symbol] || usedLabel[p.label] {
			continue
		}
		usedSymbol[p.symbol] = true
		usedLabel[p.label] = true

		sym := symbols[p.symbol]
		sym.NearestLabel = labels[p.label].Text
		// Closer labels make the match more trustworthy.
		sym.Confidence = math.Min(1, sym.Confidence+s.AssociationBoost*(1-p.dist/s.MaxAssociationDistance))
		modules = append(modules, models.Module{
			Symbol:   sym,
			Label:    labels[p.label].Text,
			Location: sym.Box.Center(),
		})
	}

	var ambiguities []models.DetectedSymbol
	for si, sym := range symbols {
		if !usedSymbol[si] {
			ambiguities = append(ambiguities, sym)
		}
	}
	return modules, ambiguities
}
