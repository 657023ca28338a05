package scenario

import (
	"github.com/sarchlab/tapbridge/mobility"
)

// NearestCell attaches a node to the closest cell. Ties go to the cell listed
// first.
type NearestCell struct{}

// Select returns the closest cell.
func (NearestCell) Select(
	ue mobility.Positioned,
	cells []mobility.Cell,
) (mobility.Cell, error) {
	if len(cells) == 0 {
		return mobility.Cell{}, mobility.ErrNoCell
	}

	best := cells[0]
	bestDist := mobility.Distance(ue.Position(), best.Position)

	for _, c := range cells[1:] {
		d := mobility.Distance(ue.Position(), c.Position)
		if d < bestDist {
			best = c
			bestDist = d
		}
	}

	return best, nil
}
