package repo

import (
	"strings"
	"time"

	"github.com/unkn0wn-root/tabkeep/entity"
)

// DuplicateWindow is how close two identical drinks may be logged before the
// second counts as an accidental re-submission.
const DuplicateWindow = 60 * time.Second

func sameDrink(existing, d entity.Drink) bool {
	if !strings.EqualFold(strings.TrimSpace(existing.Name), strings.TrimSpace(d.Name)) ||
		existing.VolumeML != d.VolumeML || existing.ABV != d.ABV {
		return false
	}
	gap := d.ConsumedAt.Sub(existing.ConsumedAt)
	if gap < 0 {
		gap = -gap
	}
	return gap <= DuplicateWindow
}
