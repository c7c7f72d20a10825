package scheduling

import (
	"sort"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
)

// interval is a half-open range [Start, End) within one day.
type interval struct {
	Start Clock
	End   Clock
}

func (iv interval) length() Clock {
	return iv.End - iv.Start
}

// overlaps treats touching endpoints as disjoint.
func (iv interval) overlaps(o interval) bool {
	return iv.Start < o.End && o.Start < iv.End
}

// parseBlocks drops malformed and empty blocks.
func parseBlocks(blocks []model.TimeBlock) []interval {
	out := make([]interval, 0, len(blocks))
	for _, b := range blocks {
		start, err := ParseClock(b.StartTime)
		if err != nil {
			continue
		}
		end, err := ParseClock(b.EndTime)
		if err != nil {
			continue
		}
		if start >= end || start == endOfDay {
			continue
		}
		out = append(out, interval{Start: start, End: end})
	}
	return out
}

// merge sorts intervals and joins the ones that overlap or touch.
func merge(ivs []interval) []interval {
	if len(ivs) < 2 {
		return ivs
	}
	sorted := make([]interval, len(ivs))
	copy(sorted, ivs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	out := []interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// split walks iv in step increments, keeping pieces of at least min.
func split(iv interval, step, min Clock) []interval {
	var out []interval
	for cur := iv.Start; iv.End-cur >= min; cur += step {
		end := cur + step
		if end > iv.End {
			end = iv.End
		}
		piece := interval{Start: cur, End: end}
		if piece.length() < min {
			continue
		}
		out = append(out, piece)
	}
	return out
}

// busyIndex groups blocking appointments by date.
type busyIndex map[string][]interval

func indexAppointments(appointments []model.ExistingAppointment) busyIndex {
	idx := busyIndex{}
	for _, a := range appointments {
		if !a.Status.Blocks() {
			continue
		}
		start, err := ParseClock(a.StartTime)
		if err != nil {
			continue
		}
		end, err := ParseClock(a.EndTime)
		if err != nil || end <= start {
			continue
		}
		idx[a.Date] = append(idx[a.Date], interval{Start: start, End: end})
	}
	return idx
}

func (b busyIndex) blocks(date string, iv interval) bool {
	for _, busy := range b[date] {
		if busy.overlaps(iv) {
			return true
		}
	}
	return false
}
