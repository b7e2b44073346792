package adherence

import "math"

// ComputeStats derives compliance at item granularity, the same granularity
// mark-taken mutates.
func ComputeStats(prescriptions []Prescription) ComplianceStats {
	stats := ComplianceStats{Total: len(prescriptions)}
	items := 0
	for _, p := range prescriptions {
		for _, it := range p.Items {
			items++
			if it.Taken {
				stats.Taken++
			}
		}
	}
	stats.Pending = items - stats.Taken
	stats.Percentage = Percentage(stats.Taken, stats.Pending)
	return stats
}

// Percentage returns round(taken/(taken+pending)*100) clamped to [0,100],
// and 0 when there is nothing to count.
func Percentage(taken, pending int) int {
	if taken < 0 {
		taken = 0
	}
	if pending < 0 {
		pending = 0
	}
	total := taken + pending
	if total == 0 {
		return 0
	}
	pct := int(math.Round(float64(taken) / float64(total) * 100))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
