package indicators

// RunStats summarises the qualifying runs of consecutive true values.
type RunStats struct {
	Events    int `json:"events"`
	TotalDays int `json:"totalDays"`
	Longest   int `json:"longest"`
}

// ScanRuns walks flags once. A maximal run of true values counts only when its
// length reaches minLen; a run still open at the end is included.
func ScanRuns(flags []bool, minLen int) RunStats {
	if minLen < 1 {
		minLen = 1
	}
	var stats RunStats
	run := 0
	closeRun := func() {
		if run >= minLen {
			stats.Events++
			stats.TotalDays += run
			if run > stats.Longest {
				stats.Longest = run
			}
		}
		run = 0
	}
	for _, f := range flags {
		if f {
			run++
			continue
		}
		closeRun()
	}
	closeRun()
	return stats
}

// LongestRun is the length of the longest run of true values.
func LongestRun(flags []bool) int {
	return ScanRuns(flags, 1).Longest
}
