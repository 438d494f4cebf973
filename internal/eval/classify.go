package eval

// Tier grades a played move.
type Tier string

const (
	TierOptimal Tier = "optimal"
	TierSafe    Tier = "safe"
	TierDetour  Tier = "detour"
	TierRisky   Tier = "risky"
	TierBlunder Tier = "blunder"
)

// Robustness says how many alternative moves would also have preserved
// the win, i.e. how forgiving the position was.
type Robustness string

const (
	RobustnessRobust   Robustness = "robust"
	RobustnessPrecise  Robustness = "precise"
	RobustnessHairline Robustness = "hairline"
	RobustnessNone     Robustness = "none"
)

// Thresholds are product-tuning constants, not correctness invariants.
// Tier bounds apply to the DTM delta of a win-preserving move; robustness
// bounds apply to the count of win-preserving alternatives.
type Thresholds struct {
	Optimal int `mapstructure:"optimal"`
	Safe    int `mapstructure:"safe"`
	Detour  int `mapstructure:"detour"`

	Robust   int `mapstructure:"robust"`
	Precise  int `mapstructure:"precise"`
	Hairline int `mapstructure:"hairline"`
}

// DefaultThresholds returns the stock tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{Optimal: 1, Safe: 5, Detour: 15, Robust: 3, Precise: 2, Hairline: 1}
}

// Quality is the graded classification of one played move.
// DTMDelta is after-minus-before mover DTM; an optimal move reduces the
// remaining distance by one, so a delta of -1 is expected on best play.
// Nil when the move was not graded on DTM (non-win, or DTM unknown).
type Quality struct {
	Tier       Tier       `json:"tier"`
	Robustness Robustness `json:"robustness"`
	DTMDelta   *int       `json:"dtm_delta,omitempty"`
}

// Classify grades a played move. Both evaluations must already be from
// the mover's perspective: before evaluates the position the mover moved
// from, after evaluates the resulting position re-expressed for the mover
// (callers flip the opponent-side result via ForOpponent before calling).
// alternatives are the mover's legal moves in the before position with
// their own evaluations, normally before.TopMoves.
//
// Category degradation is a blunder regardless of distances. A held win
// is graded by how much mate distance the move wasted; held draws and
// already-lost positions get the neutral "safe" tier, since DTZ under
// draws and losses does not measure margin the way DTM under wins does.
func Classify(before, after Formatted, alternatives []RankedMove, th Thresholds) Quality {
	q := Quality{
		Robustness: robustness(before, alternatives, th),
	}

	beforeClass := outcomeClass(before.WDLFromMover)
	afterClass := outcomeClass(after.WDLFromMover)

	switch {
	case afterClass < beforeClass:
		q.Tier = TierBlunder
	case beforeClass == classWin:
		q.Tier, q.DTMDelta = gradeHeldWin(before, after, th)
	default:
		// draw→draw, or already lost: held the expected result.
		q.Tier = TierSafe
	}

	return q
}

// outcomeClass collapses five categories to three: the cursed-win and
// blessed-loss refinements do not change which result a move threw away.
type class int

const (
	classLoss class = iota
	classDraw
	classWin
)

func outcomeClass(wdl int) class {
	switch {
	case wdl > 0:
		return classWin
	case wdl < 0:
		return classLoss
	default:
		return classDraw
	}
}

// gradeHeldWin grades a win→win move by wasted mate distance.
func gradeHeldWin(before, after Formatted, th Thresholds) (Tier, *int) {
	delta, ok := dtmDelta(before, after)
	if !ok {
		// Win held but no usable distance (material too large for DTM
		// and no DTZ): cannot measure the margin, call it safe.
		return TierSafe, nil
	}

	switch {
	case delta <= th.Optimal:
		return TierOptimal, &delta
	case delta <= th.Safe:
		return TierSafe, &delta
	case delta <= th.Detour:
		return TierDetour, &delta
	default:
		return TierRisky, &delta
	}
}

// dtmDelta computes after-minus-before distance for a held win, using DTM
// when both sides know it and falling back to DTZ magnitudes otherwise.
func dtmDelta(before, after Formatted) (int, bool) {
	if before.DTM != nil && after.DTM != nil {
		return abs(*after.DTM) - abs(*before.DTM), true
	}
	if before.DTZ != nil && after.DTZ != nil {
		return abs(*after.DTZ) - abs(*before.DTZ), true
	}
	return 0, false
}

// robustness counts how many alternatives preserve the win. Positions
// that were not winning to begin with, and terminal positions with no
// replies, score none.
func robustness(before Formatted, alternatives []RankedMove, th Thresholds) Robustness {
	if outcomeClass(before.WDLFromMover) != classWin || len(alternatives) == 0 {
		return RobustnessNone
	}

	preserving := 0
	for _, alt := range alternatives {
		if outcomeClass(alt.WDL) == classWin {
			preserving++
		}
	}

	switch {
	case preserving >= th.Robust:
		return RobustnessRobust
	case preserving >= th.Precise:
		return RobustnessPrecise
	case preserving >= th.Hairline:
		return RobustnessHairline
	default:
		return RobustnessNone
	}
}
