package risk

import (
	"sort"

	"github.com/algotrade/tradecore/internal/domain"
)

// Report is the engine's verdict for one order request: whether it may
// proceed, why not if it can't, the escalated risk level across every rule
// that actually ran, and the ID of the rule that rejected it (if any).
type Report struct {
	Valid      bool
	Reason     string
	Level      domain.RiskLevel
	RejectedBy string
	RulesRun   []string
}

// Engine runs an ordered set of Rules against a Context: check ->
// short-circuit on first failure (no required-field presence check is run;
// see Evaluate), aggregating the
// maximum risk level across every rule that ran, per spec.md §4.7 and the
// "rule-engine extensibility" note in §9 (ordering by priority asc, ID asc
// for stability).
type Engine struct {
	rules []Rule
}

// NewEngine builds an Engine from the given rules, sorted by (priority asc,
// ID asc).
func NewEngine(rules []Rule) *Engine {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority() != sorted[j].Priority() {
			return sorted[i].Priority() < sorted[j].Priority()
		}
		return sorted[i].ID() < sorted[j].ID()
	})
	return &Engine{rules: sorted}
}

// Evaluate runs every rule against ctx in order and short-circuits on the
// first failure. On an all-pass run, Level is the max level reported by any
// rule that ran. RequiredFields exists on Rule for callers assembling a
// Context to know which fields matter to a given rule; the engine itself
// trusts the caller to have populated them (a zero Context field is not
// distinguishable from a field that's legitimately zero, e.g. flat
// position or zero PnL).
func (e *Engine) Evaluate(ctx Context) Report {
	level := domain.RiskLow
	ran := make([]string, 0, len(e.rules))

	for _, rule := range e.rules {
		outcome := rule.Check(ctx)
		ran = append(ran, rule.ID())
		level = level.Max(outcome.Level)

		if !outcome.Pass {
			return Report{
				Valid:      false,
				Reason:     outcome.Reason,
				Level:      outcome.Level,
				RejectedBy: rule.ID(),
				RulesRun:   ran,
			}
		}
	}

	return Report{Valid: true, Level: level, RulesRun: ran}
}
