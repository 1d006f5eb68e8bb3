package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// Rule is the recurrence pattern of a booking series.
type Rule string

const (
	RuleNone    Rule = "none"
	RuleDaily   Rule = "daily"
	RuleWeekly  Rule = "weekly"
	RuleMonthly Rule = "monthly"
)

// DefaultHardCap bounds the number of occurrences a single expansion yields.
const DefaultHardCap = 365

// Monthly series advance by a fixed 30 days, not by calendar month, so an
// occurrence never lands on a day that does not exist in the target month.
const monthlyStepDays = 30

var stepDays = map[Rule]int{
	RuleDaily:   1,
	RuleWeekly:  7,
	RuleMonthly: monthlyStepDays,
}

// ErrInvalidRule indicates the recurrence rule is not supported.
var ErrInvalidRule = errors.New("recurrence: invalid rule")

// ErrInvalidDuration indicates the base window duration is not positive.
var ErrInvalidDuration = errors.New("recurrence: base window duration must be positive")

// ParseRule converts a stored or user supplied value into a Rule. The empty
// string is treated as RuleNone.
func ParseRule(value string) (Rule, error) {
	if value == "" {
		return RuleNone, nil
	}
	rule := Rule(value)
	if rule != RuleNone {
		if _, ok := stepDays[rule]; !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidRule, value)
		}
	}
	return rule, nil
}

// Repeats reports whether the rule produces more than the base occurrence.
func (r Rule) Repeats() bool {
	_, ok := stepDays[r]
	return ok
}

// Occurrence is one generated window of a series. Index 0 is the base window.
type Occurrence struct {
	Index int
	Start time.Time
	End   time.Time
}

// Expansion is the result of expanding a rule.
type Expansion struct {
	Occurrences []Occurrence
	// Truncated is set when the series would have produced more occurrences
	// than the hard cap allows.
	Truncated bool
}

// Engine expands recurrence rules into concrete occurrence windows.
type Engine struct {
	location *time.Location
	hardCap  int
}

// NewEngine constructs an Engine that steps calendar days in loc. When loc is
// nil UTC is used; a non-positive hardCap falls back to DefaultHardCap.
func NewEngine(loc *time.Location, hardCap int) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if hardCap <= 0 {
		hardCap = DefaultHardCap
	}
	return &Engine{location: loc, hardCap: hardCap}
}

// HardCap returns the configured occurrence limit.
func (e *Engine) HardCap() int {
	if e == nil || e.hardCap <= 0 {
		return DefaultHardCap
	}
	return e.hardCap
}

// Expand produces the occurrence windows for a series whose first window is
// [baseStart, baseEnd). Every occurrence keeps the base duration. Generation
// stops once the next start would fall after until (inclusive bound), or when
// the hard cap is reached. The result is deterministic for identical inputs.
//
// For RuleNone the base window is returned on its own and until is ignored.
func (e *Engine) Expand(baseStart, baseEnd time.Time, rule Rule, until *time.Time) (Expansion, error) {
	if !baseStart.Before(baseEnd) {
		return Expansion{}, ErrInvalidDuration
	}
	if rule == "" || rule == RuleNone {
		return Expansion{Occurrences: []Occurrence{{Index: 0, Start: baseStart, End: baseEnd}}}, nil
	}

	option, err := e.option(baseStart, rule, until)
	if err != nil {
		return Expansion{}, err
	}
	hardCap := e.HardCap()
	// Ask for one more than the cap so that truncation can be detected.
	option.Count = hardCap + 1

	rr, err := rrule.NewRRule(option)
	if err != nil {
		return Expansion{}, fmt.Errorf("recurrence: build rule: %w", err)
	}

	duration := baseEnd.Sub(baseStart)
	// rrule works at second precision; carry any sub-second offset of the base.
	fraction := baseStart.Sub(baseStart.Truncate(time.Second))
	origin := baseStart.Location()

	starts := rr.All()
	occurrences := make([]Occurrence, 0, len(starts))
	for i, start := range starts {
		occStart := start.Add(fraction).In(origin)
		if until != nil && occStart.After(*until) {
			break
		}
		occurrences = append(occurrences, Occurrence{
			Index: i,
			Start: occStart,
			End:   occStart.Add(duration),
		})
	}

	truncated := len(occurrences) > hardCap
	if truncated {
		occurrences = occurrences[:hardCap]
	}

	return Expansion{Occurrences: occurrences, Truncated: truncated}, nil
}

// RRule renders the series as an RFC 5545 RRULE value (without DTSTART). The
// empty string is returned for non-repeating rules.
func (e *Engine) RRule(baseStart time.Time, rule Rule, until *time.Time) (string, error) {
	if !rule.Repeats() {
		return "", nil
	}
	option, err := e.option(baseStart, rule, until)
	if err != nil {
		return "", err
	}
	return option.RRuleString(), nil
}

func (e *Engine) option(baseStart time.Time, rule Rule, until *time.Time) (rrule.ROption, error) {
	step, ok := stepDays[rule]
	if !ok {
		return rrule.ROption{}, fmt.Errorf("%w: %q", ErrInvalidRule, rule)
	}
	loc := e.location
	if loc == nil {
		loc = time.UTC
	}
	option := rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: step,
		Dtstart:  baseStart.In(loc).Truncate(time.Second),
	}
	if until != nil {
		option.Until = until.In(loc)
	}
	return option, nil
}
