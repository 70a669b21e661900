// Package alert evaluates user alert rules: condition trees over
// indicator samples, prices, route-state changes and the global score.
package alert

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// Operator compares a sample against a rule threshold. Cross operators
// need the previous sample as well.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpBetween    Operator = "between"
	OpCrossAbove Operator = "cross_above"
	OpCrossBelow Operator = "cross_below"
)

// Evaluate applies the operator. previous feeds the cross operators;
// upper feeds between. A cross operator without a previous sample never
// fires.
func (op Operator) Evaluate(current, threshold decimal.Decimal, previous, upper *decimal.Decimal) bool {
	switch op {
	case OpEq:
		return current.Equal(threshold)
	case OpNe:
		return !current.Equal(threshold)
	case OpGt:
		return current.GreaterThan(threshold)
	case OpGte:
		return current.GreaterThanOrEqual(threshold)
	case OpLt:
		return current.LessThan(threshold)
	case OpLte:
		return current.LessThanOrEqual(threshold)
	case OpBetween:
		return upper != nil && current.GreaterThanOrEqual(threshold) && current.LessThanOrEqual(*upper)
	case OpCrossAbove:
		return previous != nil && previous.LessThan(threshold) && current.GreaterThanOrEqual(threshold)
	case OpCrossBelow:
		return previous != nil && previous.GreaterThanOrEqual(threshold) && current.LessThan(threshold)
	}
	return false
}

// Condition is one node of a rule's condition tree.
type Condition struct {
	// Exactly one of the following groups is set.

	// Indicator leaf: named indicator against a threshold.
	Indicator *IndicatorCondition `json:"indicator,omitempty"`
	// Price leaf.
	Price *PriceCondition `json:"price,omitempty"`
	// RouteStateChange leaf: fires when the state becomes TargetState.
	RouteStateChange *RouteStateCondition `json:"route_state_change,omitempty"`
	// GlobalScore leaf.
	GlobalScore *ScoreCondition `json:"global_score,omitempty"`
	// And/Or internal nodes.
	And []Condition `json:"and,omitempty"`
	Or  []Condition `json:"or,omitempty"`
}

// IndicatorCondition compares one named indicator sample.
type IndicatorCondition struct {
	Indicator string           `json:"indicator"`
	Operator  Operator         `json:"operator"`
	Value     decimal.Decimal  `json:"value"`
	Upper     *decimal.Decimal `json:"upper,omitempty"`
}

// PriceCondition compares the close price.
type PriceCondition struct {
	Operator Operator         `json:"operator"`
	Price    decimal.Decimal  `json:"price"`
	Upper    *decimal.Decimal `json:"upper,omitempty"`
}

// RouteStateCondition fires on a transition into the target state.
type RouteStateCondition struct {
	TargetState string `json:"target_state"`
}

// ScoreCondition compares the global breakout score.
type ScoreCondition struct {
	Operator  Operator        `json:"operator"`
	Threshold decimal.Decimal `json:"threshold"`
}

// Sample is the evaluation input: the current and previous observation
// of one symbol.
type Sample struct {
	Price          decimal.Decimal
	PrevPrice      *decimal.Decimal
	Indicators     map[string]decimal.Decimal
	PrevIndicators map[string]decimal.Decimal
	RouteState     string
	PrevRouteState string
	GlobalScore    *decimal.Decimal
}

// Evaluate walks the condition tree. An empty And node is true, an
// empty Or node is false. A leaf over data the sample lacks is false.
func (c Condition) Evaluate(s Sample) bool {
	switch {
	case c.Indicator != nil:
		current, ok := s.Indicators[c.Indicator.Indicator]
		if !ok {
			return false
		}
		var prev *decimal.Decimal
		if p, ok := s.PrevIndicators[c.Indicator.Indicator]; ok {
			prev = &p
		}
		return c.Indicator.Operator.Evaluate(current, c.Indicator.Value, prev, c.Indicator.Upper)

	case c.Price != nil:
		return c.Price.Operator.Evaluate(s.Price, c.Price.Price, s.PrevPrice, c.Price.Upper)

	case c.RouteStateChange != nil:
		return s.RouteState == c.RouteStateChange.TargetState &&
			s.PrevRouteState != c.RouteStateChange.TargetState

	case c.GlobalScore != nil:
		if s.GlobalScore == nil {
			return false
		}
		return c.GlobalScore.Operator.Evaluate(*s.GlobalScore, c.GlobalScore.Threshold, nil, nil)

	case c.And != nil:
		for _, child := range c.And {
			if !child.Evaluate(s) {
				return false
			}
		}
		return true

	case c.Or != nil:
		for _, child := range c.Or {
			if child.Evaluate(s) {
				return true
			}
		}
		return false
	}
	return false
}

// RuleStatus is the lifecycle of one alert rule.
type RuleStatus string

const (
	RuleActive    RuleStatus = "active"
	RuleInactive  RuleStatus = "inactive"
	RuleTriggered RuleStatus = "triggered"
	RuleExpired   RuleStatus = "expired"
)

// Rule is one alert definition.
type Rule struct {
	ID              uuid.UUID  `json:"id"`
	UserID          string     `json:"user_id"`
	Name            string     `json:"name"`
	Symbols         []string   `json:"symbols,omitempty"`
	Condition       Condition  `json:"condition"`
	Status          RuleStatus `json:"status"`
	Repeatable      bool       `json:"repeatable"`
	CooldownSeconds int64      `json:"cooldown_seconds,omitempty"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NewRule builds an active, non-repeatable rule.
func NewRule(name, userID string, condition Condition) *Rule {
	return &Rule{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		Condition: condition,
		Status:    RuleActive,
		CreatedAt: time.Now().UTC(),
	}
}

// AppliesTo reports whether the rule watches the symbol. An empty
// symbol list watches everything.
func (r *Rule) AppliesTo(symbol string) bool {
	if len(r.Symbols) == 0 {
		return true
	}
	for _, s := range r.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Evaluate fires the rule against a sample at the given instant,
// handling expiry, cooldown and the one-shot transition to Triggered.
// It returns whether the rule fired and mutates the rule's bookkeeping.
func (r *Rule) Evaluate(s Sample, now time.Time) (bool, error) {
	if r.Status == RuleTriggered || r.Status == RuleInactive || r.Status == RuleExpired {
		return false, nil
	}
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		r.Status = RuleExpired
		return false, nil
	}
	if r.Repeatable && r.CooldownSeconds < 0 {
		return false, errs.InvalidParameter("negative cooldown on rule %s", r.ID)
	}
	if r.Repeatable && r.LastTriggeredAt != nil {
		cooldownEnd := r.LastTriggeredAt.Add(time.Duration(r.CooldownSeconds) * time.Second)
		if now.Before(cooldownEnd) {
			return false, nil
		}
	}

	if !r.Condition.Evaluate(s) {
		return false, nil
	}

	triggeredAt := now
	r.LastTriggeredAt = &triggeredAt
	if !r.Repeatable {
		r.Status = RuleTriggered
	}
	return true, nil
}
