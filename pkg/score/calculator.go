// Package score computes credit scores from financial interview answers and
// resolves the limit cap a score entitles a customer to.
package score

import (
	"fmt"
	"math"
	"strings"
)

// Employment types accepted by the calculator.
const (
	EmploymentFormal       = "formal"
	EmploymentSelfEmployed = "self_employed"
	EmploymentUnemployed   = "unemployed"
)

// Input holds the interview answers the score is derived from.
type Input struct {
	MonthlyIncome  float64 `json:"monthly_income"`
	EmploymentType string  `json:"employment_type"`
	FixedExpenses  float64 `json:"fixed_expenses"`
	Dependents     int     `json:"dependents"`
	HasDebts       bool    `json:"has_debts"`
}

// Validate checks the answers are usable.
func (in Input) Validate() error {
	if in.MonthlyIncome < 0 {
		return fmt.Errorf("monthly income cannot be negative")
	}
	if in.FixedExpenses < 0 {
		return fmt.Errorf("fixed expenses cannot be negative")
	}
	if in.Dependents < 0 {
		return fmt.Errorf("dependents cannot be negative")
	}
	switch strings.ToLower(in.EmploymentType) {
	case EmploymentFormal, EmploymentSelfEmployed, EmploymentUnemployed:
		return nil
	default:
		return fmt.Errorf("employment type must be one of %s, %s, %s",
			EmploymentFormal, EmploymentSelfEmployed, EmploymentUnemployed)
	}
}

// Compute derives the credit score. The income component scales with how far
// income exceeds fixed expenses; employment stability, household size and
// open debts adjust it. The result is clamped to [0, 1000] and rounded to
// two decimals.
func Compute(in Input) (float64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}

	const incomeWeight = 30

	income := (in.MonthlyIncome / (in.FixedExpenses + 1)) * incomeWeight

	var employment float64
	switch strings.ToLower(in.EmploymentType) {
	case EmploymentFormal:
		employment = 300
	case EmploymentSelfEmployed:
		employment = 200
	case EmploymentUnemployed:
		employment = 0
	}

	var dependents float64
	switch {
	case in.Dependents == 0:
		dependents = 100
	case in.Dependents == 1:
		dependents = 80
	case in.Dependents == 2:
		dependents = 60
	default:
		dependents = 30
	}

	debts := 100.0
	if in.HasDebts {
		debts = -100
	}

	total := income + employment + dependents + debts
	total = math.Max(0, math.Min(1000, total))

	return math.Round(total*100) / 100, nil
}
