// Package commission computes the monthly platform fee a teacher owes for a batch.
package commission

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
)

const (
	// MinBillableStudents is the floor applied to a batch's student limit.
	MinBillableStudents = 20
)

var (
	// Rate is the platform share of the per-student fee.
	Rate = decimal.RequireFromString("0.07")
	// MinPerStudent is the floor applied to the per-student commission, in currency units.
	MinPerStudent = decimal.NewFromInt(35)
)

// Result is the commission breakdown for one month of one batch.
type Result struct {
	SevenPercent          decimal.Decimal
	CommissionPerStudent  decimal.Decimal
	EffectiveStudentCount int
	TotalMonthly          decimal.Decimal
}

// Calculate returns the monthly commission for a batch. Amounts are whole currency
// units rounded half-up; the total is always CommissionPerStudent * EffectiveStudentCount.
func Calculate(fees decimal.Decimal, studentLimit int) (Result, error) {
	if fees.IsNegative() {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "fees must be non-negative").
			WithDetails(map[string]any{"fees": fees.String()})
	}
	if studentLimit < 1 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "student limit must be at least 1").
			WithDetails(map[string]any{"student_limit": studentLimit})
	}

	sevenPercent := fees.Mul(Rate)
	perStudent := decimal.Max(sevenPercent, MinPerStudent).Round(0)

	effective := studentLimit
	if effective < MinBillableStudents {
		effective = MinBillableStudents
	}

	return Result{
		SevenPercent:          sevenPercent,
		CommissionPerStudent:  perStudent,
		EffectiveStudentCount: effective,
		TotalMonthly:          perStudent.Mul(decimal.NewFromInt(int64(effective))),
	}, nil
}

// CalculateNullable treats absent fees as zero.
func CalculateNullable(fees decimal.NullDecimal, studentLimit int) (Result, error) {
	if !fees.Valid {
		return Calculate(decimal.Zero, studentLimit)
	}
	return Calculate(fees.Decimal, studentLimit)
}
