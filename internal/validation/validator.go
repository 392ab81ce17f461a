package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// a date window must not end before it starts
	v.RegisterStructValidation(dateRangeStructValidation, DateRange{})

	return v
}

func dateRangeStructValidation(sl validatorv10.StructLevel) {
	r := sl.Current().Interface().(DateRange)
	if r.From == "" || r.To == "" {
		return
	}
	// both are YYYY-MM-DD once field validation passed, so string order is date order
	if r.From > r.To {
		sl.ReportError(r.To, "to", "To", "gtefield_from", r.From)
	}
}
