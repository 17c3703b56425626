package validation

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report fields under their json names so error maps line up with the
	// request body the till sent
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// amount_total must match the sum of line totals (discount applied),
	// compared in cents to dodge float rounding.
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	var sum float64
	for _, l := range req.Lines {
		sum += l.Qty * l.PriceUnit * (1 - l.Discount/100)
	}

	sumCents := int(math.Round(sum * 100))
	totalCents := int(math.Round(req.AmountTotal * 100))
	if sumCents != totalCents {
		sl.ReportError(req.AmountTotal, "amount_total", "AmountTotal", "amount_match_lines",
			fmt.Sprintf("lines sum %.2f != amount_total %.2f", sum, req.AmountTotal))
	}
}
