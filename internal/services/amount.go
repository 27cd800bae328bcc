package services

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	amountCleanRegex    = regexp.MustCompile(`[^\d,]`)
	amountCleanDotRegex = regexp.MustCompile(`[^\d.]`)
)

// ParseAmountToCents normalizes a loosely typed monetary input to integer
// cents. Numeric inputs are whole currency units. String inputs are
// cleaned down to digits plus the decimal separator: the comma when one is
// present, the dot otherwise. "20,00", "R$ 20,00" and "20.00" all parse to
// 2000. The second return value is false when the input carries no usable
// amount.
func ParseAmountToCents(value any) (int64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return int64(math.Round(v * 100)), true
	case int:
		return int64(v) * 100, true
	case int64:
		return v * 100, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int64(math.Round(f * 100)), true
	case string:
		return parseAmountString(v)
	default:
		return parseAmountString(fmt.Sprintf("%v", v))
	}
}

func parseAmountString(s string) (int64, bool) {
	var clean string
	if strings.Contains(s, ",") {
		clean = amountCleanRegex.ReplaceAllString(s, "")
		clean = strings.Replace(clean, ",", ".", 1)
	} else {
		clean = amountCleanDotRegex.ReplaceAllString(s, "")
	}
	if clean == "" || clean == "." {
		return 0, false
	}

	f, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(math.Round(f * 100)), true
}
