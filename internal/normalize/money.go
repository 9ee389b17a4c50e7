package normalize

import (
	"math"
	"strconv"
	"strings"
)

var moneyReplacer = strings.NewReplacer("$", "", ",", "", " ", "", "\t", "", "\u00a0", "")

// ParseMoney parses a monetary-looking cell ("$1,234.56") into dollars.
// Placeholders and values that do not parse yield nil rather than an error.
func ParseMoney(s string) *float64 {
	s = strings.TrimSpace(s)
	if IsPlaceholder(s) {
		return nil
	}
	s = moneyReplacer.Replace(s)
	// Accounting negatives: (12.50)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + s[1:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
