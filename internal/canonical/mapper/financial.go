package mapper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// IncomeMultiplier scales the broker's declared income to the figure the
// sales team works with.
const IncomeMultiplier = 1.9

var riskScores = map[string]float64{
	"BAIXISSIMO": 0.1,
	"BAIXO":      0.3,
	"MEDIO":      0.5,
	"ALTO":       0.7,
	"ALTISSIMO":  0.9,
}

// RiskScore maps a label such as "BAIXO RISCO" or "Médio" to its score.
func RiskScore(label string) (float64, bool) {
	fields := strings.Fields(strings.ToUpper(foldAccents(label)))
	if len(fields) == 0 {
		return 0, false
	}
	score, ok := riskScores[fields[0]]
	return score, ok
}

// ParseAmount reads a Brazilian decimal such as "1234,56" or "1.234,56".
func ParseAmount(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimPrefix(s, "R$"))
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// AdjustedIncome applies IncomeMultiplier to a raw renda value.
func AdjustedIncome(raw string) (float64, bool) {
	v, ok := ParseAmount(raw)
	if !ok {
		return 0, false
	}
	return v * IncomeMultiplier, true
}

var currencyPattern = regexp.MustCompile(`R\$\s*(\d+)`)

// ScaleCurrencyRange applies IncomeMultiplier to every "R$ N" in s:
// "De R$ 1630 até R$ 4082" becomes "De R$ 3097.00 até R$ 7755.80".
func ScaleCurrencyRange(s string) string {
	return currencyPattern.ReplaceAllStringFunc(s, func(m string) string {
		digits := currencyPattern.FindStringSubmatch(m)[1]
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return m
		}
		return fmt.Sprintf("R$ %.2f", v*IncomeMultiplier)
	})
}
