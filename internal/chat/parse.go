package chat

import (
	"regexp"
	"strconv"
	"strings"
)

const maxRepaymentMonths = 60

var (
	// Accepts "500", "₹500", "Rs. 1,250.50", "INR 300".
	amountPattern = regexp.MustCompile(`(?i)^(?:₹|rs\.?|inr)?\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*(?:/-)?$`)
	// Accepts "12", "12 months", "6 mo".
	monthsPattern = regexp.MustCompile(`(?i)^([0-9]+)\s*(?:months?|mo)?$`)
)

// parseAmount reads a positive rupee amount.
func parseAmount(text string) (float64, bool) {
	m := amountPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// parseMonths reads a repayment term in 1..60.
func parseMonths(text string) (int, bool) {
	m := monthsPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 || n > maxRepaymentMonths {
		return 0, false
	}
	return n, true
}

// isMenuEscape reports whether text asks to go back to the main menu.
func isMenuEscape(text string) bool {
	return strings.EqualFold(text, "menu") || text == "0"
}
