package session

import (
	"strconv"
	"strings"

	"github.com/splitpot/splitpot/internal/models"
)

// isExpression reports whether amount text needs evaluation before it can
// be persisted. Plain numbers (including a leading sign) are not
// expressions; anything with an operator past the first character is.
func isExpression(value string) bool {
	if value == "" {
		return false
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return false
	}
	return strings.ContainsAny(value[1:], "+-*/")
}

// EvaluatePlain is the default amount evaluator: it accepts plain numbers
// only. Deployments wanting arithmetic in amount cells inject a real
// expression evaluator via Config.Evaluate.
func EvaluatePlain(expr string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(expr), 64)
	if err != nil {
		return 0, &models.ValidationError{Field: "amount", Reason: "not a number: " + strconv.Quote(expr)}
	}
	return f, nil
}

// parseLoose parses display text as an amount, treating anything
// unparseable as zero. The live balance never errors while the user types.
func parseLoose(value string) (float64, bool) {
	if value == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// formatAmount renders a canonical amount back into cell text. Zero shows
// as empty, matching an untouched cell.
func formatAmount(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
