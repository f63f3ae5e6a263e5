package algo

import (
	"fmt"
	"strconv"
	"strings"
)

func FormattedAlgoAmount(microAlgos uint64) string {
	formattedAmount := fmt.Sprintf("%.6f", float64(microAlgos)/1000000)
	// chop trailing 0's and decimal (if nothing else)
	formattedAmount = strings.TrimRight(formattedAmount, "0")
	formattedAmount = strings.TrimRight(formattedAmount, ".")
	return formattedAmount
}

// ParseAlgoAmount converts a whole-algo string like "1234.5" to microalgo.
func ParseAlgoAmount(amount string) (uint64, error) {
	val, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid algo amount %q: %w", amount, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid algo amount %q: negative", amount)
	}
	return uint64(val * 1e6), nil
}
