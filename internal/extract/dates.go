package extract

import "github.com/devcubo3/trabalho-mae/internal/types"

// FillDates gives every undated entry the date of the entry before it.
func FillDates(transactions []types.Transaction) {
	last := ""
	for i := range transactions {
		if transactions[i].Date != "" {
			last = transactions[i].Date
			continue
		}
		transactions[i].Date = last
	}
}

// LastDate returns the date of the last dated entry, or "".
func LastDate(transactions []types.Transaction) string {
	for i := len(transactions) - 1; i >= 0; i-- {
		if transactions[i].Date != "" {
			return transactions[i].Date
		}
	}
	return ""
}
