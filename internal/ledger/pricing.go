package ledger

import "time"

// CalculatePrice computes the charge for a completed session at the given
// lot. Flat-rate lots charge Rate regardless of duration. Hourly lots charge
// Rate per started hour, capped at MaxDailyRate when the lot carries a cap.
func CalculatePrice(duration time.Duration, lot Lot) float64 {
	if !lot.Hourly {
		return lot.Rate
	}

	seconds := int64(duration / time.Second)
	if seconds < 0 {
		seconds = 0
	}

	billedHours := seconds / 3600
	if seconds%3600 != 0 {
		billedHours++
	}

	price := float64(billedHours) * lot.Rate
	if lot.MaxDailyRate.Valid && price > lot.MaxDailyRate.Float64 {
		price = lot.MaxDailyRate.Float64
	}
	return price
}
