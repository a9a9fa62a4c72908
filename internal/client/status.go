package client

import (
	"time"

	"expirysnap/internal/models"
)

const expiringSoonWindowDays = 30

// Classify maps an expiry date to its freshness category using today's
// date. Missing or unparseable dates are Valid: absence of a date is not
// treated as expired.
func Classify(expiryDate string) models.ItemStatus {
	return ClassifyAt(expiryDate, time.Now())
}

// ClassifyAt is Classify with an explicit reference date. Deterministic:
// the same (expiryDate, today) pair always yields the same status.
func ClassifyAt(expiryDate string, today time.Time) models.ItemStatus {
	if expiryDate == "" {
		return models.StatusValid
	}
	target, err := time.ParseInLocation("2006-01-02", expiryDate, today.Location())
	if err != nil {
		return models.StatusValid
	}

	// Days are counted with a ceiling, so any remaining fraction of a day
	// still counts as a full day ahead.
	diff := target.Sub(today)
	daysUntil := int(diff.Hours() / 24)
	if diff > 0 && diff%(24*time.Hour) != 0 {
		daysUntil++
	}

	switch {
	case daysUntil < 0:
		return models.StatusExpired
	case daysUntil <= expiringSoonWindowDays:
		return models.StatusExpiringSoon
	default:
		return models.StatusValid
	}
}
