package services

const (
	// PointsPerSession prices one session at 5 points.
	PointsPerSession = 5

	// DefaultPointsGrant seeds a brand new student balance.
	DefaultPointsGrant = 500

	// CentsPerPoint converts between points and money amounts.
	CentsPerPoint = 100
)

// PointsCost prices a subscription in points.
func PointsCost(months, sessionsPerMonth int) int {
	return months * sessionsPerMonth * PointsPerSession
}

// SplitEarnings divides a paid amount 70/30 between the teacher and the
// platform. Rounding is half-up on the teacher share and the fee is the
// exact remainder, so the two always sum to the gross amount.
func SplitEarnings(amountCents int64) (earnings, fee int64) {
	if amountCents <= 0 {
		return 0, 0
	}
	earnings = (amountCents*7 + 5) / 10
	fee = amountCents - earnings
	if fee < 0 {
		fee = 0
	}
	return earnings, fee
}

// PointsFromCents converts a paid money amount into wallet points.
func PointsFromCents(amountCents int64) int {
	return int(amountCents / CentsPerPoint)
}
