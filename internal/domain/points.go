package domain

// MinutesPerPoint is the exchange rate between exercise time and points.
const MinutesPerPoint = 15

// PointsForMinutes awards one point per full 15 minutes, never negative.
// Both activity persistence and aggregate recomputation go through this
// single definition so the two can never disagree.
func PointsForMinutes(minutes int) int {
	if minutes <= 0 {
		return 0
	}
	return minutes / MinutesPerPoint
}
