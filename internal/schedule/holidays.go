package schedule

import "time"

// usMarketHolidays is the fixed list of US market holiday dates. Not
// computed: observed dates shift year to year, so the table is maintained by
// hand.
var usMarketHolidays = map[string]bool{
	// 2025
	"2025-01-01": true, // New Year's Day
	"2025-01-20": true, // Martin Luther King Jr. Day
	"2025-02-17": true, // Presidents Day
	"2025-04-18": true, // Good Friday
	"2025-05-26": true, // Memorial Day
	"2025-06-19": true, // Juneteenth
	"2025-07-04": true, // Independence Day
	"2025-09-01": true, // Labor Day
	"2025-11-27": true, // Thanksgiving
	"2025-12-25": true, // Christmas

	// 2026
	"2026-01-01": true, // New Year's Day
	"2026-01-19": true, // Martin Luther King Jr. Day
	"2026-02-16": true, // Presidents Day
	"2026-04-03": true, // Good Friday
	"2026-05-25": true, // Memorial Day
	"2026-06-19": true, // Juneteenth
	"2026-07-03": true, // Independence Day (observed)
	"2026-09-07": true, // Labor Day
	"2026-11-26": true, // Thanksgiving
	"2026-12-25": true, // Christmas

	// 2027
	"2027-01-01": true, // New Year's Day
	"2027-01-18": true, // Martin Luther King Jr. Day
	"2027-02-15": true, // Presidents Day
	"2027-03-26": true, // Good Friday
	"2027-05-31": true, // Memorial Day
	"2027-06-18": true, // Juneteenth (observed)
	"2027-07-05": true, // Independence Day (observed)
	"2027-09-06": true, // Labor Day
	"2027-11-25": true, // Thanksgiving
	"2027-12-24": true, // Christmas (observed)
}

// IsMarketHoliday reports whether t's civil date is a US market holiday.
// The caller picks the location by converting t first.
func IsMarketHoliday(t time.Time) bool {
	return usMarketHolidays[t.Format("2006-01-02")]
}

// IsWeekend reports whether t's civil date falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsTradingDay reports whether the market is open on t's civil date.
func IsTradingDay(t time.Time) bool {
	return !IsWeekend(t) && !IsMarketHoliday(t)
}
