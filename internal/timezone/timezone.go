// Package timezone implements the civil-time arithmetic that decides when a
// user's recurring event fires. It is deliberately the only place in the
// pipeline that reasons about IANA zones, DST, and leap days.
package timezone

import (
	"time"

	"github.com/tartampluch/greeter-service/internal/apperr"
)

// LoadZone resolves an IANA zone name, failing with a Validation error
// tagged INVALID_ZONE for unknown names.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return nil, apperr.New(apperr.TypeValidation, "INVALID_ZONE").WithDetails("zone name is empty")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.TypeValidation, "INVALID_ZONE").WithDetailsf("unknown zone %q", name)
	}
	return loc, nil
}

// CelebrationDate normalizes an anchor calendar date's month/day to the
// occurrence date within occurrenceYear, applying the "celebrate day before"
// policy for Feb 29 anchors falling on a non-leap year.
func CelebrationDate(anchor time.Time, occurrenceYear int, loc *time.Location) time.Time {
	month, day := anchor.Month(), anchor.Day()
	if month == time.February && day == 29 && !isLeap(occurrenceYear) {
		return time.Date(occurrenceYear, time.February, 28, 0, 0, 0, 0, loc)
	}
	return time.Date(occurrenceYear, month, day, 0, 0, 0, 0, loc)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// OccursOn reports whether anchor's calendar date recurs on the civil date of
// `today`, once `today` is projected into loc. This is the "does this fire
// today" operation from §4.A: it extracts month/day after projection and
// compares against the (leap-adjusted) anchor.
func OccursOn(anchor time.Time, today time.Time, loc *time.Location) bool {
	local := today.In(loc)
	celebration := CelebrationDate(anchor, local.Year(), loc)
	return local.Year() == celebration.Year() &&
		local.Month() == celebration.Month() &&
		local.Day() == celebration.Day()
}

// SendInstant returns the UTC instant at which wall-clock hour:minute occurs
// on occurrenceDate (already the celebration date, in loc) in loc.
//
// DST gaps ("spring forward") are resolved deterministically: if hour:minute
// does not exist that day in loc, the function advances minute by minute
// (capped at 4 hours, comfortably larger than any real DST gap) until it
// finds the next valid local instant, per the documented open-question
// resolution in DESIGN.md — we never rely on the zone library's silent
// normalization behavior.
func SendInstant(occurrenceDate time.Time, hour, minute int, loc *time.Location) (time.Time, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, apperr.Newf(apperr.TypeValidation, "INVALID_DATE").WithDetailsf("invalid time of day %02d:%02d", hour, minute)
	}

	const maxProbe = 4 * time.Hour
	for offset := time.Duration(0); offset < maxProbe; offset += time.Minute {
		candidateMinute := minute + int(offset/time.Minute)
		candidateHour := hour + candidateMinute/60
		candidateMinute %= 60
		if candidateHour > 23 {
			break
		}

		local := time.Date(occurrenceDate.Year(), occurrenceDate.Month(), occurrenceDate.Day(),
			candidateHour, candidateMinute, 0, 0, loc)

		// A local instant "exists" if round-tripping through the zone
		// preserves the wall-clock fields we asked for. DST gaps shift
		// local.Hour()/Minute() forward when the requested wall-clock time
		// was skipped.
		if local.Hour() == candidateHour && local.Minute() == candidateMinute {
			return local.UTC(), nil
		}
	}

	return time.Time{}, apperr.Newf(apperr.TypeInternal, "no valid local instant found near %02d:%02d on %s", hour, minute, occurrenceDate.Format("2006-01-02"))
}
