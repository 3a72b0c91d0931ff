package strategy

import (
	"fmt"
	"time"

	"github.com/tartampluch/greeter-service/internal/apperr"
	"github.com/tartampluch/greeter-service/internal/config"
	"github.com/tartampluch/greeter-service/internal/timezone"
	"github.com/tartampluch/greeter-service/internal/users"
)

// KindAnniversary is the canonical kind string for the anniversary strategy.
const KindAnniversary = "ANNIVERSARY"

// Anniversary implements Strategy for the YEARLY work-anniversary event.
type Anniversary struct{}

// NewAnniversary constructs the anniversary strategy.
func NewAnniversary() *Anniversary { return &Anniversary{} }

func (Anniversary) Kind() string { return KindAnniversary }

func (Anniversary) GetSchedule() Schedule {
	return Schedule{
		Cadence:      "YEARLY",
		TriggerField: "AnniversaryDate",
		SendHour:     config.DefaultSendHour,
		SendMinute:   config.DefaultSendMinute,
	}
}

func (a Anniversary) ShouldSend(u users.User, nowUTC time.Time) (bool, error) {
	if u.AnniversaryDate == nil || u.IsDeleted() {
		return false, nil
	}
	loc, err := timezone.LoadZone(u.Timezone)
	if err != nil {
		return false, err
	}
	return timezone.OccursOn(*u.AnniversaryDate, nowUTC, loc), nil
}

func (a Anniversary) AnchorDate(u users.User) (time.Time, bool) {
	if u.AnniversaryDate == nil {
		return time.Time{}, false
	}
	return *u.AnniversaryDate, true
}

func (a Anniversary) CalculateSendTime(u users.User, occurrenceDate time.Time) (time.Time, error) {
	loc, err := timezone.LoadZone(u.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	sched := a.GetSchedule()
	return timezone.SendInstant(occurrenceDate, sched.SendHour, sched.SendMinute, loc)
}

func (a Anniversary) ComposeMessage(u users.User, ctx Context) (string, error) {
	if u.AnniversaryDate == nil {
		return "", apperr.New(apperr.TypeValidation, "anniversaryDate is required to compose message")
	}
	years := ctx.OccurrenceDate.Year() - u.AnniversaryDate.Year()
	unit := "years"
	if years == 1 {
		unit = "year"
	}
	return fmt.Sprintf("Hey, %s %s it's your work anniversary! %d %s with us!", u.FirstName, u.LastName, years, unit), nil
}

func (a Anniversary) Validate(u users.User) Result {
	res := Result{Valid: true}

	if u.Timezone == "" {
		res.Valid = false
		res.Errors = append(res.Errors, "timezone is required")
	} else if _, err := timezone.LoadZone(u.Timezone); err != nil {
		res.Valid = false
		res.Errors = append(res.Errors, apperr.Wrap(err, apperr.TypeValidation, "INVALID_ZONE").Error())
	}
	if u.AnniversaryDate == nil {
		res.Valid = false
		res.Errors = append(res.Errors, "anniversaryDate is required")
	}
	if u.FirstName == "" {
		res.Warnings = append(res.Warnings, "firstName is empty, message content will look odd")
	}
	return res
}
