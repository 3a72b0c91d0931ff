package strategy

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tartampluch/greeter-service/internal/apperr"
	"github.com/tartampluch/greeter-service/internal/config"
	"github.com/tartampluch/greeter-service/internal/timezone"
	"github.com/tartampluch/greeter-service/internal/users"
)

// KindBirthday is the canonical kind string for the birthday strategy.
const KindBirthday = "BIRTHDAY"

var validate = validator.New()

// birthdayValidationTarget mirrors the fields Birthday.Validate checks,
// expressed as struct tags so go-playground/validator drives the checks
// instead of hand-rolled if-chains.
type birthdayValidationTarget struct {
	Timezone string `validate:"required"`
}

// Birthday implements Strategy for the YEARLY birthday event.
type Birthday struct{}

// NewBirthday constructs the birthday strategy.
func NewBirthday() *Birthday { return &Birthday{} }

func (Birthday) Kind() string { return KindBirthday }

func (Birthday) GetSchedule() Schedule {
	return Schedule{
		Cadence:      "YEARLY",
		TriggerField: "BirthdayDate",
		SendHour:     config.DefaultSendHour,
		SendMinute:   config.DefaultSendMinute,
	}
}

func (b Birthday) ShouldSend(u users.User, nowUTC time.Time) (bool, error) {
	if u.BirthdayDate == nil || u.IsDeleted() {
		return false, nil
	}
	loc, err := timezone.LoadZone(u.Timezone)
	if err != nil {
		return false, err
	}
	return timezone.OccursOn(*u.BirthdayDate, nowUTC, loc), nil
}

func (b Birthday) AnchorDate(u users.User) (time.Time, bool) {
	if u.BirthdayDate == nil {
		return time.Time{}, false
	}
	return *u.BirthdayDate, true
}

func (b Birthday) CalculateSendTime(u users.User, occurrenceDate time.Time) (time.Time, error) {
	loc, err := timezone.LoadZone(u.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	sched := b.GetSchedule()
	return timezone.SendInstant(occurrenceDate, sched.SendHour, sched.SendMinute, loc)
}

func (b Birthday) ComposeMessage(u users.User, _ Context) (string, error) {
	return fmt.Sprintf("Hey, %s %s it's your birthday", u.FirstName, u.LastName), nil
}

func (b Birthday) Validate(u users.User) Result {
	res := Result{Valid: true}

	if err := validate.Struct(birthdayValidationTarget{Timezone: u.Timezone}); err != nil {
		res.Valid = false
		res.Errors = append(res.Errors, "timezone is required")
	}
	if u.BirthdayDate == nil {
		res.Valid = false
		res.Errors = append(res.Errors, "birthdayDate is required")
	}
	if _, err := timezone.LoadZone(u.Timezone); err != nil && u.Timezone != "" {
		res.Valid = false
		res.Errors = append(res.Errors, apperr.Wrap(err, apperr.TypeValidation, "INVALID_ZONE").Error())
	}
	if u.FirstName == "" {
		res.Warnings = append(res.Warnings, "firstName is empty, message content will look odd")
	}
	return res
}
