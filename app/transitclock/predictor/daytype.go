package predictor

import (
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

//day types travel time statistics are kept for. Holidays usually run a sunday schedule and share its statistics
const (
	Weekday  = "weekday"
	Saturday = "saturday"
	Sunday   = "sunday"
)

//DayTypes classifies service dates using the holidays observed by the transit agency
type DayTypes struct {
	calendar *cal.BusinessCalendar
}

//NewDayTypes builds DayTypes observing US federal holidays
//TODO:: read the agency's holidays from the policy file instead of hardcoding them
func NewDayTypes() *DayTypes {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(
		us.NewYear,
		us.MlkDay,
		us.MemorialDay,
		us.IndependenceDay,
		us.LaborDay,
		us.ThanksgivingDay,
		us.ChristmasDay,
		us.Juneteenth,
	)
	return &DayTypes{calendar: calendar}
}

//IsHoliday returns true if at is on a holiday observed by the transit agency
func (d *DayTypes) IsHoliday(at time.Time) bool {
	_, observed, _ := d.calendar.IsHoliday(at)
	return observed
}

//At returns the day type of the service date at
func (d *DayTypes) At(at time.Time) string {
	if d.IsHoliday(at) {
		return Sunday
	}
	switch at.Weekday() {
	case time.Saturday:
		return Saturday
	case time.Sunday:
		return Sunday
	}
	return Weekday
}
