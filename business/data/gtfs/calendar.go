package gtfs

import (
	"time"

	"github.com/jmoiron/sqlx"
)

// Calendar contains data from a record in a gtfs calendar.txt file
type Calendar struct {
	DataSetId int64  `db:"data_set_id"`
	ServiceId string `db:"service_id"`
	Monday    int
	Tuesday   int
	Wednesday int
	Thursday  int
	Friday    int
	Saturday  int
	Sunday    int
	StartDate time.Time `db:"start_date"`
	EndDate   time.Time `db:"end_date"`
}

// RunsOn returns true if the calendar's weekday columns include weekday
func (c *Calendar) RunsOn(weekday time.Weekday) bool {
	flags := [7]int{c.Sunday, c.Monday, c.Tuesday, c.Wednesday, c.Thursday, c.Friday, c.Saturday}
	return flags[weekday] == 1
}

// CalendarDate contains data from a record in a gtfs calendar_dates.txt file
type CalendarDate struct {
	DataSetId     int64  `db:"data_set_id"`
	ServiceId     string `db:"service_id"`
	Date          time.Time
	ExceptionType int `db:"exception_type"`
}

// exception_type values from calendar_dates.txt
const (
	ServiceAdded   = 1
	ServiceRemoved = 2
)

func RecordCalendar(calendar *Calendar, dsTx *DataSetTransaction) error {
	calendar.DataSetId = dsTx.DS.Id
	statementString := "insert into calendar ( " +
		"data_set_id, " +
		"service_id, " +
		"monday, " +
		"tuesday, " +
		"wednesday, " +
		"thursday, " +
		"friday, " +
		"saturday, " +
		"sunday, " +
		"start_date," +
		"end_date) " +
		"values (" +
		":data_set_id, " +
		":service_id, " +
		":monday, " +
		":tuesday, " +
		":wednesday, " +
		":thursday, " +
		":friday, " +
		":saturday, " +
		":sunday, " +
		":start_date," +
		":end_date) "
	_, err := dsTx.Tx.NamedExec(statementString, calendar)
	return err

}

func RecordCalendarDate(calendarDate *CalendarDate, dsTx *DataSetTransaction) error {
	calendarDate.DataSetId = dsTx.DS.Id
	statementString := "insert into calendar_date ( " +
		"data_set_id, " +
		"service_id, " +
		"date, " +
		"exception_type) " +
		"values (" +
		":data_set_id, " +
		":service_id, " +
		":date, " +
		":exception_type)"
	_, err := dsTx.Tx.NamedExec(statementString, calendarDate)
	return err

}

// GetCalendars retrieves every calendar record in dataSetId
func GetCalendars(db *sqlx.DB, dataSetId int64) ([]*Calendar, error) {
	var calendars []*Calendar
	query := db.Rebind("select * from calendar where data_set_id = ?")
	err := db.Select(&calendars, query, dataSetId)
	return calendars, err
}

// GetCalendarDates retrieves every calendar_date record in dataSetId
func GetCalendarDates(db *sqlx.DB, dataSetId int64) ([]*CalendarDate, error) {
	var calendarDates []*CalendarDate
	query := db.Rebind("select * from calendar_date where data_set_id = ?")
	err := db.Select(&calendarDates, query, dataSetId)
	return calendarDates, err
}
