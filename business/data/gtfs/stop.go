package gtfs

import "github.com/jmoiron/sqlx"

// Stop contains a record from a gtfs stops.txt file
type Stop struct {
	DataSetId int64   `db:"data_set_id" json:"data_set_id"`
	StopId    string  `db:"stop_id" json:"stop_id"`
	StopName  string  `db:"stop_name" json:"stop_name"`
	StopLat   float64 `db:"stop_lat" json:"stop_lat"`
	StopLon   float64 `db:"stop_lon" json:"stop_lon"`
}

// RecordStops saves stops to database in batch
func RecordStops(stops []*Stop, dsTx *DataSetTransaction) error {
	if len(stops) == 0 {
		return nil
	}
	for _, stop := range stops {
		stop.DataSetId = dsTx.DS.Id
	}
	statementString := "insert into stop (data_set_id, stop_id, stop_name, stop_lat, stop_lon) " +
		"values (:data_set_id, :stop_id, :stop_name, :stop_lat, :stop_lon)"
	_, err := dsTx.Tx.NamedExec(statementString, stops)
	return err
}

// GetStops retrieves every stop in dataSetId
func GetStops(db *sqlx.DB, dataSetId int64) ([]*Stop, error) {
	var stops []*Stop
	query := db.Rebind("select * from stop where data_set_id = ?")
	err := db.Select(&stops, query, dataSetId)
	return stops, err
}
