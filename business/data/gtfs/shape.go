package gtfs

import "github.com/jmoiron/sqlx"

/*
Shape contains rows from the GTFS shapes.txt file
*/
type Shape struct {
	DataSetId         int64    `db:"data_set_id" json:"data_set_id"`
	ShapeId           string   `db:"shape_id" json:"shape_id"`
	ShapePtLat        float64  `db:"shape_pt_lat" json:"shape_pt_lat"`
	ShapePtLng        float64  `db:"shape_pt_lon" json:"shape_pt_lon"`
	ShapePtSequence   int      `db:"shape_pt_sequence" json:"shape_pt_sequence"`
	ShapeDistTraveled *float64 `db:"shape_dist_traveled" json:"shape_dist_traveled"`
}

// RecordShapes saves shapes to database in a batch
func RecordShapes(shapes []*Shape, dsTx *DataSetTransaction) error {
	if len(shapes) == 0 {
		return nil
	}
	for _, shape := range shapes {
		shape.DataSetId = dsTx.DS.Id
	}

	statementString := "insert into shape ( " +
		"data_set_id, " +
		"shape_id, " +
		"shape_pt_lat, " +
		"shape_pt_lon, " +
		"shape_pt_sequence, " +
		"shape_dist_traveled) " +
		"values (" +
		":data_set_id, " +
		":shape_id, " +
		":shape_pt_lat, " +
		":shape_pt_lon, " +
		":shape_pt_sequence, " +
		":shape_dist_traveled)"
	_, err := dsTx.Tx.NamedExec(statementString, shapes)
	return err
}

// GetShapes retrieves all shape points in dataSetId ordered by shape and sequence
func GetShapes(db *sqlx.DB, dataSetId int64) ([]*Shape, error) {
	var shapes []*Shape
	query := db.Rebind("select * from shape where data_set_id = ? order by shape_id, shape_pt_sequence")
	err := db.Select(&shapes, query, dataSetId)
	return shapes, err
}
