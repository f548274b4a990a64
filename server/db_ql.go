package server

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	_ "github.com/cznic/ql/driver"

	"github.com/libarch/folio/batch"
)

// This file implements the batch database on the QL embedded database. It
// is intended for development and small installations; use MySQL when more
// than one server shares a database.

type qlBatchDB struct {
	db *sql.DB
}

var _ BatchDB = &qlBatchDB{}

const qlBatchInit = `
	CREATE TABLE IF NOT EXISTS batches (
		id string,
		requester string,
		collection string,
		created time,
		finished time,
		report blob
	);
	CREATE INDEX IF NOT EXISTS batchid ON batches (id);
	CREATE INDEX IF NOT EXISTS batchcreated ON batches (created);
`

// NewQlBatchDB makes a batch database in a QL file. filename is the name of
// the file to save the database to. The filename "memory" means to keep
// everything in memory, which is useful for testing.
func NewQlBatchDB(filename string) (BatchDB, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "mem.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		err = performExec(db, qlBatchInit)
	}
	if err != nil {
		return nil, err
	}
	return &qlBatchDB{db: db}, nil
}

func (qc *qlBatchDB) NewBatch(id, requester, collection string) error {
	const dbInsert = `INSERT INTO batches VALUES (?1, ?2, ?3, ?4, ?5, ?6)`
	return performExecErr(qc.db, dbInsert,
		id, requester, collection, time.Now(), time.Time{}, []byte(nil))
}

func (qc *qlBatchDB) FinishBatch(id string, report batch.Report) error {
	const dbUpdate = `UPDATE batches SET finished = ?2, report = ?3 WHERE id == ?1`
	value, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return performExecErr(qc.db, dbUpdate, id, time.Now(), value)
}

func (qc *qlBatchDB) LookupBatch(id string) *BatchRecord {
	const dbLookup = `
		SELECT id, requester, collection, created, report
		FROM batches
		WHERE id == ?1
		LIMIT 1`

	rec, err := scanRecord(qc.db.QueryRow(dbLookup, id))
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("Batch DB QL: %s", err.Error())
		}
		return nil
	}
	return rec
}

func (qc *qlBatchDB) ListBatches(limit int) []BatchRecord {
	const dbList = `
		SELECT id, requester, collection, created, report
		FROM batches
		ORDER BY created DESC`

	rows, err := qc.db.Query(dbList)
	if err != nil {
		log.Printf("Batch DB QL: %s", err.Error())
		return nil
	}
	defer rows.Close()
	var result []BatchRecord
	for rows.Next() && len(result) < limit {
		rec, err := scanRecord(rows)
		if err != nil {
			log.Printf("Batch DB QL: %s", err.Error())
			continue
		}
		result = append(result, *rec)
	}
	return result
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one batches row. The report column is empty until the
// batch finishes.
func scanRecord(row scanner) (*BatchRecord, error) {
	var rec BatchRecord
	var value []byte
	err := row.Scan(&rec.ID, &rec.Requester, &rec.Collection, &rec.Created, &value)
	if err != nil {
		return nil, err
	}
	if len(value) > 0 {
		var report batch.Report
		if err := json.Unmarshal(value, &report); err != nil {
			return nil, err
		}
		rec.Report = &report
	}
	return &rec, nil
}

// performExec wraps an exec in the transaction QL requires.
func performExec(db *sql.DB, query string, args ...interface{}) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	_, err = tx.Exec(query, args...)
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func performExecErr(db *sql.DB, query string, args ...interface{}) error {
	err := performExec(db, query, args...)
	if err != nil {
		log.Printf("Batch DB QL: %s", err.Error())
	}
	return err
}
