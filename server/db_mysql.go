package server

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"

	"github.com/libarch/folio/batch"
)

// This file implements the batch database using MySQL as the backing
// store. Use it when more than one server instance shares the record of
// submitted batches.

type msqlBatchDB struct {
	db *sql.DB
}

var _ BatchDB = &msqlBatchDB{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
	mysqlschema2,
}

// Adapt the schema versioning for MySQL

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMysqlBatchDB connects to a MySQL database and returns a BatchDB
// backed by it. dial is a go-sql-driver connection string, e.g.
// "user:password@tcp(localhost:3306)/folio?parseTime=true". The parseTime
// option is required so created times scan back as time.Time.
func NewMysqlBatchDB(dial string) (BatchDB, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open Mysql: %s", err.Error())
		return nil, err
	}
	return &msqlBatchDB{db: db}, nil
}

func (ms *msqlBatchDB) NewBatch(id, requester, collection string) error {
	const dbInsert = `
		INSERT INTO batches (id, requester, collection, created)
		VALUES (?, ?, ?, ?)`
	_, err := ms.db.Exec(dbInsert, id, requester, collection, time.Now())
	if err != nil {
		log.Printf("Batch DB: %s", err.Error())
	}
	return err
}

func (ms *msqlBatchDB) FinishBatch(id string, report batch.Report) error {
	const dbUpdate = `UPDATE batches SET finished = ?, report = ? WHERE id = ?`
	value, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = ms.db.Exec(dbUpdate, time.Now(), value, id)
	if err != nil {
		log.Printf("Batch DB: %s", err.Error())
	}
	return err
}

func (ms *msqlBatchDB) LookupBatch(id string) *BatchRecord {
	const dbLookup = `
		SELECT id, requester, collection, created, report
		FROM batches
		WHERE id = ?
		LIMIT 1`

	rec, err := scanRecord(ms.db.QueryRow(dbLookup, id))
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("Batch DB: %s", err.Error())
		}
		return nil
	}
	return rec
}

func (ms *msqlBatchDB) ListBatches(limit int) []BatchRecord {
	const dbList = `
		SELECT id, requester, collection, created, report
		FROM batches
		ORDER BY created DESC
		LIMIT ?`

	rows, err := ms.db.Query(dbList, limit)
	if err != nil {
		log.Printf("Batch DB: %s", err.Error())
		return nil
	}
	defer rows.Close()
	var result []BatchRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			log.Printf("Batch DB: %s", err.Error())
			continue
		}
		result = append(result, *rec)
	}
	return result
}

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS batches (
			id varchar(64),
			requester varchar(255),
			collection varchar(255),
			created datetime,
			finished datetime,
			report mediumblob)`,
		`CREATE INDEX i_batches_id ON batches (id)`,
	}
	return execlist(tx, s)
}

func mysqlschema2(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE INDEX i_batches_created ON batches (created)`,
	}
	return execlist(tx, s)
}

// execlist executes a sequence of sql statements, stopping at the
// first error.
func execlist(tx migration.LimitedTx, stms []string) error {
	var err error
	for _, s := range stms {
		_, err = tx.Exec(s)
		if err != nil {
			break
		}
	}
	return err
}
