// Package recording stores paging activity in a SQLite database so
// that a sample's memory behavior can be queried after an emulation
// run.
package recording

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	// SQLite driver for database/sql.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// A Recorder stores same-shaped entry structs into database tables.
// Inserts are buffered and written in batches.
type Recorder interface {
	// CreateTable creates a table whose columns are the fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// Insert buffers one entry for a table that already exists.
	Insert(tableName string, entry any)

	// Flush writes all buffered entries to the database.
	Flush()

	// Close flushes and releases the database.
	Close() error
}

// New creates a Recorder backed by a SQLite database at path. An empty
// path picks a fresh generated name in the working directory.
func New(path string) Recorder {
	r := &sqliteRecorder{
		dbPath:    path,
		batchSize: 4096,
		tables:    make(map[string]*table),
	}

	r.init()

	atexit.Register(func() { r.Flush() })

	return r
}

type table struct {
	fields  []string
	entries []any
}

type sqliteRecorder struct {
	db        *sql.DB
	dbPath    string
	tables    map[string]*table
	batchSize int
	buffered  int
}

func (r *sqliteRecorder) init() {
	if r.dbPath == "" {
		r.dbPath = "peemu_trace_" + xid.New().String() + ".sqlite3"
	}

	db, err := sql.Open("sqlite3", r.dbPath)
	if err != nil {
		panic(err)
	}

	r.db = db
}

func columnNames(sampleEntry any) []string {
	t := reflect.TypeOf(sampleEntry)
	if t.Kind() != reflect.Struct {
		panic("recording: entries must be structs")
	}

	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		switch f.Type.Kind() {
		case reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16,
			reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16,
			reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64,
			reflect.String:
			names = append(names, f.Name)
		default:
			panic(fmt.Sprintf("recording: field %s has unsupported type %s",
				f.Name, f.Type))
		}
	}

	return names
}

func (r *sqliteRecorder) CreateTable(tableName string, sampleEntry any) {
	fields := columnNames(sampleEntry)

	r.mustExecute(`CREATE TABLE ` + tableName +
		` (` + strings.Join(fields, ", ") + `);`)

	r.tables[tableName] = &table{fields: fields}
}

func (r *sqliteRecorder) Insert(tableName string, entry any) {
	t, ok := r.tables[tableName]
	if !ok {
		panic(fmt.Sprintf("recording: table %s does not exist", tableName))
	}

	t.entries = append(t.entries, entry)

	r.buffered++
	if r.buffered >= r.batchSize {
		r.Flush()
	}
}

func (r *sqliteRecorder) Flush() {
	if r.buffered == 0 {
		return
	}

	r.mustExecute("BEGIN TRANSACTION")
	defer r.mustExecute("COMMIT TRANSACTION")

	for name, t := range r.tables {
		if len(t.entries) == 0 {
			continue
		}

		placeholders := strings.TrimSuffix(
			strings.Repeat("?, ", len(t.fields)), ", ")
		stmt, err := r.db.Prepare(
			"INSERT INTO " + name + " VALUES (" + placeholders + ")")
		if err != nil {
			panic(err)
		}

		for _, entry := range t.entries {
			v := reflect.ValueOf(entry)
			args := make([]any, 0, v.NumField())
			for i := 0; i < v.NumField(); i++ {
				args = append(args, v.Field(i).Interface())
			}

			if _, err := stmt.Exec(args...); err != nil {
				panic(err)
			}
		}

		t.entries = nil
		stmt.Close()
	}

	r.buffered = 0
}

func (r *sqliteRecorder) Close() error {
	r.Flush()
	return r.db.Close()
}

func (r *sqliteRecorder) mustExecute(query string) {
	if _, err := r.db.Exec(query); err != nil {
		panic(fmt.Errorf("recording: %q failed: %w", query, err))
	}
}
