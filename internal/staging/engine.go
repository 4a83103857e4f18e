// Package staging loads a query result into an embedded DuckDB database that
// every destination reads from.
package staging

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	duckdb "github.com/marcboeker/go-duckdb/v2"
	"github.com/sirupsen/logrus"
	"github.com/withObsrvr/pypi-ingest/internal/config"
	"github.com/withObsrvr/pypi-ingest/internal/errdefs"
)

// Table is the staged copy of the query result.
type Table struct {
	Name    string
	Rows    int64
	Catalog string
}

// Qualified returns catalog.name.
func (t *Table) Qualified() string {
	return t.Catalog + "." + t.Name
}

// Engine owns one DuckDB database and a single pinned connection for a run.
type Engine struct {
	db       *sql.DB
	conn     *sql.Conn
	catalog  string
	spillDir string
	staged   *Table
	logger   *logrus.Entry
}

// Open starts DuckDB. An empty path keeps the database in memory.
func Open(ctx context.Context, path string) (*Engine, error) {
	logger := logrus.WithField("component", "staging")

	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return nil, fmt.Errorf("create duckdb connector: %w", err)
	}
	db := sql.OpenDB(connector)

	e := &Engine{db: db, logger: logger}

	e.conn, err = db.Conn(ctx)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open duckdb connection: %w", err)
	}
	if _, err := e.conn.ExecContext(ctx, "SET TimeZone='UTC'"); err != nil {
		e.Close()
		return nil, fmt.Errorf("set duckdb time zone: %w", err)
	}
	if err := e.conn.QueryRowContext(ctx, "SELECT current_database()").Scan(&e.catalog); err != nil {
		e.Close()
		return nil, fmt.Errorf("read duckdb catalog: %w", err)
	}

	e.spillDir, err = os.MkdirTemp("", "pypi-ingest-spill-")
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create spill directory: %w", err)
	}

	where := path
	if where == "" {
		where = ":memory:"
	}
	logger.WithFields(logrus.Fields{"path": where, "catalog": e.catalog}).Info("Opened staging database")
	return e, nil
}

// Conn returns the pinned connection every statement of the run goes through.
func (e *Engine) Conn() *sql.Conn {
	return e.conn
}

// Catalog returns the name of the local database.
func (e *Engine) Catalog() string {
	return e.catalog
}

// Stage loads tbl into a new table called name. A run stages exactly one
// table and never replaces an existing one.
func (e *Engine) Stage(ctx context.Context, tbl arrow.Table, name string) (*Table, error) {
	if e.staged != nil {
		return nil, &errdefs.StagingError{Table: name, Err: fmt.Errorf("table %q already staged in this run", e.staged.Name)}
	}
	if err := config.ValidIdentifier(name); err != nil {
		return nil, &errdefs.StagingError{Table: name, Err: err}
	}

	exists, err := e.tableExists(ctx, name)
	if err != nil {
		return nil, &errdefs.StagingError{Table: name, Err: err}
	}
	if exists {
		return nil, &errdefs.StagingError{Table: name, Err: fmt.Errorf("table already exists in %s", e.catalog)}
	}

	spill := filepath.Join(e.spillDir, name+".parquet")
	if err := writeParquet(tbl, spill); err != nil {
		return nil, &errdefs.StagingError{Table: name, Err: err}
	}
	defer os.Remove(spill)

	stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_parquet(%s)", QuoteIdent(name), QuoteLiteral(spill))
	if _, err := e.conn.ExecContext(ctx, stmt); err != nil {
		return nil, &errdefs.StagingError{Table: name, Err: fmt.Errorf("create table: %w", err)}
	}

	staged := &Table{Name: name, Catalog: e.catalog}
	if err := e.conn.QueryRowContext(ctx, "SELECT count(*) FROM "+QuoteIdent(name)).Scan(&staged.Rows); err != nil {
		return nil, &errdefs.StagingError{Table: name, Err: fmt.Errorf("count rows: %w", err)}
	}
	e.staged = staged

	e.logger.WithFields(logrus.Fields{
		"table": staged.Qualified(),
		"rows":  staged.Rows,
	}).Info("Staged query result")
	return staged, nil
}

func (e *Engine) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := e.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables
		 WHERE table_catalog = current_database() AND table_schema = current_schema() AND table_name = ?`,
		name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check existing tables: %w", err)
	}
	return n > 0, nil
}

// Close releases the connection, the database and any spill files. It is
// safe to call more than once.
func (e *Engine) Close() error {
	var errs []string
	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		e.conn = nil
	}
	// Closing the DB also closes the connector.
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		e.db = nil
	}
	if e.spillDir != "" {
		os.RemoveAll(e.spillDir)
		e.spillDir = ""
	}
	if len(errs) > 0 {
		return fmt.Errorf("close staging database: %s", strings.Join(errs, "; "))
	}
	return nil
}

// QuoteIdent quotes a DuckDB identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a DuckDB string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
