package destination

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/withObsrvr/pypi-ingest/internal/config"
	"github.com/withObsrvr/pypi-ingest/internal/errdefs"
	"github.com/withObsrvr/pypi-ingest/internal/staging"
)

// MotherDuckTokenEnv holds the MotherDuck access token.
const MotherDuckTokenEnv = "MOTHERDUCK_TOKEN"

// SQLConn is the subset of *sql.Conn and *sql.DB the mirror needs.
type SQLConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Catalog makes a remote database reachable from the staging connection.
type Catalog interface {
	Check() error
	// Attach ensures database exists and is attached under its own name.
	Attach(ctx context.Context, conn SQLConn, database string) error
}

// MotherDuckCatalog attaches MotherDuck with an access token.
type MotherDuckCatalog struct {
	token string
}

// NewMotherDuckCatalog reads the token through lookup.
func NewMotherDuckCatalog(lookup func(string) (string, bool)) *MotherDuckCatalog {
	c := &MotherDuckCatalog{}
	if lookup != nil {
		c.token, _ = lookup(MotherDuckTokenEnv)
	}
	return c
}

func (c *MotherDuckCatalog) Check() error {
	if c.token == "" {
		return &errdefs.ConfigurationError{
			Fields:  []string{MotherDuckTokenEnv},
			Problem: "the motherduck destination requires an access token",
		}
	}
	return nil
}

func (c *MotherDuckCatalog) Attach(ctx context.Context, conn SQLConn, database string) error {
	if err := c.Check(); err != nil {
		return err
	}
	stmts := []struct {
		desc string
		sql  string
	}{
		{"install md", "INSTALL md"},
		{"load md", "LOAD md"},
		{"set token", "SET motherduck_token=" + staging.QuoteLiteral(c.token)},
		{"attach motherduck", "ATTACH 'md:'"},
		{"create database", "CREATE DATABASE IF NOT EXISTS " + staging.QuoteIdent(database)},
	}
	for _, s := range stmts {
		if _, err := conn.ExecContext(ctx, s.sql); err != nil {
			return fmt.Errorf("%s: %w", s.desc, err)
		}
	}
	return nil
}

// FileCatalog stands in for MotherDuck with local DuckDB files, one per
// database, under Dir.
type FileCatalog struct {
	Dir string
}

func (c *FileCatalog) Check() error { return nil }

func (c *FileCatalog) Attach(ctx context.Context, conn SQLConn, database string) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	path := filepath.Join(c.Dir, database+".duckdb")
	stmt := fmt.Sprintf("ATTACH IF NOT EXISTS %s AS %s", staging.QuoteLiteral(path), staging.QuoteIdent(database))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("attach %s: %w", path, err)
	}
	return nil
}

// MotherDuck mirrors the staged table into Database.<table>. Rows of the run
// window are deleted and re-inserted in one transaction, so repeating a run
// for the same window leaves exactly one copy of each row.
type MotherDuck struct {
	Database string
	Run      Run
	Catalog  Catalog
}

func (d *MotherDuck) Name() string { return string(config.DestinationMotherDuck) }

func (d *MotherDuck) Check() error {
	if d.Catalog == nil {
		return &errdefs.ConfigurationError{Fields: []string{MotherDuckTokenEnv}, Problem: "no remote catalog configured"}
	}
	if err := config.ValidIdentifier(d.Database); err != nil {
		return errdefs.Invalid(config.KeyRemoteDatabase, err.Error())
	}
	return d.Catalog.Check()
}

func (d *MotherDuck) Write(ctx context.Context, eng *staging.Engine, tbl *staging.Table) error {
	if err := d.Check(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"component":   "destination",
		"destination": d.Name(),
	}).Infof("Writing table %s to MotherDuck at %s", tbl.Name, d.Database)

	if err := d.Catalog.Attach(ctx, eng.Conn(), d.Database); err != nil {
		return err
	}
	return mirror(ctx, eng.Conn(), tbl.Catalog, d.Database, tbl.Name, d.Run)
}

// mirror creates remote.table with the local schema if needed and replaces the
// run window's rows with the staged ones.
func mirror(ctx context.Context, conn SQLConn, local, remote, table string, run Run) error {
	src := staging.QuoteIdent(local) + "." + staging.QuoteIdent(table)
	dst := staging.QuoteIdent(remote) + "." + staging.QuoteIdent(table)
	ts := staging.QuoteIdent(run.TimestampColumn)

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s AS SELECT * FROM %s LIMIT 0", dst, src)
	if _, err := conn.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create mirror table: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mirror transaction: %w", err)
	}
	defer tx.Rollback()

	del := fmt.Sprintf("DELETE FROM %s WHERE %s >= ? AND %s < ?", dst, ts, ts)
	res, err := tx.ExecContext(ctx, del, run.Start, run.End)
	if err != nil {
		return fmt.Errorf("delete window: %w", err)
	}
	deleted, _ := res.RowsAffected()

	ins := fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", dst, src)
	res, err = tx.ExecContext(ctx, ins)
	if err != nil {
		return fmt.Errorf("insert window: %w", err)
	}
	inserted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mirror transaction: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"component": "destination",
		"table":     remote + "." + table,
		"deleted":   deleted,
		"inserted":  inserted,
	}).Info("Mirrored window")
	return nil
}
