// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/relabs-tech/gateway/core/logger"
)

// Postgres stores values in a registry table of a postgres database
type Postgres struct {
	db     *sql.DB
	schema string
}

// OpenPostgres opens a postgres database with a schema and creates the registry table if it
// does not exist. The schema gets created if it does not exist yet.
func OpenPostgres(dataSourceName, schema string) (*Postgres, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot connect to postgres: %w", err)
	}
	return NewPostgres(db, schema)
}

// NewPostgres returns a store on an already opened database
func NewPostgres(db *sql.DB, schema string) (*Postgres, error) {
	if schema == "" {
		schema = "public"
	} else {
		logger.Default().Debugln("selected database schema:", schema)
		if _, err := db.Exec(`CREATE schema IF NOT EXISTS ` + pq.QuoteIdentifier(schema) + `;`); err != nil {
			return nil, err
		}
	}
	p := &Postgres{db: db, schema: pq.QuoteIdentifier(schema)}
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + p.schema + `."_kv_" 
(key varchar NOT NULL, 
value bytea NOT NULL, 
timestamp timestamp NOT NULL DEFAULT now(), 
PRIMARY KEY(key)
);`)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Close closes the underlying database
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Get implements Store
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM `+p.schema+`."_kv_" WHERE key=$1;`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read key '%s': %w", key, err)
	}
	return value, nil
}

// Set implements Store
func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO `+p.schema+`."_kv_"(key,value,timestamp)
VALUES($1,$2,now())
ON CONFLICT (key) DO UPDATE SET value=$2,timestamp=now();`,
		key, value)
	if err != nil {
		if isQuotaError(err) {
			return ErrQuotaExceeded
		}
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("could not write key %s", key)
	}
	return nil
}

// Delete implements Store
func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM `+p.schema+`."_kv_" WHERE key=$1;`, key)
	return err
}

// Keys implements Store. The keys are sorted.
func (p *Postgres) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key FROM `+p.schema+`."_kv_" WHERE key LIKE $1 ESCAPE '\' ORDER BY key;`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// disk_full and program_limit_exceeded
func isQuotaError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "53100" || pqErr.Code == "54000"
	}
	return false
}
