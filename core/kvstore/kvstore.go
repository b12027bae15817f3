// Package kvstore provides the key/value capability the gateway persists its credentials and
// cached responses in.
//
// There are several drivers: an in-memory map, the local filesystem, a Postgres registry
// table, Redis, MongoDB and AWS S3. All of them store opaque byte values under string keys.
package kvstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when there is no value for a key
var ErrNotFound = errors.New("kvstore: key not found")

// ErrQuotaExceeded is returned by Set when the underlying storage refuses the write because it
// is full. The value has not been written.
var ErrQuotaExceeded = errors.New("kvstore: quota exceeded")

// Store is a key/value store
type Store interface {
	// Get returns the value for key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value for key, overwriting any previous value
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all keys starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// DriverType represents the different type of store drivers
type DriverType string

// The available store drivers
const (
	DriverTypeMemory     DriverType = "memory"
	DriverTypeFilesystem DriverType = "filesystem"
	DriverTypePostgres   DriverType = "postgres"
	DriverTypeRedis      DriverType = "redis"
	DriverTypeMongoDB    DriverType = "mongodb"
	DriverTypeAWSS3      DriverType = "s3"
)

// Configuration selects and configures a driver
type Configuration struct {
	DriverType DriverType

	// QuotaBytes limits the memory driver, 0 means unlimited
	QuotaBytes int
	// BasePath is the folder of the filesystem driver
	BasePath string
	// Postgres is the connection string of the postgres driver
	Postgres string
	// PostgresSchema is the schema of the postgres driver, default "public"
	PostgresSchema string
	// RedisAddr is the address of the redis driver
	RedisAddr string
	// MongoURI and MongoDatabase configure the mongodb driver
	MongoURI      string
	MongoDatabase string
	// S3 configures the s3 driver
	S3 S3Configuration
}

// New returns a store for the given configuration. An empty driver type selects the
// memory driver.
func New(ctx context.Context, config Configuration) (Store, error) {
	var (
		store Store
		err   error
	)
	switch config.DriverType {
	case DriverTypeMemory, "":
		return NewMemory(config.QuotaBytes), nil
	case DriverTypeFilesystem:
		var f *Filesystem
		if f, err = NewFilesystem(config.BasePath); err == nil {
			store = f
		}
	case DriverTypePostgres:
		var p *Postgres
		if p, err = OpenPostgres(config.Postgres, config.PostgresSchema); err == nil {
			store = p
		}
	case DriverTypeRedis:
		var r *Redis
		if r, err = DialRedis(ctx, config.RedisAddr); err == nil {
			store = r
		}
	case DriverTypeMongoDB:
		var m *MongoDB
		if m, err = ConnectMongoDB(ctx, config.MongoURI, config.MongoDatabase); err == nil {
			store = m
		}
	case DriverTypeAWSS3:
		var s *S3
		if s, err = NewS3(ctx, config.S3); err == nil {
			store = s
		}
	default:
		err = fmt.Errorf("unknown store driver '%s'", config.DriverType)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
