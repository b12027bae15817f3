// Package config reads the gateway configuration from the process environment.
//
// The configuration is read once at startup. A .env file in the working directory is
// loaded first if present; variables already set in the environment take precedence.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/relabs-tech/gateway/core/kvstore"
)

// Configuration holds the configuration for a gateway
//
// use API_URL="http://localhost:3000/api" SOCKET_URL="ws://localhost:3000/socket"
type Configuration struct {
	APIURL         string        `env:"API_URL,required" description:"the base URL of the REST API"`
	SocketURL      string        `env:"SOCKET_URL" description:"the URL of the realtime channel"`
	ProbeInterval  time.Duration `env:"PROBE_INTERVAL,default=15s" description:"interval of the connectivity probe used without SOCKET_URL"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=30s" description:"wall-clock timeout of one network call"`
	CacheTTL       time.Duration `env:"CACHE_TTL,default=5m" description:"time to live of cached read responses"`
	RefreshPath    string        `env:"REFRESH_PATH,default=/auth/refresh-token" description:"path of the token refresh endpoint"`
	LogLevel       string        `env:"LOG_LEVEL,default=info" description:"logrus log level"`

	StoreDriver    string `env:"STORE_DRIVER,default=memory" description:"memory, filesystem, postgres, redis, mongodb or s3"`
	StoreQuota     int    `env:"STORE_QUOTA,default=5242880" description:"quota in bytes of the memory store"`
	StorePath      string `env:"STORE_PATH,default=.gateway" description:"folder of the filesystem store"`
	Postgres       string `env:"POSTGRES" description:"the connection string for the Postgres store"`
	PostgresSchema string `env:"POSTGRES_SCHEMA,default=gateway" description:"schema of the Postgres store"`
	RedisAddr      string `env:"REDIS_ADDR" description:"address of the Redis store"`
	MongoURI       string `env:"MONGODB_URI" description:"connection URI of the MongoDB store"`
	MongoDatabase  string `env:"MONGODB_DATABASE,default=gateway" description:"database of the MongoDB store"`
	AWSRegion      string `env:"AWS_REGION,default=eu-central-1" description:"region for S3 and SQS"`
	AWSAccessID    string `env:"AWS_ACCESS_ID" description:"static access id for S3 and SQS"`
	AWSAccessKey   string `env:"AWS_ACCESS_KEY" description:"static access key for S3 and SQS"`
	AWSBucketName  string `env:"AWS_BUCKET_NAME" description:"bucket of the S3 store"`
	AWSKeyPrefix   string `env:"AWS_KEY_PREFIX" description:"key prefix of the S3 store"`

	SyncDriver   string `env:"SYNC_DRIVER,default=none" description:"none, kafka, sqs or amqp"`
	KafkaBrokers string `env:"KAFKA_BROKERS" description:"comma separated list of kafka brokers"`
	SyncTopic    string `env:"SYNC_TOPIC,default=api-request-sync" description:"kafka topic, amqp routing key of sync registrations"`
	SQSQueueURL  string `env:"SQS_QUEUE_URL" description:"queue URL for sync registrations"`
	AMQPURL      string `env:"AMQP_URL" description:"rabbitmq URL for sync registrations"`
	AMQPExchange string `env:"AMQP_EXCHANGE" description:"rabbitmq exchange for sync registrations"`

	DeviceWidth      int     `env:"DEVICE_WIDTH,default=1920" description:"viewport width reported to the API"`
	DeviceHeight     int     `env:"DEVICE_HEIGHT,default=1080" description:"viewport height reported to the API"`
	DevicePixelRatio float64 `env:"DEVICE_PIXEL_RATIO,default=1" description:"pixel density reported to the API"`
	DeviceStandalone bool    `env:"DEVICE_STANDALONE,default=false" description:"report the app-shell mode instead of browser"`
	Timezone         string  `env:"TZ_NAME" description:"IANA timezone reported to the API, defaults to the local zone"`
}

// Load reads the configuration from an optional .env file and the environment
func Load() (*Configuration, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return decode()
}

// LoadFile reads the configuration from the given env files and the environment
func LoadFile(filenames ...string) (*Configuration, error) {
	if err := godotenv.Load(filenames...); err != nil {
		return nil, err
	}
	return decode()
}

func decode() (*Configuration, error) {
	c := &Configuration{}
	if err := envdecode.Decode(c); err != nil {
		return nil, err
	}
	c.APIURL = strings.TrimSuffix(c.APIURL, "/")
	return c, nil
}

// Store returns the store configuration
func (c *Configuration) Store() kvstore.Configuration {
	return kvstore.Configuration{
		DriverType:     kvstore.DriverType(c.StoreDriver),
		QuotaBytes:     c.StoreQuota,
		BasePath:       c.StorePath,
		Postgres:       c.Postgres,
		PostgresSchema: c.PostgresSchema,
		RedisAddr:      c.RedisAddr,
		MongoURI:       c.MongoURI,
		MongoDatabase:  c.MongoDatabase,
		S3: kvstore.S3Configuration{
			AWSRegion:     c.AWSRegion,
			AccessID:      c.AWSAccessID,
			AccessKey:     c.AWSAccessKey,
			AWSBucketName: c.AWSBucketName,
			KeyPrefix:     c.AWSKeyPrefix,
		},
	}
}

// Brokers returns the kafka brokers as list
func (c *Configuration) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
