// Package metadata persists sweep facts to a Cassandra cluster so that runs
// stay queryable long after the result directories are archived.
package metadata

import (
	"os"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"

	"github.com/geremyCohen/axion-opensearch/pkg/conf"
)

const (
	kindEmpty   = ""
	kindFlags   = "flags"
	kindEnviron = "environ"
	kindRun     = "run"
)

// Config encodes the settings for connecting to the database.
type Config struct {
	CassandraAddress           string
	CassandraUsername          string
	CassandraPassword          string
	CassandraConnectionTimeout time.Duration
}

// DefaultConfig returns a setup which uses a Cassandra cluster running on
// localhost without authentication.
func DefaultConfig() Config {
	return Config{
		CassandraAddress: "127.0.0.1",
	}
}

// Map encodes the key value pairs to be stored in Cassandra.
type Map map[string]string

// Metadata keeps the Cassandra session alive and tags every record with the
// sweep id.
type Metadata struct {
	sweepID string
	config  Config
	session *gocql.Session
}

// NewMetadata returns the Metadata helper from a sweep id and configuration.
// Connect() still needs to be called to get an active Cassandra session.
func NewMetadata(sweepID string, config Config) *Metadata {
	return &Metadata{
		sweepID: sweepID,
		config:  config,
	}
}

// Connect creates a session to the Cassandra cluster and prepares the
// schema. This function should only be called once.
func (m *Metadata) Connect() error {
	cluster := gocql.NewCluster(m.config.CassandraAddress)

	cluster.Consistency = gocql.LocalOne
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.ProtoVersion = 4
	cluster.Timeout = m.config.CassandraConnectionTimeout

	if m.config.CassandraUsername != "" && m.config.CassandraPassword != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: m.config.CassandraUsername,
			Password: m.config.CassandraPassword,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return errors.Wrap(err, "connecting to Cassandra failed")
	}
	m.session = session

	if err := session.Query("CREATE KEYSPACE IF NOT EXISTS axion WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': 1};").Exec(); err != nil {
		return errors.Wrap(err, "creating keyspace failed")
	}

	// Schema consistency check is ignored by CREATE queries; a SELECT on
	// system_schema.keyspaces forces agreement before the next statement.
	if err = session.Query("SELECT * FROM system_schema.keyspaces;").Exec(); err != nil {
		return err
	}

	if err = session.Query("CREATE TABLE IF NOT EXISTS axion.metadata (sweep_id text, kind text, time timestamp, timeuuid TIMEUUID, metadata map<text,text>, PRIMARY KEY ((sweep_id), timeuuid),) WITH CLUSTERING ORDER BY (timeuuid DESC);").Exec(); err != nil {
		return errors.Wrap(err, "creating metadata table failed")
	}

	if err = session.Query("SELECT * FROM system_schema.keyspaces;").Exec(); err != nil {
		return err
	}

	return nil
}

func (m *Metadata) storeMap(metadata Map, kind string) error {
	return m.session.Query(`INSERT INTO axion.metadata (sweep_id, kind, time, timeuuid, metadata) VALUES (?, ?, ?, ?, ?)`,
		m.sweepID, kind, time.Now(), gocql.TimeUUID(), metadata).Exec()
}

// Record stores a key and value and associates them with the sweep id.
func (m *Metadata) Record(key string, value string) error {
	return m.storeMap(Map{key: value}, kindEmpty)
}

// RecordMap stores a key and value map and associates it with the sweep id.
func (m *Metadata) RecordMap(metadata Map) error {
	return m.storeMap(metadata, kindEmpty)
}

// RecordRun stores the outcome of one benchmark repetition.
func (m *Metadata) RecordRun(values map[string]string) error {
	return m.storeMap(Map(values), kindRun)
}

// RecordFlags saves the whole flag based configuration.
func (m *Metadata) RecordFlags() error {
	return m.storeMap(conf.GetFlags(), kindFlags)
}

// RecordEnv adds all OS environment variables that start with prefix.
func (m *Metadata) RecordEnv(prefix string) error {
	metadata := Map{}
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, prefix) {
			fields := strings.SplitN(env, "=", 2)
			metadata[fields[0]] = fields[1]
		}
	}
	return m.storeMap(metadata, kindEnviron)
}

// Get retrieves all metadata maps stored for the sweep.
func (m *Metadata) Get() ([]Map, error) {
	var metadata Map

	out := []Map{}
	iter := m.session.Query(`SELECT metadata FROM axion.metadata WHERE sweep_id = ?`, m.sweepID).Iter()
	for iter.Scan(&metadata) {
		out = append(out, metadata)
	}
	if err := iter.Close(); err != nil {
		return []Map{}, err
	}
	return out, nil
}

// Clear deletes all metadata entries associated with the sweep id.
func (m *Metadata) Clear() error {
	return m.session.Query(`DELETE FROM axion.metadata WHERE sweep_id = ?`, m.sweepID).Exec()
}
