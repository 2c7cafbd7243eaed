package cassandra

import (
	"time"

	"github.com/gocql/gocql"

	"mediconnect-backend/pkg/metrics"
)

// observe records latency and outcome for a single query. Timeouts are
// counted separately so slow-partition alerts can key off them.
func observe(operation, table string, start time.Time, err error) {
	metrics.RecordCassandraQueryDuration(operation, table, time.Since(start).Seconds())
	if err == nil {
		metrics.RecordCassandraQuery(operation, table, "success")
		return
	}

	metrics.RecordCassandraQuery(operation, table, "error")
	switch err.(type) {
	case *gocql.RequestErrWriteTimeout, *gocql.RequestErrReadTimeout:
		metrics.RecordCassandraQueryTimeout(operation, table)
	default:
		if err == gocql.ErrTimeoutNoResponse {
			metrics.RecordCassandraQueryTimeout(operation, table)
		}
	}
}
