package influx

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// InfluxQL durations such as 30s, 10m, 1h, 1d
	groupByPattern = regexp.MustCompile(`^\d+(ns|u|µ|ms|s|m|h|d|w)$`)

	aggregations = map[string]bool{
		"mean":   true,
		"median": true,
		"min":    true,
		"max":    true,
		"sum":    true,
		"count":  true,
		"first":  true,
		"last":   true,
		"spread": true,
		"stddev": true,
	}
)

// quoteIdent quotes an InfluxQL identifier
func quoteIdent(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	return `"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}

// timeLiteral formats t as an InfluxQL RFC3339 string literal
func timeLiteral(t time.Time) string {
	return "'" + t.UTC().Format(time.RFC3339Nano) + "'"
}

// rangeQuery selects the raw points of field in [start, stop)
func rangeQuery(measurement, field string, start, stop time.Time) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE time >= %s AND time < %s",
		quoteIdent(field), quoteIdent(measurement), timeLiteral(start), timeLiteral(stop))
}

// groupedQuery aggregates field over [start, stop) into interval buckets
func groupedQuery(measurement, field, aggregation, interval string, start, stop time.Time) string {
	return fmt.Sprintf("SELECT %s(%s) AS %s FROM %s WHERE time >= %s AND time < %s GROUP BY time(%s) FILL(null)",
		aggregation, quoteIdent(field), quoteIdent(field), quoteIdent(measurement),
		timeLiteral(start), timeLiteral(stop), interval)
}

// selectorQuery applies a selector such as first or last to the whole series
func selectorQuery(selector, measurement, field string) string {
	return fmt.Sprintf("SELECT %s(%s) AS %s FROM %s",
		selector, quoteIdent(field), quoteIdent(field), quoteIdent(measurement))
}

const showFieldKeys = "SHOW FIELD KEYS"
