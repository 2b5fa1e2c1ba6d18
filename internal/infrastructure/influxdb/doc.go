// Package influxdb provides an optional time-series mirror for telemetry.
//
// The hub stores every accepted sensor reading in SQLite; when this
// mirror is enabled, the same readings are also written to InfluxDB v2
// for long-term retention and dashboarding. The mirror is strictly
// best-effort: writes are batched and asynchronous, and a failed or
// absent InfluxDB never affects ingestion.
//
// When influxdb.enabled is false in config, Connect returns ErrDisabled
// and the hub runs without a mirror.
package influxdb
