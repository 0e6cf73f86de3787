// Package domain models the Climate Data Model (CDM): observing sites, sensors,
// observations, features of interest and the reference tables they point at.
//
// # Entities
//
// The catalog holds fourteen entities. Six are small integer-keyed reference
// tables (observation_type, feature_type, observed_property,
// observing_procedure, record_status, time_zone). The rest are keyed by a
// caller-supplied string identifier, normally a UUID:
//
//	user         a human editor, referenced by audit columns
//	host         an observing site (WIGOS station), point location + elevation
//	observer     the sensing instrument deployed on a host
//	collection   a named grouping of observations
//	feature      a feature of interest; may nest under a parent feature
//	source_type  the kind of ingest source (file, feed, ...)
//	source       provenance of ingested data and the processor that loaded it
//	observation  the central fact table
//
// # Geometry
//
// Every spatial column is a POINT in geographic coordinates (longitude,
// latitude, EPSG:4326). Elevation is a separate decimal column and is never
// carried as a Z coordinate.
//
// # Time
//
// All timestamps carry a zone. An observation's phenomenon interval runs from
// phenomenon_start to phenomenon_end; when phenomenon_start is missing the
// phenomenon is instantaneous at phenomenon_end (see
// [Observation.PhenomenonInterval]). result_time is when the value became
// available, which is unrelated to the phenomenon interval.
//
// # Versioning
//
// host and observation rows carry version, change_date, user_id and status_id.
// status_id marks whether a row is the current or an archived version of the
// same identity. Keeping a single current version is the writer's job; this
// package only describes the columns.
//
// # Ingest IDs
//
// Observations arriving without an id get a deterministic UUIDv5 derived from
// host, observer, observed property, location and phenomenon_end. Replaying the
// same message yields the same id, so inserts can use ON CONFLICT DO NOTHING.
// See [ObservationID].
package domain
