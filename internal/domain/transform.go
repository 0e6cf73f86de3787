package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// observationNamespace seeds deterministic observation IDs.
var observationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://opencdms.org/cdm/observation"))

// ErrInvalidObservation is wrapped by every validation failure in ParseObservation.
var ErrInvalidObservation = errors.New("invalid observation")

// ParseObservation decodes an ingest message into an Observation and applies
// ingest defaults. Unknown JSON fields are rejected.
//
// The message body uses the observation column names. location is a
// [longitude, latitude] pair; timestamps are RFC 3339.
func ParseObservation(raw RawEvent) (Observation, error) {
	var obs Observation
	dec := json.NewDecoder(bytes.NewReader(raw.Value))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&obs); err != nil {
		return Observation{}, fmt.Errorf("parse observation: %w", err)
	}

	if err := ValidateObservation(obs); err != nil {
		return Observation{}, err
	}
	return NormalizeObservation(obs, raw.Headers), nil
}

// ValidateObservation checks the constraints an observation must satisfy
// before it is stored.
func ValidateObservation(obs Observation) error {
	if obs.PhenomenonEnd == nil {
		return fmt.Errorf("%w: phenomenon_end is required", ErrInvalidObservation)
	}
	if obs.PhenomenonStart != nil && obs.PhenomenonStart.After(*obs.PhenomenonEnd) {
		return fmt.Errorf("%w: phenomenon_start %s is after phenomenon_end %s", ErrInvalidObservation,
			obs.PhenomenonStart.Format(time.RFC3339), obs.PhenomenonEnd.Format(time.RFC3339))
	}
	if obs.ValidFrom != nil && obs.ValidTo != nil && obs.ValidFrom.After(*obs.ValidTo) {
		return fmt.Errorf("%w: valid_from is after valid_to", ErrInvalidObservation)
	}
	if obs.Location != nil {
		lon, lat := obs.Location.Lon(), obs.Location.Lat()
		if !inRange(lon, -180, 180) || !inRange(lat, -90, 90) {
			return fmt.Errorf("%w: location [%g, %g] outside EPSG:4326 bounds", ErrInvalidObservation, lon, lat)
		}
	}
	for name, raw := range map[string]json.RawMessage{"result_quality": obs.ResultQuality, "parameter": obs.Parameter} {
		if len(raw) > 0 && !json.Valid(raw) {
			return fmt.Errorf("%w: %s is not valid JSON", ErrInvalidObservation, name)
		}
	}
	return nil
}

// NormalizeObservation fills ingest defaults: version 1, change_date now, a
// source from the message headers, and a deterministic ID when none is given.
// Timestamps are converted to UTC.
func NormalizeObservation(obs Observation, headers map[string]string) Observation {
	for _, t := range []**time.Time{
		&obs.PhenomenonStart, &obs.PhenomenonEnd, &obs.ResultTime, &obs.ValidFrom, &obs.ValidTo, &obs.ChangeDate,
	} {
		if *t != nil {
			*t = Ptr((*t).UTC())
		}
	}
	if obs.Version == nil {
		obs.Version = Ptr(int64(1))
	}
	if obs.ChangeDate == nil {
		obs.ChangeDate = Ptr(clock.Now().UTC())
	}
	if obs.SourceID == nil {
		if src := strings.TrimSpace(headers[HeaderSourceID]); src != "" {
			obs.SourceID = &src
		}
	}
	if obs.ID == "" {
		obs.ID = ObservationID(obs)
	}
	return obs
}

// ObservationID derives a stable UUIDv5 from the fields that identify a
// measurement: host, observer, observed property, location and phenomenon_end.
// Location is rounded to 1e-6 degrees so float noise does not change the ID.
func ObservationID(obs Observation) string {
	var b strings.Builder
	b.WriteString(deref(obs.HostID))
	b.WriteByte('|')
	b.WriteString(deref(obs.ObserverID))
	b.WriteByte('|')
	if obs.ObservedPropertyID != nil {
		b.WriteString(strconv.FormatInt(*obs.ObservedPropertyID, 10))
	}
	b.WriteByte('|')
	if obs.Location != nil {
		fmt.Fprintf(&b, "%.6f,%.6f", obs.Location.Lon(), obs.Location.Lat())
	}
	b.WriteByte('|')
	if obs.PhenomenonEnd != nil {
		b.WriteString(obs.PhenomenonEnd.UTC().Format(time.RFC3339Nano))
	}
	return uuid.NewSHA1(observationNamespace, []byte(b.String())).String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

func formatOffset(partition int, offset int64) string {
	return strconv.Itoa(partition) + "/" + strconv.FormatInt(offset, 10)
}
