package domain

import (
	"encoding/json"
	"time"

	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
)

// Record is a column-name keyed set of storage values for one row. Values are
// string, int64, decimal.Decimal, time.Time, json.RawMessage or orb.Point.
type Record map[string]any

// Recorder is implemented by every typed entity.
type Recorder interface {
	Entity() Entity
	Record() Record
}

// ObservationType is a reference row, e.g. "in-situ" or "remote sensing".
type ObservationType struct {
	ID          *int64          `json:"id,omitempty"`
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Links       json.RawMessage `json:"links,omitempty"`
}

func (ObservationType) Entity() Entity { return EntityObservationType }

func (o ObservationType) Record() Record {
	r := Record{}
	r.setInt("id", o.ID)
	r.setString("name", o.Name)
	r.setString("description", o.Description)
	r.setJSON("links", o.Links)
	return r
}

type FeatureType struct {
	ID          *int64          `json:"id,omitempty"`
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Links       json.RawMessage `json:"links,omitempty"`
}

func (FeatureType) Entity() Entity { return EntityFeatureType }

func (f FeatureType) Record() Record {
	r := Record{}
	r.setInt("id", f.ID)
	r.setString("name", f.Name)
	r.setString("description", f.Description)
	r.setJSON("links", f.Links)
	return r
}

// User is a human record editor. Not to be confused with Observer.
type User struct {
	ID   string  `json:"id"`
	Name *string `json:"name,omitempty"`
}

func (User) Entity() Entity { return EntityUser }

func (u User) Record() Record {
	r := Record{"id": u.ID}
	r.setString("name", u.Name)
	return r
}

type ObservedProperty struct {
	ID           *int64          `json:"id,omitempty"`
	ShortName    *string         `json:"short_name,omitempty"`
	StandardName *string         `json:"standard_name,omitempty"`
	Units        *string         `json:"units,omitempty"`
	Description  *string         `json:"description,omitempty"`
	Links        json.RawMessage `json:"links,omitempty"`
}

func (ObservedProperty) Entity() Entity { return EntityObservedProperty }

func (p ObservedProperty) Record() Record {
	r := Record{}
	r.setInt("id", p.ID)
	r.setString("short_name", p.ShortName)
	r.setString("standard_name", p.StandardName)
	r.setString("units", p.Units)
	r.setString("description", p.Description)
	r.setJSON("links", p.Links)
	return r
}

type ObservingProcedure struct {
	ID          *int64          `json:"id,omitempty"`
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Links       json.RawMessage `json:"links,omitempty"`
}

func (ObservingProcedure) Entity() Entity { return EntityObservingProcedure }

func (p ObservingProcedure) Record() Record {
	r := Record{}
	r.setInt("id", p.ID)
	r.setString("name", p.Name)
	r.setString("description", p.Description)
	r.setJSON("links", p.Links)
	return r
}

type RecordStatus struct {
	ID          *int64  `json:"id,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (RecordStatus) Entity() Entity { return EntityRecordStatus }

func (s RecordStatus) Record() Record {
	r := Record{}
	r.setInt("id", s.ID)
	r.setString("name", s.Name)
	r.setString("description", s.Description)
	return r
}

type TimeZone struct {
	ID           *int64  `json:"id,omitempty"`
	Abbreviation *string `json:"abbreviation,omitempty"`
	Name         *string `json:"name,omitempty"`
	Offset       *string `json:"offset,omitempty"`
}

func (TimeZone) Entity() Entity { return EntityTimeZone }

func (z TimeZone) Record() Record {
	r := Record{}
	r.setInt("id", z.ID)
	r.setString("abbreviation", z.Abbreviation)
	r.setString("name", z.Name)
	r.setString("offset", z.Offset)
	return r
}

// Versioning holds the audit columns shared by Host and Observation.
type Versioning struct {
	Version    *int64     `json:"version,omitempty"`
	ChangeDate *time.Time `json:"change_date,omitempty"`
	UserID     *string    `json:"user_id,omitempty"`
	StatusID   *int64     `json:"status_id,omitempty"`
	Comments   *string    `json:"comments,omitempty"`
}

func (v Versioning) fill(r Record) {
	r.setInt("version", v.Version)
	r.setTime("change_date", v.ChangeDate)
	r.setString("user_id", v.UserID)
	r.setInt("status_id", v.StatusID)
	r.setString("comments", v.Comments)
}

// Host is an observing site, typically a WIGOS station.
type Host struct {
	ID                     string           `json:"id"`
	Name                   *string          `json:"name,omitempty"`
	Description            *string          `json:"description,omitempty"`
	Links                  json.RawMessage  `json:"links,omitempty"`
	Location               *orb.Point       `json:"location,omitempty"`
	Elevation              *decimal.Decimal `json:"elevation,omitempty"`
	WIGOSStationIdentifier *string          `json:"wigos_station_identifier,omitempty"`
	FacilityType           *string          `json:"facility_type,omitempty"`
	DateEstablished        *time.Time       `json:"date_established,omitempty"`
	DateClosed             *time.Time       `json:"date_closed,omitempty"`
	WMORegion              *string          `json:"wmo_region,omitempty"`
	Territory              *string          `json:"territory,omitempty"`
	ValidFrom              *time.Time       `json:"valid_from,omitempty"`
	ValidTo                *time.Time       `json:"valid_to,omitempty"`
	Versioning
	TimeZoneID *int64 `json:"time_zone_id,omitempty"`
}

func (Host) Entity() Entity { return EntityHost }

func (h Host) Record() Record {
	r := Record{"id": h.ID}
	r.setString("name", h.Name)
	r.setString("description", h.Description)
	r.setJSON("links", h.Links)
	r.setPoint("location", h.Location)
	r.setDecimal("elevation", h.Elevation)
	r.setString("wigos_station_identifier", h.WIGOSStationIdentifier)
	r.setString("facility_type", h.FacilityType)
	r.setTime("date_established", h.DateEstablished)
	r.setTime("date_closed", h.DateClosed)
	r.setString("wmo_region", h.WMORegion)
	r.setString("territory", h.Territory)
	r.setTime("valid_from", h.ValidFrom)
	r.setTime("valid_to", h.ValidTo)
	h.Versioning.fill(r)
	r.setInt("time_zone_id", h.TimeZoneID)
	return r
}

// Observer is the sensing instrument deployed on a host.
type Observer struct {
	ID              string           `json:"id"`
	Name            *string          `json:"name,omitempty"`
	Description     *string          `json:"description,omitempty"`
	Links           json.RawMessage  `json:"links,omitempty"`
	Location        *orb.Point       `json:"location,omitempty"`
	Elevation       *decimal.Decimal `json:"elevation,omitempty"`
	Manufacturer    *string          `json:"manufacturer,omitempty"`
	Model           *string          `json:"model,omitempty"`
	SerialNumber    *string          `json:"serial_number,omitempty"`
	FirmwareVersion *string          `json:"firmware_version,omitempty"`
	Uncertainty     *string          `json:"uncertainty,omitempty"`
	ObservingMethod *string          `json:"observing_method,omitempty"`
}

func (Observer) Entity() Entity { return EntityObserver }

func (o Observer) Record() Record {
	r := Record{"id": o.ID}
	r.setString("name", o.Name)
	r.setString("description", o.Description)
	r.setJSON("links", o.Links)
	r.setPoint("location", o.Location)
	r.setDecimal("elevation", o.Elevation)
	r.setString("manufacturer", o.Manufacturer)
	r.setString("model", o.Model)
	r.setString("serial_number", o.SerialNumber)
	r.setString("firmware_version", o.FirmwareVersion)
	r.setString("uncertainty", o.Uncertainty)
	r.setString("observing_method", o.ObservingMethod)
	return r
}

type Collection struct {
	ID    string          `json:"id"`
	Name  *string         `json:"name,omitempty"`
	Links json.RawMessage `json:"links,omitempty"`
}

func (Collection) Entity() Entity { return EntityCollection }

func (c Collection) Record() Record {
	r := Record{"id": c.ID}
	r.setString("name", c.Name)
	r.setJSON("links", c.Links)
	return r
}

// Feature is a feature of interest. ParentID nests it under another feature.
type Feature struct {
	ID          string           `json:"id"`
	TypeID      *int64           `json:"type_id,omitempty"`
	Geometry    *orb.Point       `json:"geometry,omitempty"`
	Elevation   *decimal.Decimal `json:"elevation,omitempty"`
	ParentID    *string          `json:"parent_id,omitempty"`
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Links       json.RawMessage  `json:"links,omitempty"`
}

func (Feature) Entity() Entity { return EntityFeature }

func (f Feature) Record() Record {
	r := Record{"id": f.ID}
	r.setInt("type_id", f.TypeID)
	r.setPoint("geometry", f.Geometry)
	r.setDecimal("elevation", f.Elevation)
	r.setString("parent_id", f.ParentID)
	r.setString("name", f.Name)
	r.setString("description", f.Description)
	r.setJSON("links", f.Links)
	return r
}

type SourceType struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

func (SourceType) Entity() Entity { return EntitySourceType }

func (s SourceType) Record() Record {
	r := Record{"id": s.ID}
	r.setString("description", s.Description)
	return r
}

type Source struct {
	ID           string          `json:"id"`
	SourceTypeID *string         `json:"source_type_id,omitempty"`
	Name         *string         `json:"name,omitempty"`
	Links        json.RawMessage `json:"links,omitempty"`
	Processor    *string         `json:"processor,omitempty"`
}

func (Source) Entity() Entity { return EntitySource }

func (s Source) Record() Record {
	r := Record{"id": s.ID}
	r.setString("source_type_id", s.SourceTypeID)
	r.setString("name", s.Name)
	r.setJSON("links", s.Links)
	r.setString("processor", s.Processor)
	return r
}

// Observation is a single measured or derived result.
type Observation struct {
	ID                   string           `json:"id"`
	Location             *orb.Point       `json:"location,omitempty"`
	Elevation            *decimal.Decimal `json:"elevation,omitempty"`
	ObservationTypeID    *int64           `json:"observation_type_id,omitempty"`
	PhenomenonStart      *time.Time       `json:"phenomenon_start,omitempty"`
	PhenomenonEnd        *time.Time       `json:"phenomenon_end,omitempty"`
	ResultValue          *decimal.Decimal `json:"result_value,omitempty"`
	ResultUOM            *string          `json:"result_uom,omitempty"`
	ResultDescription    *string          `json:"result_description,omitempty"`
	ResultQuality        json.RawMessage  `json:"result_quality,omitempty"`
	ResultTime           *time.Time       `json:"result_time,omitempty"`
	ValidFrom            *time.Time       `json:"valid_from,omitempty"`
	ValidTo              *time.Time       `json:"valid_to,omitempty"`
	HostID               *string          `json:"host_id,omitempty"`
	ObserverID           *string          `json:"observer_id,omitempty"`
	ObservedPropertyID   *int64           `json:"observed_property_id,omitempty"`
	ObservingProcedureID *int64           `json:"observing_procedure_id,omitempty"`
	ReportID             *string          `json:"report_id,omitempty"`
	CollectionID         *string          `json:"collection_id,omitempty"`
	Parameter            json.RawMessage  `json:"parameter,omitempty"`
	FeatureOfInterestID  *string          `json:"feature_of_interest_id,omitempty"`
	Versioning
	SourceID *string `json:"source_id,omitempty"`
}

func (Observation) Entity() Entity { return EntityObservation }

func (o Observation) Record() Record {
	r := Record{"id": o.ID}
	r.setPoint("location", o.Location)
	r.setDecimal("elevation", o.Elevation)
	r.setInt("observation_type_id", o.ObservationTypeID)
	r.setTime("phenomenon_start", o.PhenomenonStart)
	r.setTime("phenomenon_end", o.PhenomenonEnd)
	r.setDecimal("result_value", o.ResultValue)
	r.setString("result_uom", o.ResultUOM)
	r.setString("result_description", o.ResultDescription)
	r.setJSON("result_quality", o.ResultQuality)
	r.setTime("result_time", o.ResultTime)
	r.setTime("valid_from", o.ValidFrom)
	r.setTime("valid_to", o.ValidTo)
	r.setString("host_id", o.HostID)
	r.setString("observer_id", o.ObserverID)
	r.setInt("observed_property_id", o.ObservedPropertyID)
	r.setInt("observing_procedure_id", o.ObservingProcedureID)
	r.setString("report_id", o.ReportID)
	r.setString("collection_id", o.CollectionID)
	r.setJSON("parameter", o.Parameter)
	r.setString("feature_of_interest_id", o.FeatureOfInterestID)
	o.Versioning.fill(r)
	r.setString("source_id", o.SourceID)
	return r
}

// PhenomenonInterval returns the start and end of the observed phenomenon.
// A missing start means the phenomenon was instantaneous at end. ok is false
// when phenomenon_end is unset.
func (o Observation) PhenomenonInterval() (start, end time.Time, ok bool) {
	if o.PhenomenonEnd == nil {
		return time.Time{}, time.Time{}, false
	}
	end = *o.PhenomenonEnd
	if o.PhenomenonStart == nil {
		return end, end, true
	}
	return *o.PhenomenonStart, end, true
}

func (r Record) setString(k string, v *string) {
	if v != nil {
		r[k] = *v
	}
}

func (r Record) setInt(k string, v *int64) {
	if v != nil {
		r[k] = *v
	}
}

func (r Record) setDecimal(k string, v *decimal.Decimal) {
	if v != nil {
		r[k] = *v
	}
}

func (r Record) setTime(k string, v *time.Time) {
	if v != nil {
		r[k] = *v
	}
}

func (r Record) setPoint(k string, v *orb.Point) {
	if v != nil {
		r[k] = *v
	}
}

func (r Record) setJSON(k string, v json.RawMessage) {
	if len(v) > 0 {
		r[k] = v
	}
}

// Ptr returns a pointer to v. Handy when building entities in literals.
func Ptr[T any](v T) *T { return &v }
