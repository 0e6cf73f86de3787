package domain

import "strings"

// FieldType is the semantic type of an entity field.
type FieldType int

const (
	TypeString FieldType = iota + 1
	TypeInteger
	TypeDecimal
	TypeTimestamp // timestamp with time zone
	TypeJSON      // structured, opaque JSON payload
	TypePoint     // point geometry, EPSG:4326
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInteger:
		return "integer"
	case TypeDecimal:
		return "number"
	case TypeTimestamp:
		return "date-time"
	case TypeJSON:
		return "json"
	case TypePoint:
		return "point"
	default:
		return "unknown"
	}
}

// Filterable reports whether equality predicates can be built on the type.
func (t FieldType) Filterable() bool {
	return t != TypeJSON && t != TypePoint
}

// Entity identifies one of the CDM entity types.
type Entity int

const (
	EntityObservationType Entity = iota + 1
	EntityFeatureType
	EntityUser
	EntityObservedProperty
	EntityObservingProcedure
	EntityRecordStatus
	EntityTimeZone
	EntityHost
	EntityObserver
	EntityCollection
	EntityFeature
	EntitySourceType
	EntitySource
	EntityObservation

	entityCount = int(EntityObservation)
)

// Field describes one field of an entity.
type Field struct {
	Name        string
	Type        FieldType
	Nullable    bool
	PrimaryKey  bool
	References  Entity // zero when the field is not a foreign identifier
	Indexed     bool
	Description string
}

// IsForeignKey reports whether the field references another entity.
func (f Field) IsForeignKey() bool { return f.References != 0 }

// EntityDef is the static description of an entity.
type EntityDef struct {
	Entity Entity
	Name   string
	Fields []Field
}

// PrimaryKey returns the primary-key field.
func (d EntityDef) PrimaryKey() Field {
	for _, f := range d.Fields {
		if f.PrimaryKey {
			return f
		}
	}
	return Field{}
}

// Field looks up a field by name.
func (d EntityDef) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Name returns the entity's catalog name, e.g. "observation".
func (e Entity) Name() string {
	if !e.Valid() {
		return ""
	}
	return catalog[e-1].Name
}

func (e Entity) String() string { return e.Name() }

// Valid reports whether e is a known entity.
func (e Entity) Valid() bool { return e >= 1 && int(e) <= entityCount }

// Def returns a copy of the entity's descriptor. Callers may modify the
// returned slice without affecting the catalog.
func (e Entity) Def() EntityDef {
	if !e.Valid() {
		return EntityDef{}
	}
	def := catalog[e-1]
	def.Fields = append([]Field(nil), def.Fields...)
	return def
}

// Fields returns a copy of the entity's field descriptors in declaration order.
func (e Entity) Fields() []Field { return e.Def().Fields }

// Entities returns every entity in dependency order: an entity only references
// entities listed before it (or itself).
func Entities() []Entity {
	out := make([]Entity, entityCount)
	for i := range out {
		out[i] = Entity(i + 1)
	}
	return out
}

// LookupEntity finds an entity by catalog name.
func LookupEntity(name string) (Entity, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, def := range catalog {
		if def.Name == name {
			return def.Entity, true
		}
	}
	return 0, false
}

func pk(t FieldType) Field {
	return Field{Name: "id", Type: t, PrimaryKey: true, Description: "ID / primary key"}
}

func str(name, desc string) Field {
	return Field{Name: name, Type: TypeString, Nullable: true, Description: desc}
}

func num(name, desc string) Field {
	return Field{Name: name, Type: TypeDecimal, Nullable: true, Description: desc}
}

func ts(name, desc string) Field {
	return Field{Name: name, Type: TypeTimestamp, Nullable: true, Description: desc}
}

func js(name, desc string) Field {
	return Field{Name: name, Type: TypeJSON, Nullable: true, Description: desc}
}

func point(name, desc string) Field {
	return Field{Name: name, Type: TypePoint, Nullable: true, Description: desc}
}

func integer(name, desc string) Field {
	return Field{Name: name, Type: TypeInteger, Nullable: true, Description: desc}
}

// ref declares a foreign identifier. Its storage type follows the target's key.
func ref(name string, target Entity, desc string) Field {
	return Field{Name: name, Type: keyTypes[target], Nullable: true, References: target, Description: desc}
}

func indexed(f Field) Field {
	f.Indexed = true
	return f
}

var keyTypes = map[Entity]FieldType{
	EntityObservationType:    TypeInteger,
	EntityFeatureType:        TypeInteger,
	EntityUser:               TypeString,
	EntityObservedProperty:   TypeInteger,
	EntityObservingProcedure: TypeInteger,
	EntityRecordStatus:       TypeInteger,
	EntityTimeZone:           TypeInteger,
	EntityHost:               TypeString,
	EntityObserver:           TypeString,
	EntityCollection:         TypeString,
	EntityFeature:            TypeString,
	EntitySourceType:         TypeString,
	EntitySource:             TypeString,
	EntityObservation:        TypeString,
}

// versioned returns the audit columns shared by host and observation.
func versioned() []Field {
	return []Field{
		integer("version", "Version number of this record"),
		ts("change_date", "Date this record was changed"),
		ref("user_id", EntityUser, "Which user last modified this record"),
		ref("status_id", EntityRecordStatus, "Whether this is the latest version or an archived version of the record"),
		str("comments", "Free text comments on this record, for example description of changes made etc"),
	}
}

// catalog is indexed by Entity-1 and never mutated after package init.
var catalog = [entityCount]EntityDef{
	{Entity: EntityObservationType, Name: "observation_type", Fields: []Field{
		pk(TypeInteger),
		str("name", "Short name for observation type"),
		str("description", "Description of observation type"),
		js("links", "Link(s) to definition of observation type"),
	}},
	{Entity: EntityFeatureType, Name: "feature_type", Fields: []Field{
		pk(TypeInteger),
		str("name", "Short name for feature type"),
		str("description", "Description of feature type"),
		js("links", "Link(s) to definition of feature type"),
	}},
	{Entity: EntityUser, Name: "user", Fields: []Field{
		pk(TypeString),
		str("name", "Name of user"),
	}},
	{Entity: EntityObservedProperty, Name: "observed_property", Fields: []Field{
		pk(TypeInteger),
		str("short_name", "Short name representation of observed property, e.g. 'at'"),
		str("standard_name", "CF standard name (if applicable), e.g. 'air_temperature'"),
		str("units", "Canonical units, e.g. 'Kelvin'"),
		str("description", "Description of observed property"),
		js("links", "Link(s) to definition / source of observed property"),
	}},
	{Entity: EntityObservingProcedure, Name: "observing_procedure", Fields: []Field{
		pk(TypeInteger),
		str("name", "Name of observing procedure"),
		str("description", "Description of observing procedure"),
		js("links", "Link(s) to further information"),
	}},
	{Entity: EntityRecordStatus, Name: "record_status", Fields: []Field{
		pk(TypeInteger),
		str("name", "Short name for status"),
		str("description", "Description of the status"),
	}},
	{Entity: EntityTimeZone, Name: "time_zone", Fields: []Field{
		pk(TypeInteger),
		str("abbreviation", "Abbreviation for time zone"),
		str("name", "Name / description of timezone"),
		str("offset", "Offset from UTC"),
	}},
	{Entity: EntityHost, Name: "host", Fields: append([]Field{
		pk(TypeString),
		str("name", "Preferred name of host"),
		str("description", "Description of host"),
		js("links", "URI to host, e.g. to OSCAR/Surface"),
		point("location", "Location of station"),
		num("elevation", "Elevation of station above mean sea level"),
		str("wigos_station_identifier", "WIGOS station identifier"),
		str("facility_type", "Type of observing facility, fixed land, mobile sea, etc"),
		ts("date_established", "Date host was first established"),
		ts("date_closed", "Date host was closed"),
		str("wmo_region", "WMO region in which the host is located"),
		str("territory", "Territory the host is located in"),
		ts("valid_from", "Date from which the details for this record are valid"),
		ts("valid_to", "Date after which the details for this record are no longer valid"),
	}, append(versioned(),
		ref("time_zone_id", EntityTimeZone, "Time zone the host is located in"),
	)...)},
	{Entity: EntityObserver, Name: "observer", Fields: []Field{
		pk(TypeString),
		str("name", "Name of sensor"),
		str("description", "Description of sensor"),
		js("links", "Link(s) to further information"),
		point("location", "Location of observer"),
		num("elevation", "Elevation of observer above mean sea level"),
		str("manufacturer", "Make, or manufacturer, of sensor"),
		str("model", "Model of sensor"),
		str("serial_number", "Serial number of sensor"),
		str("firmware_version", "Firmware version of software installed in sensor"),
		str("uncertainty", "Standard uncertainty in measurements from sensor"),
		str("observing_method", "Primary method/principles by which the sensor makes measurements"),
	}},
	{Entity: EntityCollection, Name: "collection", Fields: []Field{
		pk(TypeString),
		str("name", "Name of collection"),
		js("links", "Link(s) to further information on collection"),
	}},
	{Entity: EntityFeature, Name: "feature", Fields: []Field{
		pk(TypeString),
		ref("type_id", EntityFeatureType, "enumerated feature type"),
		point("geometry", "Location of the feature"),
		num("elevation", "Elevation of feature above mean sea level"),
		ref("parent_id", EntityFeature, "Parent feature for this feature if nested"),
		str("name", "Name of feature"),
		str("description", "Description of feature"),
		js("links", "Link(s) to further information on feature"),
	}},
	{Entity: EntitySourceType, Name: "source_type", Fields: []Field{
		pk(TypeString),
		str("description", "Description of source type, e.g. file etc"),
	}},
	{Entity: EntitySource, Name: "source", Fields: []Field{
		pk(TypeString),
		ref("source_type_id", EntitySourceType, "The type of source"),
		str("name", "Name of source"),
		js("links", "Link(s) to further information on source"),
		str("processor", "Name of processor used to ingest the data"),
	}},
	{Entity: EntityObservation, Name: "observation", Fields: append([]Field{
		pk(TypeString),
		indexed(point("location", "Location of observation")),
		num("elevation", "Elevation of observation above mean sea level"),
		indexed(ref("observation_type_id", EntityObservationType, "Type of observation")),
		ts("phenomenon_start", "Start time of the phenomenon being observed or observing period, if missing assumed instantaneous with time given by phenomenon_end"),
		indexed(ts("phenomenon_end", "End time of the phenomenon being observed or observing period")),
		num("result_value", "The value of the result in float representation"),
		str("result_uom", "Units used to represent the value being observed"),
		str("result_description", "str representation of the result if applicable"),
		js("result_quality", "JSON representation of the result quality, key / value pairs"),
		ts("result_time", "Time that the result became available"),
		ts("valid_from", "Time that the result starts to be valid"),
		ts("valid_to", "Time after which the result is no longer valid"),
		ref("host_id", EntityHost, "Host associated with making the observation, equivalent to OGC OMS 'host'"),
		ref("observer_id", EntityObserver, "Observer associated with making the observation, equivalent to OGC OMS 'observer'"),
		indexed(ref("observed_property_id", EntityObservedProperty, "The phenomenon, or thing, being observed")),
		ref("observing_procedure_id", EntityObservingProcedure, "Procedure used to make the observation"),
		str("report_id", "Parent report ID, used to link coincident observations together"),
		indexed(ref("collection_id", EntityCollection, "Primary collection or dataset that this observation belongs to")),
		js("parameter", "List of key/ value pairs in dict"),
		ref("feature_of_interest_id", EntityFeature, "Feature that this observation is associated with"),
	}, append(versioned(),
		indexed(ref("source_id", EntitySource, "The source of this record")),
	)...)},
}
