// Package seed populates a CDM database with reference rows and a small set of
// observations located in US and Nigerian cities.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
)

// Inserter writes one entity and returns its primary key.
type Inserter interface {
	Insert(ctx context.Context, r domain.Recorder, opts ...query.InsertOption) (id any, inserted bool, err error)
}

// City is a named observation location.
type City struct {
	Name string
	Lon  float64
	Lat  float64
}

func (c City) Point() orb.Point { return orb.Point{c.Lon, c.Lat} }

// USCities and NigeriaCities are the observation sites, ten each.
var (
	USCities = []City{
		{"New York", -74.0060, 40.7128},
		{"Los Angeles", -118.2437, 34.0522},
		{"Chicago", -87.6298, 41.8781},
		{"Houston", -95.3698, 29.7604},
		{"Phoenix", -112.0740, 33.4484},
		{"Philadelphia", -75.1652, 39.9526},
		{"San Antonio", -98.4936, 29.4241},
		{"San Diego", -117.1611, 32.7157},
		{"Dallas", -96.7970, 32.7767},
		{"Denver", -104.9903, 39.7392},
	}
	NigeriaCities = []City{
		{"Lagos", 3.3792, 6.5244},
		{"Abuja", 7.3986, 9.0765},
		{"Kano", 8.5920, 12.0022},
		{"Ibadan", 3.9470, 7.3775},
		{"Port Harcourt", 7.0498, 4.8156},
		{"Benin City", 5.6037, 6.3350},
		{"Maiduguri", 13.1510, 11.8311},
		{"Zaria", 7.7199, 11.0855},
		{"Aba", 7.3667, 5.1066},
		{"Jos", 8.8583, 9.8965},
	}
)

// ResultDescription is carried by every seeded observation.
const ResultDescription = "A good result"

// Fixture records the identifiers of everything Up inserted.
type Fixture struct {
	UserID        string
	SourceTypeID  string
	SourceID      string
	HostID        string
	ObserverID    string
	FeatureID     string
	CollectionID  string
	FeatureTypeID int64
	StatusID      int64
	TimeZoneID    int64
	Observations  []domain.Observation
}

// Up inserts the reference rows, one host, observer, feature and collection,
// then one observation per city. Tables must already exist.
func Up(ctx context.Context, ins Inserter) (*Fixture, error) {
	now := domain.Now().UTC().Truncate(time.Second)
	fx := &Fixture{
		UserID:       uuid.NewString(),
		SourceTypeID: uuid.NewString(),
		SourceID:     uuid.NewString(),
		HostID:       uuid.NewString(),
		ObserverID:   uuid.NewString(),
		FeatureID:    uuid.NewString(),
		CollectionID: uuid.NewString(),
		StatusID:     1,
	}
	links := func(v ...string) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}

	var err error
	if fx.FeatureTypeID, err = insertInt(ctx, ins, domain.FeatureType{
		Name:        domain.Ptr("Feature1"),
		Description: domain.Ptr("A type of feature"),
		Links:       links("https://links.features.com/1"),
	}); err != nil {
		return nil, err
	}
	if _, err = insertInt(ctx, ins, domain.RecordStatus{
		ID:          domain.Ptr(fx.StatusID),
		Name:        domain.Ptr("ACCEPTED"),
		Description: domain.Ptr("Valid record"),
	}); err != nil {
		return nil, err
	}
	if fx.TimeZoneID, err = insertInt(ctx, ins, domain.TimeZone{
		Abbreviation: domain.Ptr("WAT"),
		Name:         domain.Ptr("Africa/Lagos"),
		Offset:       domain.Ptr("+01:00"),
	}); err != nil {
		return nil, err
	}

	site := orb.Point{-71.060316, 48.432044}
	rows := []domain.Recorder{
		domain.User{ID: fx.UserID, Name: domain.Ptr("John Doe")},
		domain.SourceType{ID: fx.SourceTypeID, Description: domain.Ptr("A source type")},
		domain.Source{
			ID:           fx.SourceID,
			SourceTypeID: &fx.SourceTypeID,
			Name:         domain.Ptr("Source 1"),
			Links:        links("A link"),
			Processor:    domain.Ptr("processor"),
		},
		domain.Host{
			ID:                     fx.HostID,
			Name:                   domain.Ptr("Host Zone"),
			Description:            domain.Ptr("A nice host"),
			Links:                  links("A link", "Another link"),
			Location:               &site,
			Elevation:              domain.Ptr(decimal.RequireFromString("3.8")),
			WIGOSStationIdentifier: domain.Ptr("0-20000-0-71627"),
			FacilityType:           domain.Ptr("modular"),
			DateEstablished:        domain.Ptr(now.AddDate(0, 0, -100)),
			WMORegion:              domain.Ptr("IV"),
			Territory:              domain.Ptr("CA"),
			ValidFrom:              &now,
			Versioning:             versioning(fx, now, "A comment"),
			TimeZoneID:             &fx.TimeZoneID,
		},
		domain.Feature{
			ID:          fx.FeatureID,
			TypeID:      &fx.FeatureTypeID,
			Geometry:    &site,
			Elevation:   domain.Ptr(decimal.RequireFromString("2.9")),
			Name:        domain.Ptr("FEATURE2"),
			Description: domain.Ptr("A description"),
		},
		domain.Collection{ID: fx.CollectionID, Name: domain.Ptr("Collection 1"), Links: links("A link")},
		domain.Observer{
			ID:              fx.ObserverID,
			Name:            domain.Ptr("An observer"),
			Description:     domain.Ptr("A good observer"),
			Links:           links("A link"),
			Location:        &site,
			Elevation:       domain.Ptr(decimal.RequireFromString("3.2")),
			Manufacturer:    domain.Ptr("phillips"),
			Model:           domain.Ptr("AIOP"),
			SerialNumber:    domain.Ptr("12JKOP"),
			FirmwareVersion: domain.Ptr("45"),
			Uncertainty:     domain.Ptr("OPI"),
			ObservingMethod: domain.Ptr("STANDING"),
		},
	}
	for _, r := range rows {
		if _, _, err := ins.Insert(ctx, r); err != nil {
			return nil, fmt.Errorf("seed %s: %w", r.Entity(), err)
		}
	}

	cities := append(append([]City(nil), USCities...), NigeriaCities...)
	for _, c := range cities {
		obs := Observation(fx, c, now)
		if _, _, err := ins.Insert(ctx, obs); err != nil {
			return nil, fmt.Errorf("seed observation %s: %w", c.Name, err)
		}
		fx.Observations = append(fx.Observations, obs)
	}
	return fx, nil
}

// Observation builds the seeded observation for a city. Its id is random.
func Observation(fx *Fixture, c City, now time.Time) domain.Observation {
	loc := c.Point()
	return domain.Observation{
		ID:                  uuid.NewString(),
		Location:            &loc,
		Elevation:           domain.Ptr(decimal.RequireFromString("5.9")),
		PhenomenonStart:     &now,
		PhenomenonEnd:       domain.Ptr(now.AddDate(0, 0, 1)),
		ResultValue:         domain.Ptr(decimal.RequireFromString("5.920399")),
		ResultUOM:           domain.Ptr("uom"),
		ResultDescription:   domain.Ptr(ResultDescription),
		ResultQuality:       json.RawMessage(`["good"]`),
		ResultTime:          &now,
		ValidFrom:           &now,
		ValidTo:             domain.Ptr(now.AddDate(0, 0, 1)),
		HostID:              &fx.HostID,
		ObserverID:          &fx.ObserverID,
		CollectionID:        &fx.CollectionID,
		FeatureOfInterestID: &fx.FeatureID,
		Versioning:          versioning(fx, now, "A simple observation in "+c.Name),
		SourceID:            &fx.SourceID,
	}
}

func versioning(fx *Fixture, now time.Time, comment string) domain.Versioning {
	return domain.Versioning{
		Version:    domain.Ptr(int64(1)),
		ChangeDate: &now,
		UserID:     &fx.UserID,
		StatusID:   &fx.StatusID,
		Comments:   &comment,
	}
}

func insertInt(ctx context.Context, ins Inserter, r domain.Recorder) (int64, error) {
	id, _, err := ins.Insert(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("seed %s: %w", r.Entity(), err)
	}
	switch v := id.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("seed %s: unexpected id type %T", r.Entity(), id)
	}
}
