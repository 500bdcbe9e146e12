package config

import "time"

type LocationConfig interface {
	GetLocationTimeout() time.Duration
	GetLocationMaximumAge() time.Duration
	GetSiteTimeZone() *time.Location
}

type Location struct{}

var _ LocationConfig = Location{}

func (Location) GetLocationTimeout() time.Duration {
	return GetDuration("LOCATION_TIMEOUT", 10*time.Second)
}

// GetLocationMaximumAge is how old a cached position fix may be and still be reused. 0 disables reuse.
func (Location) GetLocationMaximumAge() time.Duration {
	return GetDuration("LOCATION_MAXIMUM_AGE", 0)
}

// GetSiteTimeZone returns the zone used to compute a record's effective calendar date.
// Falls back to a fixed KST offset when the zone database is unavailable.
func (Location) GetSiteTimeZone() *time.Location {
	name := GetEnv("SITE_TIMEZONE", "Asia/Seoul")
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}
