package sky

import (
	"math"
	"time"

	"github.com/golang/geo/s1"
	"github.com/sixdouglas/suncalc"
)

// Site locates the camera on Earth and orients its forward axis.
type Site struct {
	Latitude  float64  // degrees, north positive
	Longitude float64  // degrees, east positive
	Heading   s1.Angle // compass bearing of the camera's forward (-z) axis
}

// Ephemeris returns where the sun is expected in the camera frame at t.
func Ephemeris(t time.Time, site Site) Direction {
	p := suncalc.GetPosition(t, site.Latitude, site.Longitude)
	// suncalc measures azimuth from south, positive westwards
	bearing := p.Azimuth + math.Pi
	az := math.Remainder(bearing-site.Heading.Radians(), 2*math.Pi)
	return Direction{
		Elevation: s1.Angle(p.Altitude),
		Azimuth:   s1.Angle(az),
	}
}

// SunError returns the angle between the brightest pixel of the probe and
// the ephemeris sun at the probe's capture time.
func SunError(p *Probe, site Site) (s1.Angle, error) {
	t, err := p.DateTime()
	if err != nil {
		return 0, err
	}
	detected, err := p.SunPosition()
	if err != nil {
		return 0, err
	}
	expected := Ephemeris(t, site)
	return detected.Vector().Angle(expected.Vector()), nil
}
