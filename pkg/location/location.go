// Package location reports where the vehicle is. There is no GPS receiver
// on the platform, so the position is a configured coordinate.
package location

import (
	"fmt"
	"net/url"
	"strconv"
)

// Fixed is a position that never changes.
type Fixed struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coordinates returns "lat,lon" with full precision.
func (f Fixed) Coordinates() string {
	return strconv.FormatFloat(f.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(f.Longitude, 'f', -1, 64)
}

// URL returns a Google Maps link to the position.
func (f Fixed) URL() string {
	return fmt.Sprintf("https://www.google.com/maps?q=%s", url.QueryEscape(f.Coordinates()))
}
