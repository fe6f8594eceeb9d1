package geo

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Directory is the place catalogue loaded once at startup and treated
// as read-only afterwards.
type Directory struct {
	Places []Place `json:"places"`
}

// Place maps a titled location onto a GPS bounding region and the set
// of access points known to be installed there.
type Place struct {
	Title  string   `json:"title"`
	Region *Region  `json:"region,omitempty"`
	APs    []string `json:"aps,omitempty"`

	bssids map[string]struct{}
}

// Region is an axis-aligned bounding box in degrees.
type Region struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

func (r *Region) contains(lat, lon float64) bool {
	return lat >= r.LatMin && lat <= r.LatMax && lon >= r.LonMin && lon <= r.LonMax
}

// LoadDirectory parses the directory config file and indexes each
// place's BSSIDs for matching.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading location directory: %w", err)
	}
	return ParseDirectory(data)
}

func ParseDirectory(data []byte) (*Directory, error) {
	dir := &Directory{}
	if err := json.Unmarshal(data, dir); err != nil {
		return nil, fmt.Errorf("parsing location directory: %w", err)
	}
	for i := range dir.Places {
		p := &dir.Places[i]
		if p.Title == "" {
			return nil, fmt.Errorf("place %d has no title", i)
		}
		p.bssids = make(map[string]struct{}, len(p.APs))
		for _, b := range p.APs {
			p.bssids[strings.ToLower(b)] = struct{}{}
		}
	}
	return dir, nil
}
