package geo

import "strings"

// Resolver maps a fingerprint onto a place title. The dispatcher only
// ever sees this interface.
type Resolver interface {
	ResolveByPoint(lat, lon float64) string
	ResolveByFingerprints(bssids []string) string
}

// DirectoryResolver resolves against a loaded Directory. Directory
// order is the tie-breaker wherever several places match.
type DirectoryResolver struct {
	dir     *Directory
	unknown string
}

func NewResolver(dir *Directory, unknownTitle string) *DirectoryResolver {
	return &DirectoryResolver{dir: dir, unknown: unknownTitle}
}

// ResolveByPoint returns the first place whose region contains the
// point, or the unknown title.
func (r *DirectoryResolver) ResolveByPoint(lat, lon float64) string {
	for i := range r.dir.Places {
		p := &r.dir.Places[i]
		if p.Region != nil && p.Region.contains(lat, lon) {
			return p.Title
		}
	}
	return r.unknown
}

// ResolveByFingerprints returns the place matching the most of the
// scanned BSSIDs. Comparison is case-insensitive; zero matches or an
// empty scan yields the unknown title.
func (r *DirectoryResolver) ResolveByFingerprints(bssids []string) string {
	best := -1
	title := r.unknown
	for i := range r.dir.Places {
		p := &r.dir.Places[i]
		hits := 0
		for _, b := range bssids {
			if _, ok := p.bssids[strings.ToLower(b)]; ok {
				hits++
			}
		}
		if hits > 0 && hits > best {
			best = hits
			title = p.Title
		}
	}
	return title
}
