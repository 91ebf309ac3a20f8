package raster

import (
	"fmt"
	"math"
	"strings"

	"github.com/ctessum/geom/proj"
)

const (
	// EPSG4326 is geographic WGS84, coordinates in degrees
	EPSG4326 = "EPSG:4326"
	// EPSG3857 is spherical web mercator, coordinates in metres
	EPSG3857 = "EPSG:3857"

	// EarthRadius is the sphere radius of web mercator, in metres
	EarthRadius = 6378137.0
)

type crsDef struct {
	proj4 string
	wkt   string
	// CF grid_mapping_name
	gridMapping string
}

var knownCRS = map[string]crsDef{
	EPSG4326: {
		proj4:       "+proj=longlat +datum=WGS84 +no_defs",
		wkt:         `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AXIS["Latitude",NORTH],AXIS["Longitude",EAST],AUTHORITY["EPSG","4326"]]`,
		gridMapping: "latitude_longitude",
	},
	EPSG3857: {
		proj4:       "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs",
		wkt:         `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH],AUTHORITY["EPSG","3857"]]`,
		gridMapping: "mercator",
	},
}

var crsAliases = map[string]string{
	"WGS84":       EPSG4326,
	"EPSG:900913": EPSG3857,
	"EPSG:3785":   EPSG3857,
}

// CRS is a coordinate reference system a dataset can be tagged with
type CRS struct {
	// Code is the EPSG identifier, or the proj4 definition for CRSs given as
	// raw proj strings
	Code  string
	Proj4 string
	// WKT is empty for raw proj strings
	WKT         string
	GridMapping string

	sr *proj.SR
}

// ParseCRS resolves an EPSG identifier ("EPSG:4326", "epsg:3857", "WGS84")
// or a "+proj=" definition
func ParseCRS(s string) (*CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidCRS)
	}

	if strings.HasPrefix(s, "+proj=") {
		sr, err := proj.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %s", ErrInvalidCRS, s, err)
		}
		c := &CRS{Code: s, Proj4: s, sr: sr}
		if c.Geographic() {
			c.GridMapping = "latitude_longitude"
		}
		return c, nil
	}

	code := strings.ToUpper(s)
	if alias, ok := crsAliases[code]; ok {
		code = alias
	}
	def, ok := knownCRS[code]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported identifier %q", ErrInvalidCRS, s)
	}
	sr, err := proj.Parse(def.proj4)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidCRS, s, err)
	}
	return &CRS{Code: code, Proj4: def.proj4, WKT: def.wkt, GridMapping: def.gridMapping, sr: sr}, nil
}

// MustParseCRS is ParseCRS for identifiers known to be valid
func MustParseCRS(s string) *CRS {
	c, err := ParseCRS(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *CRS) String() string { return c.Code }

// Geographic reports whether coordinates are longitude/latitude degrees
func (c *CRS) Geographic() bool {
	return c.sr != nil && c.sr.Name == "longlat"
}

// Equal reports whether both CRSs have the same definition
func (c *CRS) Equal(o *CRS) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Proj4 == o.Proj4
}

// Transformer maps a coordinate pair from one CRS to another
type Transformer func(x, y float64) (float64, float64, error)

// TransformTo returns a transformer from c to dst coordinates
func (c *CRS) TransformTo(dst *CRS) (Transformer, error) {
	if c == nil || dst == nil {
		return nil, ErrMissingCRS
	}
	switch {
	case c.Equal(dst):
		return func(x, y float64) (float64, float64, error) { return x, y, nil }, nil
	case c.Code == EPSG4326 && dst.Code == EPSG3857:
		return lonLatToWebMercator, nil
	case c.Code == EPSG3857 && dst.Code == EPSG4326:
		return webMercatorToLonLat, nil
	}

	t, err := c.sr.NewTransform(dst.sr)
	if err != nil {
		return nil, fmt.Errorf("transform %s -> %s: %w", c, dst, err)
	}
	return Transformer(t), nil
}

func lonLatToWebMercator(lon, lat float64) (float64, float64, error) {
	if lat <= -90 || lat >= 90 {
		return 0, 0, fmt.Errorf("latitude %v outside web mercator domain", lat)
	}
	x := EarthRadius * lon * math.Pi / 180
	y := EarthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y, nil
}

func webMercatorToLonLat(x, y float64) (float64, float64, error) {
	lon := x / EarthRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/EarthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat, nil
}
