// Package geo resolves administrative boundary polygons for tracked cities,
// rendered as a GeoJSON FeatureCollection next to the run output so a map
// layer can shade each city.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

const searchEndpoint = "https://nominatim.openstreetmap.org/search"

// Feature is one city's boundary geometry with its display properties.
type Feature struct {
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties"`
	Geometry   json.RawMessage   `json:"geometry"`
}

// FeatureCollection is the GeoJSON document holding every resolved boundary.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Client looks up city boundaries on the Nominatim geocoder. Requests go
// through the shared fetcher so they pick up the same rate limiting and
// retry behavior as every other outbound call.
type Client struct {
	fetcher pipeline.Fetcher
	logger  *zap.Logger
}

func New(fetcher pipeline.Fetcher, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{fetcher: fetcher, logger: logger}
}

type searchResult struct {
	DisplayName string          `json:"display_name"`
	GeoJSON     json.RawMessage `json:"geojson"`
}

// CityBoundary returns the first Polygon or MultiPolygon geometry the
// geocoder knows for the named city.
func (c *Client) CityBoundary(ctx context.Context, name string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("polygon_geojson", "1")
	q.Set("q", name)

	body, err := c.fetcher.Fetch(ctx, searchEndpoint+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("boundary search %q: %w", name, err)
	}
	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode boundary search %q: %w", name, err)
	}
	for _, r := range results {
		if polygonal(r.GeoJSON) {
			return r.GeoJSON, nil
		}
	}
	return nil, fmt.Errorf("no boundary polygon for %q", name)
}

// polygonal reports whether a geometry is a Polygon or MultiPolygon. Point
// and line matches are useless as boundaries.
func polygonal(geom json.RawMessage) bool {
	if len(geom) == 0 {
		return false
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(geom, &head); err != nil {
		return false
	}
	return head.Type == "Polygon" || head.Type == "MultiPolygon"
}

// Boundaries resolves every city it can. Lookup failures are logged and the
// city is left out of the collection; the map layer is best effort.
func (c *Client) Boundaries(ctx context.Context, cities []pipeline.City) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	for _, city := range cities {
		if ctx.Err() != nil {
			break
		}
		geom, err := c.CityBoundary(ctx, city.Name)
		if err != nil {
			c.logger.Warn("city boundary lookup failed",
				zap.String("city", city.Name), zap.Error(err))
			continue
		}
		fc.Features = append(fc.Features, Feature{
			Type:       "Feature",
			Properties: map[string]string{"name": city.Name},
			Geometry:   geom,
		})
	}
	return fc
}
