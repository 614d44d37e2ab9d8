package geo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

type fakeFetcher struct {
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	body, ok := f.pages[url]
	if !ok {
		return nil, errors.New("unreachable")
	}
	return []byte(body), nil
}

const springfieldSearch = "https://nominatim.openstreetmap.org/search?format=json&polygon_geojson=1&q=Springfield"

func TestCityBoundaryPicksFirstPolygon(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		springfieldSearch: `[
			{"display_name":"Springfield station","geojson":{"type":"Point","coordinates":[1,2]}},
			{"display_name":"Springfield, Illinois","geojson":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}
		]`,
	}}
	c := New(f, nil)

	geom, err := c.CityBoundary(context.Background(), "Springfield")
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`, string(geom),
		"point matches skipped in favor of the first polygon")
}

func TestCityBoundaryNoPolygonErrors(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		springfieldSearch: `[{"display_name":"Springfield station","geojson":{"type":"Point","coordinates":[1,2]}}]`,
	}}
	c := New(f, nil)

	_, err := c.CityBoundary(context.Background(), "Springfield")
	require.Error(t, err)
}

func TestCityBoundaryMalformedResponseErrors(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		springfieldSearch: `<html>rate limited</html>`,
	}}
	c := New(f, nil)

	_, err := c.CityBoundary(context.Background(), "Springfield")
	require.Error(t, err)
}

func TestBoundariesSkipsFailedLookups(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		springfieldSearch: `[{"display_name":"Springfield, Illinois","geojson":{"type":"MultiPolygon","coordinates":[]}}]`,
	}}
	c := New(f, nil)

	fc := c.Boundaries(context.Background(), []pipeline.City{
		{ID: "springfield-il", Name: "Springfield"},
		{ID: "shelbyville-il", Name: "Shelbyville"},
	})
	require.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1, "unresolvable city dropped, not fatal")
	require.Equal(t, "Springfield", fc.Features[0].Properties["name"])
	require.Equal(t, "Feature", fc.Features[0].Type)
}

func TestBoundariesHonorsCancellation(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{}}
	c := New(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fc := c.Boundaries(ctx, []pipeline.City{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}})
	require.Empty(t, fc.Features)
	require.Empty(t, f.calls, "no lookups after cancel")
}
