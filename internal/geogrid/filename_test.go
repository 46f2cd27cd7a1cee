package geogrid

import (
	"errors"
	"testing"
)

func TestTileNameRoundTrip(t *testing.T) {
	name := TileName("C_69AZ1", TileCoord{X: 2000, Y: 0}, "las")
	if name != "C_69AZ1_2000_0.las" {
		t.Fatalf("unexpected tile name %q", name)
	}

	stem, origin, err := ParseTileName(name)
	if err != nil {
		t.Fatalf("ParseTileName failed: %v", err)
	}
	if stem != "C_69AZ1" {
		t.Errorf("stem: got %q", stem)
	}
	if origin != (TileCoord{X: 2000, Y: 0}) {
		t.Errorf("origin: got %+v", origin)
	}
}

func TestParseTileNameRejectsMalformed(t *testing.T) {
	for _, name := range []string{
		"noscoords.las",
		"tile_12.las",
		"tile_x_y.las",
		"",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseTileName(name)
			if !errors.Is(err, ErrBadTileName) {
				t.Errorf("expected ErrBadTileName for %q, got %v", name, err)
			}
		})
	}
}

func TestParseTileNameGreedyStem(t *testing.T) {
	// Stems may themselves contain underscores and digits; the trailing two
	// integer groups are the coordinates.
	stem, origin, err := ParseTileName("ahn4_05cm_2022_156000_462000.laz")
	if err != nil {
		t.Fatalf("ParseTileName failed: %v", err)
	}
	if stem != "ahn4_05cm_2022" {
		t.Errorf("stem: got %q", stem)
	}
	if origin.X != 156000 || origin.Y != 462000 {
		t.Errorf("origin: got %+v", origin)
	}
}

func TestGridNameRoundTrip(t *testing.T) {
	name := GridName("gebouwen", 2023, TileCoord{X: 156000, Y: 462000}, "gpkg")
	if name != "gebouwen_2023_156000_462000.gpkg" {
		t.Fatalf("unexpected grid name %q", name)
	}

	prefix, year, origin, err := ParseGridName(name)
	if err != nil {
		t.Fatalf("ParseGridName failed: %v", err)
	}
	if prefix != "gebouwen" || year != 2023 {
		t.Errorf("prefix/year: got %q %d", prefix, year)
	}
	if origin != (TileCoord{X: 156000, Y: 462000}) {
		t.Errorf("origin: got %+v", origin)
	}
}

func TestParseGridNameRejectsMalformed(t *testing.T) {
	_, _, _, err := ParseGridName("gebouwen_156000_462000.gpkg")
	if !errors.Is(err, ErrBadTileName) {
		t.Errorf("expected ErrBadTileName without a year group, got %v", err)
	}
}
