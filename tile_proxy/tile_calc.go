package tile_proxy

import (
	"fmt"
	"math"

	"github.com/GrainArc/SouceTerrain/qmesh"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// 投影
const (
	ProjectionGeographic  = "EPSG:4326"
	ProjectionWebMercator = "EPSG:3857"
)

// TileCoord 瓦片坐标，Y 从北向南递增
type TileCoord struct {
	Z int
	X int
	Y int
}

// TileRange 瓦片范围（含端点）
type TileRange struct {
	MinX int
	MaxX int
	MinY int
	MaxY int
}

// TilingScheme 瓦片切分方案
type TilingScheme interface {
	Projection() string
	NumberOfXTiles(level int) int
	NumberOfYTiles(level int) int
	// TileRectangle 瓦片地理范围（弧度）
	TileRectangle(x, y, level int) qmesh.Rectangle
	// PositionToTile 经纬度（度）所在瓦片
	PositionToTile(lon, lat float64, level int) TileCoord
}

// NewTilingScheme 按投影名创建切分方案
func NewTilingScheme(projection string) (TilingScheme, error) {
	switch projection {
	case "", ProjectionGeographic, "EPSG:4490":
		return GeographicTilingScheme{}, nil
	case ProjectionWebMercator, "EPSG:900913":
		return WebMercatorTilingScheme{}, nil
	default:
		return nil, fmt.Errorf("unsupported projection: %s", projection)
	}
}

// TMSY 北向原点Y与TMS（南向原点）Y互转
func TMSY(scheme TilingScheme, y, level int) int {
	return scheme.NumberOfYTiles(level) - 1 - y
}

// ValidTile 瓦片坐标是否在该级别范围内
func ValidTile(scheme TilingScheme, x, y, level int) bool {
	if level < 0 || level > 30 {
		return false
	}
	return x >= 0 && y >= 0 && x < scheme.NumberOfXTiles(level) && y < scheme.NumberOfYTiles(level)
}

// CoverRange 覆盖经纬度范围（度）的瓦片范围
func CoverRange(scheme TilingScheme, bound orb.Bound, level int) TileRange {
	nw := scheme.PositionToTile(bound.Min[0], bound.Max[1], level)
	se := scheme.PositionToTile(bound.Max[0], bound.Min[1], level)
	return TileRange{MinX: nw.X, MaxX: se.X, MinY: nw.Y, MaxY: se.Y}
}

func clampTile(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n-1 {
		return n - 1
	}
	return v
}

// GeographicTilingScheme 经纬度等分，0级为东西两块
type GeographicTilingScheme struct{}

func (GeographicTilingScheme) Projection() string { return ProjectionGeographic }

func (GeographicTilingScheme) NumberOfXTiles(level int) int { return 2 << uint(level) }

func (GeographicTilingScheme) NumberOfYTiles(level int) int { return 1 << uint(level) }

func (s GeographicTilingScheme) TileRectangle(x, y, level int) qmesh.Rectangle {
	width := 2 * math.Pi / float64(s.NumberOfXTiles(level))
	height := math.Pi / float64(s.NumberOfYTiles(level))

	west := float64(x)*width - math.Pi
	north := math.Pi/2 - float64(y)*height
	return qmesh.Rectangle{
		West:  west,
		South: north - height,
		East:  west + width,
		North: north,
	}
}

func (s GeographicTilingScheme) PositionToTile(lon, lat float64, level int) TileCoord {
	nx, ny := s.NumberOfXTiles(level), s.NumberOfYTiles(level)
	x := int(math.Floor((lon + 180.0) / 360.0 * float64(nx)))
	y := int(math.Floor((90.0 - lat) / 180.0 * float64(ny)))
	return TileCoord{Z: level, X: clampTile(x, nx), Y: clampTile(y, ny)}
}

// WebMercatorTilingScheme 球面墨卡托，0级为一块
type WebMercatorTilingScheme struct{}

func (WebMercatorTilingScheme) Projection() string { return ProjectionWebMercator }

func (WebMercatorTilingScheme) NumberOfXTiles(level int) int { return 1 << uint(level) }

func (WebMercatorTilingScheme) NumberOfYTiles(level int) int { return 1 << uint(level) }

func (WebMercatorTilingScheme) TileRectangle(x, y, level int) qmesh.Rectangle {
	bound := maptile.New(uint32(x), uint32(y), maptile.Zoom(level)).Bound()
	return qmesh.RectangleFromDegrees(bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1])
}

func (s WebMercatorTilingScheme) PositionToTile(lon, lat float64, level int) TileCoord {
	lat = math.Max(math.Min(lat, 85.05112878), -85.05112878)
	tile := maptile.At(orb.Point{lon, lat}, maptile.Zoom(level))
	n := s.NumberOfXTiles(level)
	return TileCoord{Z: level, X: clampTile(int(tile.X), n), Y: clampTile(int(tile.Y), n)}
}
