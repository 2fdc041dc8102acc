package qmesh

import "math"

// WGS84 椭球半轴
const (
	wgs84RadiusX = 6378137.0
	wgs84RadiusZ = 6356752.3142451793
)

type cartesian struct {
	X, Y, Z float64
}

// cartographicToCartesian 经纬度（度）和椭球高 -> ECEF
func cartographicToCartesian(lonDeg, latDeg, height float64) cartesian {
	lon := toRadians(lonDeg)
	lat := toRadians(latDeg)
	cosLat := math.Cos(lat)

	nx := cosLat * math.Cos(lon)
	ny := cosLat * math.Sin(lon)
	nz := math.Sin(lat)

	kx := wgs84RadiusX * wgs84RadiusX * nx
	ky := wgs84RadiusX * wgs84RadiusX * ny
	kz := wgs84RadiusZ * wgs84RadiusZ * nz
	gamma := math.Sqrt(nx*kx + ny*ky + nz*kz)

	return cartesian{
		X: kx/gamma + nx*height,
		Y: ky/gamma + ny*height,
		Z: kz/gamma + nz*height,
	}
}

// UpdateBoundingSphere 根据当前顶点与高程范围重算包围球
// 地平线遮挡点保持不变
func (m *Mesh) UpdateBoundingSphere(rect Rectangle) {
	if m.VertexCount() == 0 {
		return
	}
	vertices := DecodeVertices(m.QuantizedVertices(), rect, float64(m.Header.MinimumHeight), float64(m.Header.MaximumHeight))

	minP := cartesian{math.Inf(1), math.Inf(1), math.Inf(1)}
	maxP := cartesian{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	points := make([]cartesian, len(vertices))
	for i, v := range vertices {
		p := cartographicToCartesian(v.Longitude, v.Latitude, v.Height)
		points[i] = p
		minP.X, maxP.X = math.Min(minP.X, p.X), math.Max(maxP.X, p.X)
		minP.Y, maxP.Y = math.Min(minP.Y, p.Y), math.Max(maxP.Y, p.Y)
		minP.Z, maxP.Z = math.Min(minP.Z, p.Z), math.Max(maxP.Z, p.Z)
	}

	center := cartesian{
		X: (minP.X + maxP.X) / 2,
		Y: (minP.Y + maxP.Y) / 2,
		Z: (minP.Z + maxP.Z) / 2,
	}
	var radiusSquared float64
	for _, p := range points {
		dx, dy, dz := p.X-center.X, p.Y-center.Y, p.Z-center.Z
		radiusSquared = math.Max(radiusSquared, dx*dx+dy*dy+dz*dz)
	}

	m.Header.BoundingSphereCenterX = center.X
	m.Header.BoundingSphereCenterY = center.Y
	m.Header.BoundingSphereCenterZ = center.Z
	m.Header.BoundingSphereRadius = math.Sqrt(radiusSquared)
}
