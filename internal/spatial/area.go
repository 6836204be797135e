package spatial

import "math"

// Area is the max-corner of a cubical cell of side cubeSize. Every position
// maps to exactly one area; the zero position belongs to the positive area
// (cubeSize, cubeSize, cubeSize); negative positions round toward -inf.
type Area struct {
	X, Y, Z int64
}

// Region is the min-corner of a persistence-layer partition cell, computed
// with a floor (not max-corner) clamp. Distinct from Area: regions are
// identified by their minimum corner so SQL range predicates can use a
// half-open [min, min+size) bound directly.
type Region struct {
	X, Y, Z int64
}

// AreaClamp derives the Area a position belongs to under the given cube
// size. Exact multiples of size keep their value; only points strictly
// inside a cell are bumped to the next cell's max corner.
func AreaClamp(v Vector3, size int64) Area {
	return Area{
		X: axisAreaClamp(v.X, size),
		Y: axisAreaClamp(v.Y, size),
		Z: axisAreaClamp(v.Z, size),
	}
}

// RegionClamp derives the Region a position belongs to under the given
// region size: floor(c/size)*size per axis.
func RegionClamp(v Vector3, size int64) Region {
	return Region{
		X: axisRegionClamp(v.X, size),
		Y: axisRegionClamp(v.Y, size),
		Z: axisRegionClamp(v.Z, size),
	}
}

// TableClamp is RegionClamp applied with the (larger) table size, used to
// derive the persistence partition that holds a given region.
func TableClamp(v Vector3, tableSize int64) Region {
	return RegionClamp(v, tableSize)
}

// Bounds returns the half-open region [x-s,x) x [y-s,y) x [z-s,z) this area
// occupies, as (min, max) vectors.
func (a Area) Bounds(size int64) (min, max Vector3) {
	s := float64(size)
	max = Vector3{float64(a.X), float64(a.Y), float64(a.Z)}
	min = Vector3{float64(a.X) - s, float64(a.Y) - s, float64(a.Z) - s}
	return min, max
}

func axisAreaClamp(c float64, size int64) int64 {
	if c == 0 {
		return size
	}

	s := float64(size)
	q := c / s
	if q == math.Trunc(q) {
		// Exact multiple: keep its own value.
		return int64(math.Round(c))
	}

	if c > 0 {
		return int64(math.Round(math.Ceil(q) * s))
	}
	return int64(math.Round(math.Floor(q) * s))
}

func axisRegionClamp(c float64, size int64) int64 {
	s := float64(size)
	return int64(math.Round(math.Floor(c/s) * s))
}
