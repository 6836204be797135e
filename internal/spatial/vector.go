// Package spatial implements the deterministic mapping between continuous
// 3D positions and the discrete region/cube identifiers shared by the
// subscription index and the record store.
package spatial

// Vector3 is a continuous 3D position. Pure value type, component-wise
// equality.
type Vector3 struct {
	X, Y, Z float64
}

// Zero is the origin.
var Zero = Vector3{}

// Add returns the component-wise sum.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns the component-wise difference.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v scaled by a scalar.
func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// Min returns the component-wise minimum of two vectors.
func Min(a, b Vector3) Vector3 {
	return Vector3{minF(a.X, b.X), minF(a.Y, b.Y), minF(a.Z, b.Z)}
}

// Max returns the component-wise maximum of two vectors.
func Max(a, b Vector3) Vector3 {
	return Vector3{maxF(a.X, b.X), maxF(a.Y, b.Y), maxF(a.Z, b.Z)}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
