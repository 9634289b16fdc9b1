package core

import (
	"math"

	"github.com/signalsfoundry/linkprobe/model"
)

// MinDistanceM clamps co-located antennas so path loss stays finite.
const MinDistanceM = 1.0

// Vec3 is a planar-scenario vector in metres.
type Vec3 struct {
	X, Y, Z float64
}

// FromPosition converts a model position.
func FromPosition(p model.Position) Vec3 {
	return Vec3{X: p.X, Y: p.Y, Z: p.Z}
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// linkDistance is the distance used by the propagation model.
func linkDistance(a, b Vec3) float64 {
	return math.Max(a.DistanceTo(b), MinDistanceM)
}
