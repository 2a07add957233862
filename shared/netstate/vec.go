package netstate

import "math"

// Vec3 is a position, velocity or set of Euler angles (pitch, yaw, roll).
type Vec3 [3]float32

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

func (v Vec3) Scale(s float32) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }

func (v Vec3) Dot(o Vec3) float32 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }

func (v Vec3) Len() float32 {
	return float32(math.Sqrt(float64(v.Dot(v))))
}

// Distance returns the euclidean distance between v and o.
func (v Vec3) Distance(o Vec3) float32 { return v.Sub(o).Len() }

// Lerp interpolates linearly from v to o; frac 0 yields v, 1 yields o.
func (v Vec3) Lerp(o Vec3, frac float32) Vec3 {
	return Vec3{
		v[0] + (o[0]-v[0])*frac,
		v[1] + (o[1]-v[1])*frac,
		v[2] + (o[2]-v[2])*frac,
	}
}

// LerpAngles interpolates each angle along the shortest arc.
func (v Vec3) LerpAngles(o Vec3, frac float32) Vec3 {
	var out Vec3
	for i := range v {
		out[i] = LerpAngle(v[i], o[i], frac)
	}
	return out
}

// LerpAngle interpolates between two angles in degrees along the shortest arc.
func LerpAngle(from, to, frac float32) float32 {
	d := to - from
	for d > 180 {
		d -= 360
	}
	for d < -180 {
		d += 360
	}
	return from + d*frac
}
