// Package geom 提供全景球面上的角度运算：yaw 归一化、圆周距离与缓动曲线。
package geom

import "math"

const twoPi = 2 * math.Pi

// Orientation 是相机在全景球上的朝向（弧度）。
// Yaw 归一化到 (−π, π]；Pitch 不在这里约束，由渲染端自行夹紧。
type Orientation struct {
	Yaw   float64 `json:"yaw" yaml:"yaw"`
	Pitch float64 `json:"pitch" yaml:"pitch"`
}

// NormalizeYaw 把任意角度折叠到 (−π, π]。
// 区间内的值原样返回，保证 NormalizeYaw(NormalizeYaw(x)) == NormalizeYaw(x)。
func NormalizeYaw(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	if a > -math.Pi && a <= math.Pi {
		return a
	}
	r := math.Mod(a+math.Pi, twoPi)
	if r <= 0 {
		r += twoPi
	}
	r -= math.Pi
	// 浮点舍入可能把结果推到 −π 上，按约定折到 π。
	if r <= -math.Pi {
		return math.Pi
	}
	if r > math.Pi {
		return math.Pi
	}
	return r
}

// AngularDistance 返回 a、b 在圆周上的最短距离，范围 [0, π]，且关于参数对称。
func AngularDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), twoPi)
	if math.IsNaN(d) {
		return math.Pi
	}
	if d > math.Pi {
		d = twoPi - d
	}
	return d
}

// Deg2Rad 把角度换算成弧度，命令行参数按角度给出。
func Deg2Rad(d float64) float64 {
	return d * math.Pi / 180
}

// EaseInOutQuad 是二次缓入缓出曲线，t 会先夹紧到 [0, 1]。
func EaseInOutQuad(t float64) float64 {
	switch {
	case t <= 0:
		return 0
	case t >= 1:
		return 1
	case t < 0.5:
		return 2 * t * t
	default:
		return -1 + (4-2*t)*t
	}
}

// Clamp 把 v 限制在 [lo, hi]。
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
