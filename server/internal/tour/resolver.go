package tour

import (
	"errors"
	"fmt"
	"math"

	"panotour/server/internal/geom"
	"panotour/server/internal/model"
)

// Direction 是粗粒度的方向意图。
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
	Left     Direction = "left"
	Right    Direction = "right"
)

// Offset 返回方向相对当前 yaw 的偏移量。
func (d Direction) Offset() float64 {
	switch d {
	case Backward:
		return math.Pi
	case Left:
		return -math.Pi / 2
	case Right:
		return math.Pi / 2
	default:
		return 0
	}
}

// ParseDirection 解析方向字符串。
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Forward, Backward, Left, Right:
		return d, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Resolve 选出锚点 yaw 与目标朝向圆周距离最小的链接。
// 距离相同时取链接列表中先出现的那个；场景没有链接时返回 false。
func Resolve(scene model.Scene, yaw float64, dir Direction) (string, bool) {
	if len(scene.Links) == 0 {
		return "", false
	}
	want := geom.NormalizeYaw(yaw + dir.Offset())

	best := -1
	bestDist := math.Inf(1)
	for i, l := range scene.Links {
		d := geom.AngularDistance(want, l.Position.Yaw)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return scene.Links[best].Target, true
}

// ErrSceneNotFound 表示场景图中没有请求的场景。
var ErrSceneNotFound = errors.New("scene not found")

// ResolveIn 在场景图中按 id 找到场景后解析方向。场景不存在时返回 ErrSceneNotFound；
// 场景没有链接时返回空字符串与 nil。
func ResolveIn(tour *model.TourData, sceneID string, yaw float64, dir Direction) (string, error) {
	scene, ok := tour.Scene(sceneID)
	if !ok {
		return "", fmt.Errorf("resolve from %q: %w", sceneID, ErrSceneNotFound)
	}
	target, _ := Resolve(scene, yaw, dir)
	return target, nil
}
