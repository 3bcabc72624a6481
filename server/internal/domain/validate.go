package domain

import (
	"fmt"
	"strconv"

	"panotour/server/internal/model"
)

// Severity 区分会阻断导航的问题与仅供提示的问题。
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding 是一条校验结果。
type Finding struct {
	Severity Severity `json:"severity"`
	Scene    string   `json:"scene,omitempty"`
	Message  string   `json:"message"`
}

func (f Finding) String() string {
	if f.Scene == "" {
		return fmt.Sprintf("[%s] %s", f.Severity, f.Message)
	}
	return fmt.Sprintf("[%s] scene %s: %s", f.Severity, f.Scene, f.Message)
}

// Validate 检查场景图的一致性。结果只做报告，加载本身不会因此失败：
// 悬空链接在点击时表现为找不到场景的空操作。
func Validate(tour *model.TourData) []Finding {
	var out []Finding
	if tour.Empty() {
		return append(out, Finding{Severity: SeverityError, Message: "tour has no scenes"})
	}

	ids := make(map[string]int, len(tour.Scenes))
	for _, s := range tour.Scenes {
		ids[s.ID]++
	}

	for _, s := range tour.Scenes {
		if s.ID == "" {
			out = append(out, Finding{Severity: SeverityError, Message: "scene without id"})
			continue
		}
		if ids[s.ID] > 1 {
			out = append(out, Finding{Severity: SeverityError, Scene: s.ID, Message: "duplicate scene id"})
			ids[s.ID] = 1
		}
		if s.Panorama == "" {
			out = append(out, Finding{Severity: SeverityError, Scene: s.ID, Message: "missing panorama"})
		}
		if _, err := strconv.ParseInt(s.ID, 10, 64); err != nil {
			out = append(out, Finding{Severity: SeverityWarning, Scene: s.ID, Message: "non-numeric id, views will not be counted"})
		}
		for _, l := range s.Links {
			if _, ok := ids[l.Target]; !ok {
				out = append(out, Finding{Severity: SeverityError, Scene: s.ID, Message: fmt.Sprintf("link %q points to unknown scene %q", l.Name, l.Target)})
			}
			if l.Target == s.ID {
				out = append(out, Finding{Severity: SeverityWarning, Scene: s.ID, Message: fmt.Sprintf("link %q points to itself", l.Name)})
			}
		}
		for _, spot := range s.InfoSpots {
			switch a := spot.Action.(type) {
			case model.ModalAction:
				if a.Kind == "" {
					out = append(out, Finding{Severity: SeverityWarning, Scene: s.ID, Message: fmt.Sprintf("info spot %q: modal action without modal_type", spot.ID)})
				}
			case model.CustomAction:
				if a.Handler == "" {
					out = append(out, Finding{Severity: SeverityWarning, Scene: s.ID, Message: fmt.Sprintf("info spot %q: custom action without handler", spot.ID)})
				}
			case model.UnknownAction:
				out = append(out, Finding{Severity: SeverityWarning, Scene: s.ID, Message: fmt.Sprintf("info spot %q: unknown action type %q, falls back to alert", spot.ID, a.Raw)})
			}
		}
	}
	return out
}

// HasErrors 判断结果中是否存在 error 级别的问题。
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}
