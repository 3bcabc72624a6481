package gateway

import (
	"context"
	"fmt"

	"panotour/server/internal/guide"
	"panotour/server/internal/tour"
)

// NewTourHandler 把客户端输入翻译成引擎与引导的调用，作为 EventQueue 的处理器。
// 引擎拒绝的输入（切换进行中、无场景等）不算错误。
func NewTourHandler(engine *tour.Engine, seq *guide.Sequencer) EventHandler {
	return func(_ context.Context, msg *ClientMessage) error {
		switch msg.Type {
		case MsgKeyDown, MsgKeyUp:
			key, ok := tour.ParseKey(msg.Key)
			if !ok {
				return fmt.Errorf("unknown key %q", msg.Key)
			}
			if msg.Type == MsgKeyDown {
				engine.KeyDown(key)
			} else {
				engine.KeyUp(key)
			}
		case MsgRotateBy:
			engine.RotateBy(msg.Delta)
		case MsgNavigate:
			if msg.Scene == "" {
				return fmt.Errorf("navigate requires a scene")
			}
			engine.Navigate(msg.Scene)
		case MsgMove:
			dir, err := tour.ParseDirection(msg.Direction)
			if err != nil {
				return err
			}
			engine.NavigateDirection(dir)
		case MsgPositionUpdated:
			if msg.Position == nil {
				return fmt.Errorf("position_updated requires a position")
			}
			engine.OnPositionUpdated(*msg.Position)
		case MsgZoomUpdated:
			engine.OnZoomUpdated(msg.Zoom)
		case MsgSelectMarker:
			if msg.Marker == nil {
				return fmt.Errorf("select_marker requires marker data")
			}
			engine.SelectMarker(*msg.Marker)
		case MsgURLChanged:
			engine.OnURLChanged(msg.Scene)
		case MsgGuideNext, MsgGuidePrev, MsgGuideSkip:
			if seq == nil {
				return nil
			}
			switch msg.Type {
			case MsgGuideNext:
				seq.Next()
			case MsgGuidePrev:
				seq.Prev()
			default:
				seq.Skip()
			}
		default:
			return fmt.Errorf("unsupported message type %q", msg.Type)
		}
		return nil
	}
}
