package relay

// LED names understood by the actuator
const (
	LEDBlue   = "blue"
	LEDGreen  = "green"
	LEDYellow = "yellow"
	LEDRed    = "red"
)

// light actions
const (
	ActionOn    = "on"
	ActionOff   = "off"
	ActionBlink = "blink"
)

// LightAction is one instruction for a single indicator light.
// Interval is in seconds and only set for blink actions.
type LightAction struct {
	LED      string  `json:"led"`
	Action   string  `json:"action"`
	Interval float64 `json:"interval,omitempty"`
}

func blink(led string, interval float64) LightAction {
	return LightAction{LED: led, Action: ActionBlink, Interval: interval}
}

func on(led string) LightAction {
	return LightAction{LED: led, Action: ActionOn}
}

func off(led string) LightAction {
	return LightAction{LED: led, Action: ActionOff}
}

// MapDistance translates a distance reading into the ordered list of light
// actions for the actuator. Rows are checked top to bottom; the first match
// wins.
// NaN fails every comparison and lands on the final "all off" row.
func MapDistance(distance float64) []LightAction {
	switch {
	case distance <= 10:
		return []LightAction{
			blink(LEDBlue, 0.2),
			blink(LEDGreen, 0.2),
			blink(LEDYellow, 0.2),
			blink(LEDRed, 0.2),
		}
	case distance < 20:
		return []LightAction{
			blink(LEDBlue, 0.2),
			blink(LEDGreen, 0.4),
			blink(LEDYellow, 0.6),
			blink(LEDRed, 0.8),
		}
	case distance < 30:
		return []LightAction{
			off(LEDBlue),
			blink(LEDGreen, 0.4),
			blink(LEDYellow, 0.6),
			blink(LEDRed, 0.8),
		}
	case distance < 40:
		return []LightAction{
			off(LEDBlue),
			off(LEDGreen),
			blink(LEDYellow, 0.6),
			blink(LEDRed, 0.8),
		}
	case distance >= 40 && distance <= 50:
		return []LightAction{blink(LEDRed, 0.2)}
	case distance > 50 && distance <= 60:
		return []LightAction{on(LEDRed)}
	case distance > 60 && distance <= 70:
		return []LightAction{blink(LEDYellow, 0.2)}
	case distance > 70 && distance <= 80:
		return []LightAction{on(LEDYellow)}
	case distance > 80 && distance <= 90:
		return []LightAction{blink(LEDGreen, 0.2)}
	case distance > 90 && distance <= 100:
		return []LightAction{on(LEDGreen)}
	case distance > 100 && distance <= 110:
		return []LightAction{blink(LEDBlue, 0.2)}
	case distance > 110 && distance <= 120:
		return []LightAction{on(LEDBlue)}
	default:
		return []LightAction{
			off(LEDBlue),
			off(LEDGreen),
			off(LEDYellow),
			off(LEDRed),
		}
	}
}
