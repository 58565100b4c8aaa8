package relay

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

var (
	allBlinkFast = []LightAction{
		blink(LEDBlue, 0.2), blink(LEDGreen, 0.2), blink(LEDYellow, 0.2), blink(LEDRed, 0.2),
	}
	cascade = []LightAction{
		blink(LEDBlue, 0.2), blink(LEDGreen, 0.4), blink(LEDYellow, 0.6), blink(LEDRed, 0.8),
	}
	cascadeNoBlue = []LightAction{
		off(LEDBlue), blink(LEDGreen, 0.4), blink(LEDYellow, 0.6), blink(LEDRed, 0.8),
	}
	cascadeNoBlueGreen = []LightAction{
		off(LEDBlue), off(LEDGreen), blink(LEDYellow, 0.6), blink(LEDRed, 0.8),
	}
	allOff = []LightAction{
		off(LEDBlue), off(LEDGreen), off(LEDYellow), off(LEDRed),
	}
)

func TestMapDistance_Boundaries(t *testing.T) {
	tests := []struct {
		distance float64
		want     []LightAction
	}{
		{-5, allBlinkFast},
		{0, allBlinkFast},
		{10, allBlinkFast},
		{10.0001, cascade},
		{19.999, cascade},
		{20, cascadeNoBlue},
		{29.999, cascadeNoBlue},
		{30, cascadeNoBlueGreen},
		{39.999, cascadeNoBlueGreen},
		{40, []LightAction{blink(LEDRed, 0.2)}},
		{50, []LightAction{blink(LEDRed, 0.2)}},
		{50.0001, []LightAction{on(LEDRed)}},
		{60, []LightAction{on(LEDRed)}},
		{60.0001, []LightAction{blink(LEDYellow, 0.2)}},
		{70, []LightAction{blink(LEDYellow, 0.2)}},
		{70.0001, []LightAction{on(LEDYellow)}},
		{80, []LightAction{on(LEDYellow)}},
		{80.0001, []LightAction{blink(LEDGreen, 0.2)}},
		{90, []LightAction{blink(LEDGreen, 0.2)}},
		{90.0001, []LightAction{on(LEDGreen)}},
		{100, []LightAction{on(LEDGreen)}},
		{100.0001, []LightAction{blink(LEDBlue, 0.2)}},
		{110, []LightAction{blink(LEDBlue, 0.2)}},
		{110.0001, []LightAction{on(LEDBlue)}},
		{120, []LightAction{on(LEDBlue)}},
		{120.0001, allOff},
		{5000, allOff},
		{math.Inf(1), allOff},
		{math.Inf(-1), allBlinkFast},
	}

	for _, tt := range tests {
		got := MapDistance(tt.distance)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("MapDistance(%v) mismatch (-want +got):\n%s", tt.distance, diff)
		}
	}
}

func TestMapDistance_NaNTurnsEverythingOff(t *testing.T) {
	assert.Equal(t, allOff, MapDistance(math.NaN()))
}

func TestMapDistance_Deterministic(t *testing.T) {
	for d := -20.0; d <= 140; d += 0.25 {
		first := MapDistance(d)
		second := MapDistance(d)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("MapDistance(%v) not deterministic:\n%s", d, diff)
		}
	}
}

func TestMapDistance_ResultShape(t *testing.T) {
	validLEDs := map[string]bool{LEDBlue: true, LEDGreen: true, LEDYellow: true, LEDRed: true}

	for d := -20.0; d <= 140; d += 0.5 {
		actions := MapDistance(d)
		assert.NotEmpty(t, actions)
		assert.LessOrEqual(t, len(actions), 4)
		for _, a := range actions {
			assert.True(t, validLEDs[a.LED], "unknown led %q", a.LED)
			if a.Action == ActionBlink {
				assert.Greater(t, a.Interval, 0.0, "blink without interval at %v", d)
			} else {
				assert.Zero(t, a.Interval, "interval on %s action at %v", a.Action, d)
			}
		}
	}
}

func TestMapDistance_CallerCannotCorruptLaterResults(t *testing.T) {
	first := MapDistance(5)
	first[0].LED = "purple"

	assert.Equal(t, LEDBlue, MapDistance(5)[0].LED)
}
