package proxy

import (
	"bytes"
	"encoding/json"
	"math/rand"
)

// Scenario is a browser automation script run by the proxy when
// js_scenario is requested.
type Scenario struct {
	Instructions []Instruction `json:"instructions"`
}

// Instruction is a single-step object such as {"wait": 1200}.
type Instruction map[string]any

// RandIntFunc returns an integer in [lo, hi].
type RandIntFunc func(lo, hi int) int

func randomInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.Intn(hi-lo+1)
}

// NewScenario builds the page interaction script: a long initial wait,
// scrolling and a click on the first list link. Timing and distances are
// drawn from fixed ranges.
func NewScenario(randInt RandIntFunc) Scenario {
	if randInt == nil {
		randInt = randomInt
	}
	return Scenario{
		Instructions: []Instruction{
			{"wait": randInt(10000, 20000)},
			{"scroll_y": randInt(1000, 4000)},
			{"wait_for": "li> a"},
			{"wait": randInt(100, 200)},
			{"click": "li> a"},
			{"wait": randInt(10, 100)},
			{"scroll_x": randInt(1000, 4000)},
			{"wait": randInt(10, 100)},
			{"evaluate": "console.log('interaction finished')"},
		},
	}
}

// Encode serializes the scenario for the js_scenario parameter.
func (s Scenario) Encode() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Instructions only hold ints and strings, encoding cannot fail.
	_ = enc.Encode(s)
	return string(bytes.TrimSpace(buf.Bytes()))
}
