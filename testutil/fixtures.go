package testutil

import (
	"time"

	"github.com/hairizuan-noorazman/ui-orchestrator/scenario"
)

// FastOptions are scenario options with short timeouts and no warm-up, for
// tests against the fake engine.
func FastOptions() scenario.Options {
	opts := scenario.DefaultOptions()
	opts.NavigationTimeout = time.Second
	opts.ActionTimeout = time.Second
	return opts
}

// CheckoutScript is a navigation warm-up followed by a click and a
// screenshot.
func CheckoutScript() scenario.Script {
	return scenario.Script{
		{Type: scenario.ActionNavigate, Delay: 100 * time.Millisecond},
		{Type: scenario.ActionClick, Selector: "#buy"},
		{Type: scenario.ActionScreenshot},
	}
}
