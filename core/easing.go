package core

import (
	"fmt"
	"sort"

	"github.com/fogleman/ease"
)

// EasingFunc maps normalized time in [0,1] to normalized progress.
// Back and elastic curves overshoot outside [0,1].
type EasingFunc func(t float64) float64

// EasingLinear is the default easing name.
const EasingLinear = "linear"

var easings = map[string]EasingFunc{
	EasingLinear:       ease.Linear,
	"easeInQuad":       ease.InQuad,
	"easeOutQuad":      ease.OutQuad,
	"easeInOutQuad":    ease.InOutQuad,
	"easeInCubic":      ease.InCubic,
	"easeOutCubic":     ease.OutCubic,
	"easeInOutCubic":   ease.InOutCubic,
	"easeInQuart":      ease.InQuart,
	"easeOutQuart":     ease.OutQuart,
	"easeInOutQuart":   ease.InOutQuart,
	"easeInQuint":      ease.InQuint,
	"easeOutQuint":     ease.OutQuint,
	"easeInOutQuint":   ease.InOutQuint,
	"easeInSine":       ease.InSine,
	"easeOutSine":      ease.OutSine,
	"easeInOutSine":    ease.InOutSine,
	"easeInExpo":       ease.InExpo,
	"easeOutExpo":      ease.OutExpo,
	"easeInOutExpo":    ease.InOutExpo,
	"easeInCirc":       ease.InCirc,
	"easeOutCirc":      ease.OutCirc,
	"easeInOutCirc":    ease.InOutCirc,
	"easeInElastic":    ease.InElastic,
	"easeOutElastic":   ease.OutElastic,
	"easeInOutElastic": ease.InOutElastic,
	"easeInBack":       ease.InBack,
	"easeOutBack":      ease.OutBack,
	"easeInOutBack":    ease.InOutBack,
	"easeInBounce":     ease.InBounce,
	"easeOutBounce":    ease.OutBounce,
	"easeInOutBounce":  ease.InOutBounce,
}

// LookupEasing returns the named easing function. An empty name is linear.
func LookupEasing(name string) (EasingFunc, error) {
	if name == "" {
		return ease.Linear, nil
	}
	fn, ok := easings[name]
	if !ok {
		return nil, NewConfigurationError("LookupEasing", fmt.Errorf("%w: %q", ErrUnknownEasing, name))
	}
	return fn, nil
}

// EasingNames lists the registered easing names, sorted.
func EasingNames() []string {
	names := make([]string, 0, len(easings))
	for name := range easings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
