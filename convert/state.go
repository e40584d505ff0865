package convert

import "fmt"

// State is a pipeline stage.
type State int

const (
	StateLoaded State = iota
	StateF0Extracted
	StateShifted
	StateSmoothed
	StateNormalized
	StateSaved
)

var stateNames = [...]string{
	StateLoaded:      "loaded",
	StateF0Extracted: "f0_extracted",
	StateShifted:     "shifted",
	StateSmoothed:    "smoothed",
	StateNormalized:  "normalized",
	StateSaved:       "saved",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("State(%d)", int(s))
}
