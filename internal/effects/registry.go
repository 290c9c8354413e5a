package effects

import "fmt"

// New returns the transition registered under name. "none" maps to Fade; the
// planner gives it zero frames so it never blends.
func New(name string) (Transition, error) {
	switch name {
	case "fade", "", "none":
		return Fade{}, nil
	case "wipeleft":
		return WipeLeft{}, nil
	case "slideup":
		return SlideUp{}, nil
	default:
		return nil, fmt.Errorf("unknown transition: %s", name)
	}
}

// Known reports whether New accepts name.
func Known(name string) bool {
	_, err := New(name)
	return err == nil
}
