package navigation

// Action is a navigation command from the keyboard, a swipe or a button.
type Action int

const (
	ActionNone Action = iota
	ActionPrev
	ActionNext
	ActionClose
)

func (a Action) String() string {
	switch a {
	case ActionPrev:
		return "prev"
	case ActionNext:
		return "next"
	case ActionClose:
		return "close"
	default:
		return "none"
	}
}

// ParseAction maps an API action name to an Action.
func ParseAction(s string) Action {
	switch s {
	case "prev":
		return ActionPrev
	case "next":
		return ActionNext
	case "close":
		return ActionClose
	default:
		return ActionNone
	}
}

// ActionForKey maps a DOM KeyboardEvent.key value.
func ActionForKey(key string) Action {
	switch key {
	case "ArrowLeft":
		return ActionPrev
	case "ArrowRight":
		return ActionNext
	case "Escape":
		return ActionClose
	default:
		return ActionNone
	}
}

// DefaultSwipeThreshold is the horizontal travel, in CSS pixels, a touch must
// cover to count as a swipe.
const DefaultSwipeThreshold = 50

// ActionForSwipe maps a horizontal touch delta (end minus start). A swipe to
// the left moves forward.
func ActionForSwipe(dx, threshold float64) Action {
	if threshold <= 0 {
		threshold = DefaultSwipeThreshold
	}
	switch {
	case dx <= -threshold:
		return ActionNext
	case dx >= threshold:
		return ActionPrev
	default:
		return ActionNone
	}
}
