package media

// State is the lifecycle state of an item, derived from its attributes.
type State string

const (
	StateUnknown            State = "Unknown"
	StateRequested          State = "Requested"
	StateIndexed            State = "Indexed"
	StateScraped            State = "Scraped"
	StateDownloaded         State = "Downloaded"
	StateSymlinked          State = "Symlinked"
	StateCompleted          State = "Completed"
	StatePartiallyCompleted State = "PartiallyCompleted"
	StateFailed             State = "Failed"
	StateUnreleased         State = "Unreleased"
)

// AllStates lists every state, in lifecycle order where one exists.
var AllStates = []State{
	StateUnknown,
	StateRequested,
	StateUnreleased,
	StateIndexed,
	StateScraped,
	StateDownloaded,
	StateSymlinked,
	StateCompleted,
	StatePartiallyCompleted,
	StateFailed,
}

// stateRank orders the linear lifecycle states so aggregate rules can ask
// whether every child is "at least" some state. PartiallyCompleted and
// Failed sit outside the ladder.
var stateRank = map[State]int{
	StateUnknown:    0,
	StateFailed:     0,
	StateRequested:  1,
	StateUnreleased: 1,
	StateIndexed:    2,
	StateScraped:    3,
	StateDownloaded: 4,
	StateSymlinked:  5,
	StateCompleted:  6,
	// PartiallyCompleted counts as progress past Scraped for "at least"
	// checks but never satisfies Symlinked or above.
	StatePartiallyCompleted: 3,
}

// atLeast reports whether s has reached the given rung on the ladder.
func (s State) atLeast(other State) bool {
	return stateRank[s] >= stateRank[other]
}

// State derives the lifecycle state from the item's attributes. Movies and
// episodes derive from their own attributes; shows and seasons aggregate
// over children. The result is never stored on the item itself; callers
// cache it in last_state only for store queries.
func (i *Item) State() State {
	switch i.Type {
	case TypeShow, TypeSeason:
		return i.aggregateState()
	default:
		return i.leafState()
	}
}

func (i *Item) leafState() State {
	switch {
	case i.Key != "" || i.UpdateFolder == "updated":
		return StateCompleted
	case i.Symlinked:
		return StateSymlinked
	case i.File != "" && i.Folder != "":
		return StateDownloaded
	case len(i.Streams) > 0:
		return StateScraped
	case i.Title != "" && i.IsReleased():
		return StateIndexed
	case i.Title != "":
		return StateUnreleased
	case i.ImdbID != "" && i.RequestedBy != "":
		return StateRequested
	default:
		return StateUnknown
	}
}

func (i *Item) aggregateState() State {
	if len(i.Children) == 0 {
		return i.leafState()
	}

	states := make([]State, len(i.Children))
	for n, child := range i.Children {
		states[n] = child.State()
	}

	allCompleted := true
	anyCompleted := false
	allUnreleased := true
	anyIndexed := false
	anyRequested := false
	minRank := stateRank[StateCompleted]

	for _, s := range states {
		if s == StateCompleted {
			anyCompleted = true
		} else {
			allCompleted = false
		}
		if s != StateUnreleased {
			allUnreleased = false
		}
		if s == StateIndexed {
			anyIndexed = true
		}
		if s == StateRequested {
			anyRequested = true
		}
		if s == StatePartiallyCompleted {
			anyCompleted = true
		}
		if r := stateRank[s]; r < minRank {
			minRank = r
		}
	}

	switch {
	case allCompleted:
		return StateCompleted
	case anyCompleted:
		return StatePartiallyCompleted
	case minRank >= stateRank[StateSymlinked]:
		return StateSymlinked
	case minRank >= stateRank[StateDownloaded]:
		return StateDownloaded
	case len(i.Streams) > 0:
		// A pack scrape puts streams on the season or show itself while
		// the children are still bare.
		return StateScraped
	case minRank >= stateRank[StateScraped]:
		return StateScraped
	case allUnreleased:
		return StateUnreleased
	case anyIndexed:
		return StateIndexed
	case anyRequested:
		return StateRequested
	default:
		return StateUnknown
	}
}
