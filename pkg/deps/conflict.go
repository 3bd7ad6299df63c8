package deps

import "fmt"

// Requirement is one side of a [Conflict]: a range and the package that
// asked for it.
type Requirement struct {
	Range      string
	RequiredBy string
}

// Conflict records two requests for the same package whose ranges no
// single version satisfies.
type Conflict struct {
	Name     string
	Existing Requirement // first requirer the incumbent version was bound for
	Incoming Requirement // the request that did not fit

	// Upgrade is set when the incoming request asked for a higher version
	// than the incumbent.
	Upgrade bool

	Kept     string // version the node ends up bound to
	Rejected string // version that lost
}

// String tells the user which requirer should move: the side asking for
// the lower version is told to match the other one.
func (c Conflict) String() string {
	low, high := c.Incoming, c.Existing
	if c.Upgrade {
		low, high = c.Existing, c.Incoming
	}
	return fmt.Sprintf("version conflict: upgrade %s@%s (required by %s) to match %s (required by %s)",
		c.Name, low.Range, low.RequiredBy, high.Range, high.RequiredBy)
}
