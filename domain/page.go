package domain

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Page is an offset/limit window over an id-ordered listing.
type Page struct {
	Skip  int
	Limit int
}

// DefaultPage returns the window used when the caller supplies none.
func DefaultPage() Page {
	return Page{Skip: 0, Limit: DefaultPageLimit}
}

// Validate checks the window bounds.
func (p Page) Validate() error {
	if p.Skip < 0 {
		return Errorf(ErrInvalidInput, "skip must not be negative")
	}
	if p.Limit < 1 || p.Limit > MaxPageLimit {
		return Errorf(ErrInvalidInput, "limit must be between 1 and %d", MaxPageLimit)
	}
	return nil
}
