package headless

import (
	"context"
	"errors"

	"github.com/jdbirch/awardharvest/internal/harvest"
)

// Noop satisfies harvest.SessionFactory but always refuses to hand out a
// session, indicating that browser fetching is disabled in the current
// configuration.
type Noop struct{}

// NewNoop creates a new Noop factory.
func NewNoop() *Noop {
	return &Noop{}
}

// NewSession returns an error since browser fetching is not configured.
func (Noop) NewSession(context.Context) (harvest.PageFetcher, error) {
	return nil, errors.New("browser fetching not configured")
}
