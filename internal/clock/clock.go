package clock

import (
	"github.com/coder/quartz"
	"go.uber.org/fx"
)

var Module = fx.Module("clock",
	fx.Provide(New),
)

// New returns the wall clock. Tests substitute quartz.NewMock.
func New() quartz.Clock {
	return quartz.NewReal()
}
