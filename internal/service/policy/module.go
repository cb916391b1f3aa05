package policy

import "go.uber.org/fx"

// Module provides the event policy service to Fx.
var Module = fx.Provide(NewService)
