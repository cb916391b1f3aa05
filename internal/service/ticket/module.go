package ticket

import "go.uber.org/fx"

// Module provides the ticket binding service to Fx.
var Module = fx.Provide(NewService)
