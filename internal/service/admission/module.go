package admission

import "go.uber.org/fx"

// Module provides the cart admission policy to Fx.
var Module = fx.Provide(NewService)
