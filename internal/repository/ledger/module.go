package ledger

import "go.uber.org/fx"

// Module provides the tier consumption ledger to Fx.
var Module = fx.Provide(NewRepository)
