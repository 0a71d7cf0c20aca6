//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
)

// initializeApplication assembles the provider and the optimizer for the given flags.
func initializeApplication(ctx context.Context, s settings) (*application, func(), error) {
	wire.Build(
		provideProvider,
		provideConfig,
		provideOptimizer,
		wire.Struct(new(application), "*"),
	)
	return nil, nil, nil
}
