package main

import (
	"log"

	"go.uber.org/fx"

	"trackpoints/internal/app"
	"trackpoints/pkg/task"
	"trackpoints/services/reward"
)

func main() {
	opts := []fx.Option{
		app.Core(),
		task.Server,
		reward.TaskModule,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}
