// Package app provides the entrypoint for grpcbridge.
package app

import (
	"fmt"

	"github.com/apicove/grpcbridge/cui"
	"github.com/apicove/grpcbridge/meta"
)

// App is the root component for running the application.
type App struct {
	ui  cui.UI
	cmd *command
}

// New instantiates an App. ui must not be nil.
func New(ui cui.UI) *App {
	return &App{ui: ui, cmd: newRootCommand(ui)}
}

// Run starts the application. The return value is the exit code.
func (a *App) Run(args []string) int {
	a.cmd.SetArgs(args)
	if err := a.cmd.Execute(); err != nil {
		a.ui.Error(fmt.Sprintf("%s: %s", meta.AppName, err))
		return 1
	}
	return 0
}
