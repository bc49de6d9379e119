// Package present defines presenters that render values for display.
package present

// Presenter renders v into a displayable string.
type Presenter interface {
	Format(v interface{}) (string, error)
}
