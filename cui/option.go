package cui

import "io"

// Option configures a UI built by New or NewColored.
type Option func(*basicUI)

// Writer replaces the writer Output and Info write to.
func Writer(w io.Writer) Option {
	return func(u *basicUI) {
		u.writer = w
	}
}

// ErrWriter replaces the writer Error writes to.
func ErrWriter(ew io.Writer) Option {
	return func(u *basicUI) {
		u.errWriter = ew
	}
}
