package hook

// Chain composes hooks so that the first hook is the outermost one.
// It returns nil if there is no non-nil hook.
func Chain[T any](hooks ...func(next T) T) func(next T) T {
	var valid []func(next T) T
	for _, h := range hooks {
		if h != nil {
			valid = append(valid, h)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	return func(next T) T {
		for i := len(valid) - 1; i >= 0; i-- {
			next = valid[i](next)
		}
		return next
	}
}

// Prepend returns a hook that runs hooks before existing.
func Prepend[T any](existing func(next T) T, hooks ...func(next T) T) func(next T) T {
	all := make([]func(next T) T, 0, len(hooks)+1)
	all = append(all, hooks...)
	return Chain(append(all, existing)...)
}

// Append returns a hook that runs hooks after existing.
func Append[T any](existing func(next T) T, hooks ...func(next T) T) func(next T) T {
	return Chain(append([]func(next T) T{existing}, hooks...)...)
}
