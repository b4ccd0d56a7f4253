package binding

import "errors"

var (
	// ErrConfig indicates a missing, unreadable or malformed binding file.
	ErrConfig = errors.New("binding: invalid binding file")

	// ErrNotLoaded is returned by operations that need an active binding.
	ErrNotLoaded = errors.New("binding: no binding loaded")

	// ErrTemplate indicates an action value failed to render.
	ErrTemplate = errors.New("binding: template render failed")
)
