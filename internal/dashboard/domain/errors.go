package dashboard

import "errors"

var (
	ErrEmptySeries = errors.New("dashboard: empty series")
	ErrRender      = errors.New("dashboard: render failed")
)
