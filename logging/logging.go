// Package logging builds the JSON slog logger shared by every kvgate
// component.
package logging

import (
	"io"
	"log/slog"
)

// New returns a JSON logger writing to w and the level variable that
// controls it, so the level can be changed while the process runs.
func New(w io.Writer, level slog.Level) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level)

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})
	return slog.New(h).With("service", "kvgate"), lv
}
