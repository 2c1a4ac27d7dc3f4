// Package zlog adapts a zerolog.Logger to the small logging interfaces the
// core packages depend on (connection.Logger).
package zlog

import "github.com/rs/zerolog"

// Adapter wraps a zerolog.Logger to satisfy connection.Logger.
type Adapter struct {
	log zerolog.Logger
}

// New wraps log.
func New(log zerolog.Logger) Adapter { return Adapter{log: log} }

func withFields(e *zerolog.Event, fields map[string]any) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

// Debug satisfies connection.Logger.
func (a Adapter) Debug(msg string, fields map[string]any) {
	withFields(a.log.Debug(), fields).Msg(msg)
}

// Info satisfies connection.Logger.
func (a Adapter) Info(msg string, fields map[string]any) {
	withFields(a.log.Info(), fields).Msg(msg)
}

// Warn satisfies connection.Logger.
func (a Adapter) Warn(msg string, fields map[string]any) {
	withFields(a.log.Warn(), fields).Msg(msg)
}

// Error satisfies connection.Logger.
func (a Adapter) Error(msg string, err error, fields map[string]any) {
	withFields(a.log.Error().Err(err), fields).Msg(msg)
}
