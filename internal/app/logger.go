package app

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx/fxevent"
)

// ZerologLogger reports fx lifecycle events through zerolog. Successful
// provides are logged at debug to keep startup output short.
type ZerologLogger struct {
	Logger zerolog.Logger
}

var _ fxevent.Logger = (*ZerologLogger)(nil)

// LogEvent implements fxevent.Logger.
func (l *ZerologLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		if e.Err != nil {
			l.Logger.Error().Err(e.Err).Str("callee", e.FunctionName).Str("caller", e.CallerName).Msg("OnStart hook failed")
			return
		}
		l.Logger.Debug().Str("callee", e.FunctionName).Dur("runtime", e.Runtime).Msg("OnStart hook executed")
	case *fxevent.OnStopExecuted:
		if e.Err != nil {
			l.Logger.Error().Err(e.Err).Str("callee", e.FunctionName).Str("caller", e.CallerName).Msg("OnStop hook failed")
			return
		}
		l.Logger.Debug().Str("callee", e.FunctionName).Dur("runtime", e.Runtime).Msg("OnStop hook executed")
	case *fxevent.Provided:
		if e.Err != nil {
			l.Logger.Error().Err(e.Err).Str("constructor", e.ConstructorName).Msg("provide failed")
			return
		}
		l.Logger.Debug().Str("constructor", e.ConstructorName).Strs("types", e.OutputTypeNames).Msg("provided")
	case *fxevent.Invoked:
		if e.Err != nil {
			l.Logger.Error().Err(e.Err).Str("function", e.FunctionName).Msg("invoke failed")
		}
	case *fxevent.Started:
		if e.Err != nil {
			l.Logger.Error().Err(e.Err).Msg("start failed")
			return
		}
		l.Logger.Info().Msg("started")
	case *fxevent.Stopped:
		if e.Err != nil {
			l.Logger.Error().Err(e.Err).Msg("stop failed")
			return
		}
		l.Logger.Info().Msg("stopped")
	}
}
