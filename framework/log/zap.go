package log

import (
	"go.uber.org/zap/zapcore"

	"github.com/camelmail/camelstore/framework/exterrors"
)

// zapLogger adapts Logger to zapcore.Core, so code written against
// go.uber.org/zap's structured API (e.g. a dependency that insists on a
// *zap.Logger) ends up on the same Output/Fields machinery as everything
// else. A zap.Error(err) field is special-cased: its Kind/Context fields
// (exterrors.Fields) are merged in alongside zap's own "error" string, the
// same enrichment Logger.Error already does for its own err argument.
type zapLogger struct {
	L Logger
}

func (l zapLogger) Enabled(level zapcore.Level) bool {
	if l.L.Debug {
		return true
	}
	return level > zapcore.DebugLevel
}

func (l zapLogger) With(fields []zapcore.Field) zapcore.Core {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	newF := make(map[string]interface{}, len(l.L.Fields)+len(enc.Fields))
	for k, v := range l.L.Fields {
		newF[k] = v
	}
	for k, v := range enc.Fields {
		newF[k] = v
	}
	l.L.Fields = newF
	return l
}

func (l zapLogger) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if l.Enabled(entry.Level) {
		return ce.AddCore(entry, l)
	}
	return ce
}

func (l zapLogger) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
		if f.Type != zapcore.ErrorType {
			continue
		}
		err, ok := f.Interface.(error)
		if !ok {
			continue
		}
		for k, v := range exterrors.Fields(err) {
			if _, exists := enc.Fields[k]; !exists {
				enc.Fields[k] = v
			}
		}
	}
	if entry.LoggerName != "" {
		l.L.Name += "/" + entry.LoggerName
	}
	l.L.log(entry.Level == zapcore.DebugLevel, l.L.formatMsg(entry.Message, enc.Fields))
	return nil
}

func (zapLogger) Sync() error {
	return nil
}
