package api

import (
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/blockhost/internal/plugin/lua"
	"github.com/dshills/blockhost/internal/plugin/security"
)

// LogModule implements the log namespace.
type LogModule struct {
	log logrus.FieldLogger
}

// NewLogModule creates a log module writing through the host logger.
func NewLogModule(ctx *Context, env *Env) *LogModule {
	return &LogModule{log: env.logger(ctx).WithField("source", "script")}
}

// Name returns the module name.
func (m *LogModule) Name() string { return "log" }

// Permissions returns the permissions that unlock the module.
func (m *LogModule) Permissions() []security.Permission {
	return []security.Permission{security.PermLog}
}

// Register builds the module table.
func (m *LogModule) Register(L *lua.LState) (lua.LValue, error) {
	mod := L.NewTable()
	setFuncs(L, mod, map[string]lua.LGFunction{
		"debug": m.emit(logrus.DebugLevel),
		"info":  m.emit(logrus.InfoLevel),
		"warn":  m.emit(logrus.WarnLevel),
		"error": m.emit(logrus.ErrorLevel),
	})
	return mod, nil
}

// emit returns log.<level>(message, fields?).
func (m *LogModule) emit(level logrus.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.ToStringMeta(L.Get(1)).String()
		entry := m.log
		if fields := optTable(L, 2); fields != nil {
			if v, err := plua.ToValue(fields); err == nil {
				f := logrus.Fields{}
				for k, item := range v.Fields() {
					f[k] = item.ToGo()
				}
				entry = entry.WithFields(f)
			}
		}
		switch level {
		case logrus.DebugLevel:
			entry.Debug(msg)
		case logrus.InfoLevel:
			entry.Info(msg)
		case logrus.WarnLevel:
			entry.Warn(msg)
		default:
			entry.Error(msg)
		}
		return 0
	}
}
