package logging

import "fmt"

// Scoped binds a Logger to one component name and adds printf helpers.
type Scoped struct {
	Logger
	Component string
}

func For(l Logger, component string) Scoped {
	if l == nil {
		l = Nop
	}
	return Scoped{Logger: l, Component: component}
}

func (s Scoped) Debugf(format string, args ...any) {
	s.Record(Debug, s.Component, fmt.Sprintf(format, args...))
}

func (s Scoped) Infof(format string, args ...any) {
	s.Record(Info, s.Component, fmt.Sprintf(format, args...))
}

func (s Scoped) Warnf(format string, args ...any) {
	s.Record(Warn, s.Component, fmt.Sprintf(format, args...))
}

func (s Scoped) Errorf(format string, args ...any) {
	s.Record(Error, s.Component, fmt.Sprintf(format, args...))
}
