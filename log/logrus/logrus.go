// Package logrus adapts a logrus entry to offcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/offcache"
)

var _ offcache.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

func New(l *logrus.Logger) Logger { return Logger{E: logrus.NewEntry(l)} }

func (l Logger) Debug(msg string, f offcache.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f offcache.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f offcache.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f offcache.Fields) { l.with(f).Error(msg) }

func (l Logger) with(f offcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	if err, ok := f["err"].(error); ok {
		rest := make(logrus.Fields, len(f)-1)
		for k, v := range f {
			if k != "err" {
				rest[k] = v
			}
		}
		return l.E.WithError(err).WithFields(rest)
	}
	return l.E.WithFields(logrus.Fields(f))
}
