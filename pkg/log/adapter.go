package log

import "github.com/sirupsen/logrus"

// BadgerLogrusAdapter implements badger.Logger on top of a logrus entry.
// Infof is demoted to debug unless KeepInfo is set.
type BadgerLogrusAdapter struct {
	*logrus.Entry
	KeepInfo bool
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{Entry: entry}
}

// Errorf logs an error message
func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{}) { l.Entry.Errorf(f, v...) }

// Warningf logs a warning message
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warningf(f, v...) }

// Infof logs badger's informational messages, at debug level by default
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{}) {
	if l.KeepInfo {
		l.Entry.Infof(f, v...)
		return
	}
	l.Entry.Debugf(f, v...)
}

// Debugf logs a debug message
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{}) { l.Entry.Debugf(f, v...) }
