package logger

import "github.com/sirupsen/logrus"

// staticFieldsHook adds a fixed set of fields to every entry that does not
// already carry them.
type staticFieldsHook struct {
	fields Fields
}

func (h *staticFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *staticFieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}

// AddStaticFields attaches fields to every subsequent log entry.
func (l *Log) AddStaticFields(fields Fields) {
	if len(fields) == 0 {
		return
	}
	copied := make(Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	l.AddHook(&staticFieldsHook{fields: copied})
}
