package log

import (
	"strings"

	E "github.com/sagernet/sing-socket/common/exceptions"

	"github.com/sirupsen/logrus"
)

func init() {
	if formatter, isText := logrus.StandardLogger().Formatter.(*logrus.TextFormatter); isText {
		formatter.ForceColors = true
	}
	logrus.AddHook(new(TaggedHook))
}

// NewLogger returns an entry whose messages are prefixed with "[tag]: ".
func NewLogger(tag string) *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger()).WithField("tag", tag)
}

// SetLevel sets the standard logger level by name, such as "debug" or "warn".
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return E.Cause(err, "parse log level")
	}
	logrus.SetLevel(parsed)
	return nil
}

type TaggedHook struct{}

func (h *TaggedHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *TaggedHook) Fire(entry *logrus.Entry) error {
	if tagObj, loaded := entry.Data["tag"]; loaded {
		tag, isString := tagObj.(string)
		if !isString {
			return nil
		}
		delete(entry.Data, "tag")
		entry.Message = strings.ReplaceAll(entry.Message, tag+": ", "")
		entry.Message = "[" + tag + "]: " + entry.Message
	}
	return nil
}
