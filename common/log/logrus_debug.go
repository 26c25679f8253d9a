//go:build debug

package log

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var basePath, _ = filepath.Abs(".")

func init() {
	logger := logrus.StandardLogger()
	logger.SetLevel(logrus.TraceLevel)
	logger.SetReportCaller(true)
	formatter, isText := logger.Formatter.(*logrus.TextFormatter)
	if !isText {
		return
	}
	formatter.CallerPrettyfier = func(frame *runtime.Frame) (function string, file string) {
		file = strings.TrimPrefix(frame.File, basePath+string(filepath.Separator))
		return "", " " + file + ":" + strconv.Itoa(frame.Line)
	}
}
