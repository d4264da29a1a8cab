package utils

import (
	"strings"

	"github.com/sirupsen/logrus"
)

func AddToLogMessage(logMessagesBuilder *strings.Builder, strToAdd string) {

	if logMessagesBuilder.Len() == logMessagesBuilder.Cap() {

		logMessagesBuilder.Grow(len(strToAdd))
	}

	logMessagesBuilder.WriteString(strToAdd)
	logMessagesBuilder.WriteString(";")
	logMessagesBuilder.WriteString("\n")
}

// FlushLogMessage writes the accumulated request log as a single entry.
func FlushLogMessage(logger logrus.FieldLogger, logMessagesBuilder *strings.Builder) {
	if logMessagesBuilder.Len() == 0 {
		return
	}
	logger.Info(strings.TrimSpace(logMessagesBuilder.String()))
}
