package sim

import "github.com/sirupsen/logrus"

func logger() *logrus.Entry {
	return logrus.WithField("subsystem", "sim")
}
