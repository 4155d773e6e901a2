package bridge

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "bridge")
