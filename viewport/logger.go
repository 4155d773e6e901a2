package viewport

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "viewport")
