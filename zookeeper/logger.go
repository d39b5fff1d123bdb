package zookeeper

import (
	"github.com/samuel/go-zookeeper/zk"
	"github.com/sirupsen/logrus"
)

// zookeeperLogger bridges the go-zookeeper client's own diagnostic logging
// into logrus at trace level.
type zookeeperLogger struct {
	log *logrus.Entry
}

// Printf implements zk.Logger.
func (l *zookeeperLogger) Printf(format string, args ...interface{}) {
	l.log.Tracef(format, args...)
}

func zookeeperClientLogger(log *logrus.Entry) zk.Logger {
	return &zookeeperLogger{log: log}
}
