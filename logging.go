package main

import (
	"io"
	"io/ioutil"
	"os"

	"github.com/joyent/manatee-topology/config"
	log "github.com/sirupsen/logrus"
)

type logWriterHook struct {
	Writer    io.Writer
	LogLevels []log.Level
}

func initLogging(cfg *config.Config) {
	setupSplitLogging()

	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)
	log.Infof("logging set to: %s", cfg.LogLevel)
}

func setupSplitLogging() {
	log.SetOutput(ioutil.Discard)

	log.AddHook(&logWriterHook{ // warnings and above go to stderr
		Writer: os.Stderr,
		LogLevels: []log.Level{
			log.PanicLevel,
			log.FatalLevel,
			log.ErrorLevel,
			log.WarnLevel,
		},
	})
	log.AddHook(&logWriterHook{ // everything else goes to stdout
		Writer: os.Stdout,
		LogLevels: []log.Level{
			log.InfoLevel,
			log.DebugLevel,
			log.TraceLevel,
		},
	})
}

// Fire implements logrus.Hook.
func (hook *logWriterHook) Fire(entry *log.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = hook.Writer.Write([]byte(line))
	return err
}

// Levels implements logrus.Hook.
func (hook *logWriterHook) Levels() []log.Level {
	return hook.LogLevels
}
