package main

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
	"gopkg.in/natefinch/lumberjack.v2"

	"callrelay/mediastream"
)

var (
	coreLog    *logrus.Entry
	webhookLog *logrus.Entry
	mediaLog   *logrus.Entry
	clientsLog *logrus.Entry
	logFile    *lumberjack.Logger
)

// mediaFrames controls whether per-chunk media traces are logged.
var mediaFrames bool

// dropField marks an entry the writer hooks must skip.
const dropField = "_drop"

// initLogging configures the per-subsystem loggers.
func initLogging(cfg *ini.File) {
	sec := cfg.Section("logging")

	consoleMin := toLogrusLevel(sec.Key("console_min_level").MustInt(0))
	fileMin := toLogrusLevel(sec.Key("file_min_level").MustInt(0))

	logFile = &lumberjack.Logger{
		Filename:   sec.Key("file").MustString("callrelay.log"),
		MaxSize:    sec.Key("max_size").MustInt(100), // megabytes
		MaxBackups: sec.Key("max_backups").MustInt(1),
	}

	var mediaHooks []logrus.Hook
	mediaFrames = sec.Key("media_frames").MustBool(false)
	if !mediaFrames {
		// filter out per-chunk media traces
		mediaHooks = append(mediaHooks, &mediaFrameFilterHook{})
	}

	coreLog = newLogger("core", toLogrusLevel(sec.Key("core").MustInt(2)), consoleMin, fileMin, logFile)
	webhookLog = newLogger("webhook", toLogrusLevel(sec.Key("webhook").MustInt(2)), consoleMin, fileMin, logFile)
	mediaLog = newLogger("media", toLogrusLevel(sec.Key("media").MustInt(2)), consoleMin, fileMin, logFile, mediaHooks...)
	clientsLog = newLogger("clients", toLogrusLevel(sec.Key("clients").MustInt(2)), consoleMin, fileMin, logFile)
}

// closeLogging flushes and closes log files.
func closeLogging() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

// writerHook writes logs to the specified writer for provided levels.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	if _, drop := e.Data[dropField]; drop {
		return nil
	}
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

// newLogger builds a named logger writing to stdout and file. Filters run
// before the writers.
func newLogger(name string, level, consoleMin, fileMin logrus.Level, file io.Writer, filters ...logrus.Hook) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	for _, f := range filters {
		logger.AddHook(f)
	}
	logger.AddHook(&writerHook{Writer: os.Stdout, LogLevels: availableLevels(consoleMin)})
	logger.AddHook(&writerHook{Writer: file, LogLevels: availableLevels(fileMin)})
	return logger.WithField("name", name)
}

func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

func toLogrusLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	case v == 2:
		return logrus.InfoLevel
	case v == 3:
		return logrus.WarnLevel
	case v == 4:
		return logrus.ErrorLevel
	case v == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel // off
	}
}

// mediaFrameFilterHook suppresses per-chunk media traces when disabled via configuration.
type mediaFrameFilterHook struct{}

func (h *mediaFrameFilterHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *mediaFrameFilterHook) Fire(e *logrus.Entry) error {
	if strings.HasPrefix(e.Message, mediastream.FrameLogPrefix) {
		e.Data[dropField] = true
	}
	return nil
}
