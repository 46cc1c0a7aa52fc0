package logging

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide sugared logger. JSON to stdout so the output
// can be shipped as-is from a container.
func New() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return l.Sugar()
}

type botLogger struct {
	logger *zap.SugaredLogger
}

// NewBotLogger adapts the zap logger to the Telegram library's logger, so the
// transport logs land in the same stream as everything else.
func NewBotLogger(logger *zap.SugaredLogger) tgbotapi.BotLogger {
	return botLogger{logger: logger}
}

func (b botLogger) Println(v ...interface{}) {
	if len(v) == 1 {
		if err, ok := v[0].(error); ok {
			b.logger.Error(err)
			return
		}
	}
	b.logger.Info(v...)
}

func (b botLogger) Printf(format string, v ...interface{}) {
	b.logger.Infof(format, v...)
}
