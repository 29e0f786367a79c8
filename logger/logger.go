package logger

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *zap.SugaredLogger

// Init builds the process logger: console output plus a rotating file, with
// errors additionally split into their own file. Safe to call once at startup;
// before Init, Log falls back to a no-op logger.
func Init(logDir string) error {
	if logDir == "" {
		logDir = "logs"
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	jsonEnc := zapcore.NewJSONEncoder(encCfg)

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEnc := zapcore.NewConsoleEncoder(consoleCfg)

	errorPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(jsonEnc,
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   filepath.Join(logDir, "observer.log"),
				MaxSize:    100, // megabytes
				MaxBackups: 5,
				MaxAge:     7, // days
				Compress:   true,
				LocalTime:  true,
			}),
			zapcore.InfoLevel,
		),
		zapcore.NewCore(jsonEnc,
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   filepath.Join(logDir, "error.log"),
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     7,
				Compress:   true,
			}),
			errorPriority,
		),
		zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stdout), zapcore.DebugLevel),
	)

	l := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	Log = l.Sugar()
	return nil
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// RequestLogger wraps an HTTP handler with per-request logging and a
// generated request id.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.New().String()
		w.Header().Set("X-Request-Id", requestID)

		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		Log.Infow("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func init() {
	Log = zap.NewNop().Sugar()
}
