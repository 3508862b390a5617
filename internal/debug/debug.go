package debug

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (dataset summary, warp results)
	LevelLive    = 2 // Live info (probes scanned, shots taken)
	LevelVerbose = 3 // Verbose (calculation details, steps)
	LevelTrace   = 4 // Trace (GPIO, cache hits, very low level)
)

// FileConfig holds rotated log file settings. An empty Path disables the file sink.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	mu      sync.RWMutex
	level   int
	fileCfg FileConfig
	console io.Writer = os.Stdout
	sugar   *zap.SugaredLogger

	// logFile is shared by successive rebuilds while its settings hold.
	logFile    *lumberjack.Logger
	logFileCfg FileConfig
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (dataset summary, warp results)
// 2 = live info (probes scanned, shots taken)
// 3 = verbose (calculation details, steps, angles)
// 4 = trace (GPIO, cache, very low level)
func Init(debugLevel int) {
	InitWithFile(debugLevel, FileConfig{})
}

// InitWithFile is Init plus an optional lumberjack-rotated file sink.
func InitWithFile(debugLevel int, fc FileConfig) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	fileCfg = fc
	rebuild()
}

// SetOutput redirects console output (e.g. to tee into the web status stream).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	console = w
	rebuild()
}

// rebuild must be called with mu held.
func rebuild() {
	if sugar != nil {
		_ = sugar.Sync()
	}
	if level <= LevelOff {
		sugar = nil
		closeLogFile()
		return
	}

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
				TimeKey:          "time",
				MessageKey:       "msg",
				EncodeTime:       zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000"),
				ConsoleSeparator: " ",
			}),
			zapcore.AddSync(console),
			zapcore.DebugLevel,
		),
	}

	if logFile != nil && logFileCfg != fileCfg {
		closeLogFile()
	}
	if fileCfg.Path != "" {
		if logFile == nil {
			logFile = &lumberjack.Logger{
				Filename:   fileCfg.Path,
				MaxSize:    fileCfg.MaxSizeMB,
				MaxBackups: fileCfg.MaxBackups,
				MaxAge:     fileCfg.MaxAgeDays,
				Compress:   fileCfg.Compress,
				LocalTime:  true,
			}
			logFileCfg = fileCfg
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
				TimeKey:          "time",
				MessageKey:       "msg",
				EncodeTime:       zapcore.ISO8601TimeEncoder,
				ConsoleSeparator: " ",
			}),
			zapcore.AddSync(logFile),
			zapcore.DebugLevel,
		))
	}

	sugar = zap.New(zapcore.NewTee(cores...)).Named("skydb").Sugar()
}

// closeLogFile must be called with mu held.
func closeLogFile() {
	if logFile == nil {
		return
	}
	_ = logFile.Close()
	logFile = nil
	logFileCfg = FileConfig{}
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if sugar != nil {
		_ = sugar.Sync()
	}
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func logf(minLevel int, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if level >= minLevel && sugar != nil {
		sugar.Infof(format, args...)
	}
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	logf(LevelInfo, "[INFO] "+format, args...)
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	logf(LevelInfo, "═══════════════════════════════════════")
	logf(LevelInfo, "  %s", title)
	logf(LevelInfo, "═══════════════════════════════════════")
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	logf(LevelInfo, "[INFO]   %s = %v", name, value)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	logf(LevelLive, "[LIVE] "+format, args...)
}

// Shot prints a probe capture (level 2).
func Shot(n int, dir string) {
	logf(LevelLive, "[LIVE] Shot %d reserved %s", n, dir)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	logf(LevelVerbose, "[VERBOSE] "+format, args...)
}

// Print prints a level 3 message (alias for Verbose).
func Print(format string, args ...interface{}) {
	Verbose(format, args...)
}

// Printf is an alias for Print for compatibility.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	logf(LevelVerbose, "[VERBOSE] %s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	logf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logf(LevelVerbose, "  %s", name)
	logf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	logf(LevelVerbose, "[VERBOSE] Step %d: %s", num, description)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO, cache).
func Trace(format string, args ...interface{}) {
	logf(LevelTrace, "[TRACE] "+format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	logf(LevelTrace, "[GPIO] %s pin=%d value=%v", operation, pin, value)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	logf(LevelInfo, "[ERROR] %v", err)
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
