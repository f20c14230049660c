package dupwalk

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	globalVerboseLevel atomic.Int32
	verboseLogger      atomic.Pointer[slog.Logger]

	debugMu    sync.RWMutex
	debugFlags map[string]bool
)

// SetVerboseLevel sets the global verbose level
func SetVerboseLevel(level int) {
	globalVerboseLevel.Store(int32(level))
}

// GetVerboseLevel returns the current verbose level
func GetVerboseLevel() int {
	return int(globalVerboseLevel.Load())
}

// SetVerboseLogger routes verbose and trace output through logger; nil restores slog.Default
func SetVerboseLogger(logger *slog.Logger) {
	verboseLogger.Store(logger)
}

func currentVerboseLogger() *slog.Logger {
	if l := verboseLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// VerboseEnter logs function entry at level 3+ and returns a defer function for exit logging
func VerboseEnter() func() {
	if GetVerboseLevel() < 3 {
		return func() {}
	}

	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return func() {}
	}

	funcName := runtime.FuncForPC(pc).Name()
	if idx := strings.LastIndex(funcName, "."); idx != -1 {
		funcName = funcName[idx+1:]
	}

	logger := currentVerboseLogger()
	logger.Debug("enter", "func", funcName)
	return func() {
		logger.Debug("exit", "func", funcName)
	}
}

// VerboseLog logs a message at the specified verbose level
func VerboseLog(level int, format string, args ...interface{}) {
	if GetVerboseLevel() < level {
		return
	}
	msg := strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")
	slogLevel := slog.LevelInfo
	if level >= 3 {
		slogLevel = slog.LevelDebug
	}
	currentVerboseLogger().Log(context.Background(), slogLevel, msg, "verbose", level)
}

// SetDebugFlags sets the debug flags from a comma-separated string
// Supports both simple flags ("walk,store") and key:value format ("walk:true,store:false")
func SetDebugFlags(flagsStr string) {
	flags := make(map[string]bool)
	for _, flag := range strings.Split(flagsStr, ",") {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			continue
		}

		parts := strings.SplitN(flag, ":", 2)
		flagName := strings.ToLower(parts[0])
		flagValue := true

		if len(parts) > 1 {
			switch strings.ToLower(parts[1]) {
			case "false", "0", "no", "off":
				flagValue = false
			}
		}

		flags[flagName] = flagValue
	}

	debugMu.Lock()
	debugFlags = flags
	debugMu.Unlock()
}

// IsDebugEnabled returns true if the specified debug flag is enabled
func IsDebugEnabled(flag string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugFlags[strings.ToLower(flag)]
}
