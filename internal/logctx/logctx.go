// Package logctx wires up process-wide structured logging the way
// ethereum-mive-mive does: github.com/ethereum/go-ethereum/log's Handler/Lvl
// API (StreamHandler + a format + an LvlFilterHandler installed on the root
// logger), with an optional rotating file sink via lumberjack and terminal
// color detection via go-isatty/go-colorable.
//
// Grounded on original_source/packages/indexer/src/utils/config_logger.rs,
// which derives log level/format from the same config struct used for the
// rest of the process rather than a separate logging config file.
package logctx

import (
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/risechain/rise-indexer/internal/config"
)

// Setup installs the root logger for the process and returns a teardown
// func that should run before process exit (currently a no-op, kept for
// symmetry with components that do need to flush on shutdown).
func Setup(cfg config.Logging) func() {
	var out io.Writer = os.Stderr
	useColor := false
	if cfg.File == "" {
		if f, ok := os.Stderr.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			out = colorable.NewColorableStderr()
			useColor = true
		}
	} else {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	var fmtr log.Format
	if cfg.JSON {
		fmtr = log.JSONFormat()
	} else {
		fmtr = log.TerminalFormat(useColor)
	}

	handler := log.LvlFilterHandler(verbosityLevel(cfg.Verbosity), log.StreamHandler(out, fmtr))
	log.Root().SetHandler(handler)

	return func() {}
}

// verbosityLevel maps the 0..5 VERBOSITY knob (spec §6 style integer flags)
// onto go-ethereum/log's named Lvl constants.
func verbosityLevel(v int) log.Lvl {
	switch {
	case v <= 0:
		return log.LvlCrit
	case v == 1:
		return log.LvlError
	case v == 2:
		return log.LvlWarn
	case v == 3:
		return log.LvlInfo
	case v == 4:
		return log.LvlDebug
	default:
		return log.LvlTrace
	}
}
