/*
Package log provides structured logging for dbcore using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("swim")                    │          │
	│  │  - WithComponent("raft")                    │          │
	│  │  - WithComponent("limbo")                   │          │
	│  │  - WithNodeID(...)                          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all dbcore packages

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name ("swim", "raft", "limbo") to all logs
  - WithNodeID: Add this node's peer ID to all logs

# Usage

Initializing the Logger:

	import "github.com/tarantool/dbcore/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("node joined cluster")
	log.Debug("probing member")
	log.Warn("ack timeout")
	log.Error("failed to replay raft log")
	log.Fatal("cannot start without data dir")

Component Loggers:

	swimLog := log.WithComponent("swim")
	swimLog.Info().Msg("starting probe round")

	raftLog := log.WithComponent("raft").With().
		Uint32("node_id", uint32(self)).Logger()
	raftLog.Info().Uint64("term", term).Msg("became leader")

# Log Output Examples

JSON Format:

	{"level":"info","component":"raft","node_id":1,"term":3,"time":"2026-07-30T10:30:00Z","message":"became leader"}

Console Format:

	2026-07-30T10:30:00Z INF became leader component=raft node_id=1 term=3

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing

Context Logger Pattern:
  - Create child loggers with context fields (component, node ID)
  - Pass context loggers into engine constructors

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err) instead of string concatenation

# Best Practices

Do:
  - Use Info level for production
  - Create component-specific loggers per engine
  - Log errors with .Err() for structured error fields

Don't:
  - Log secrets or sensitive data
  - Use Debug level in production
  - Concatenate strings into log messages

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
