// Package logger provides package-level structured logging for module
// lifecycle messages. Components that need scoped logging take an hclog.Logger
// in their constructor instead.
package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// Info logs informational messages (printf style, or structured when the last
// argument is a []Field)
func Info(format string, args ...interface{}) {
	if fields, ok := structuredTail(args); ok {
		logStructured("INFO", format, fields...)
		return
	}
	log.Printf("INFO: "+format, args...)
}

// Warn logs warning messages
func Warn(format string, args ...interface{}) {
	if fields, ok := structuredTail(args); ok {
		logStructured("WARN", format, fields...)
		return
	}
	log.Printf("WARN: "+format, args...)
}

// Error logs error messages
func Error(format string, args ...interface{}) {
	if fields, ok := structuredTail(args); ok {
		logStructured("ERROR", format, fields...)
		return
	}
	log.Printf("ERROR: "+format, args...)
}

// Debug logs debug messages when LOG_LEVEL=debug
func Debug(format string, args ...interface{}) {
	if os.Getenv("LOG_LEVEL") != "debug" {
		return
	}
	if fields, ok := structuredTail(args); ok {
		logStructured("DEBUG", format, fields...)
		return
	}
	log.Printf("DEBUG: "+format, args...)
}

func structuredTail(args []interface{}) ([]Field, bool) {
	if len(args) == 0 {
		return nil, false
	}
	fields, ok := args[len(args)-1].([]Field)
	return fields, ok
}

func logStructured(level, msg string, fields ...Field) {
	if os.Getenv("LOG_FORMAT") == "json" {
		entry := map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"level":     level,
			"message":   msg,
		}
		for _, field := range fields {
			entry[field.Key] = field.Value
		}
		data, _ := json.Marshal(entry)
		log.Println(string(data))
		return
	}

	fieldStr := ""
	for i, field := range fields {
		if i == 0 {
			fieldStr = " "
		} else {
			fieldStr += " "
		}
		fieldStr += fmt.Sprintf("%s=%v", field.Key, field.Value)
	}
	log.Printf("%s: %s%s", level, msg, fieldStr)
}

// Helper constructors for common field types

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Err(key string, err error) Field {
	if err == nil {
		return Field{Key: key, Value: nil}
	}
	return Field{Key: key, Value: err.Error()}
}
