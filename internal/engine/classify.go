package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Engine unit type tags, as they appear at the head of embedded JSON
// objects in the output stream.
const (
	unitInputRequired   = "INPUT_REQUIRED"
	unitExecutionResult = "EXECUTION_RESULT"
	unitOutput          = "OUTPUT"
	unitError           = "ERROR"
	unitCompileSuccess  = "COMPILE_SUCCESS"

	compileErrorPrefix = "COMPILE_ERROR:"
	compileSuccessLine = "COMPILE_SUCCESS"
)

// newEngineMessage builds the outbound frame for an engine-derived event.
func newEngineMessage(msgType, message string, exitCode int) map[string]any {
	return map[string]any{
		"type":      msgType,
		"message":   message,
		"exitCode":  exitCode,
		"timestamp": time.Now().UnixMilli(),
		"sessionId": "engine",
	}
}

// classify translates one framed unit into an outbound message for the
// originating connection. terminal reports whether the unit ends the
// execution (EXECUTION_RESULT). Malformed JSON units are logged and
// dropped: msg is nil and the stream continues.
func classify(unit string) (msg map[string]any, terminal bool) {
	switch {
	case strings.HasPrefix(unit, jsonPrefix(unitInputRequired)):
		return parseJSONUnit(unit, unitInputRequired), false
	case strings.HasPrefix(unit, jsonPrefix(unitExecutionResult)):
		result := parseResultUnit(unit)
		return result, result != nil
	case strings.HasPrefix(unit, jsonPrefix(unitOutput)):
		return parseJSONUnit(unit, unitOutput), false
	case strings.HasPrefix(unit, jsonPrefix(unitError)):
		return parseJSONUnit(unit, unitError), false
	case strings.HasPrefix(unit, jsonPrefix(unitCompileSuccess)):
		return parseJSONUnit(unit, unitCompileSuccess), false
	default:
		return classifyPlainText(unit), false
	}
}

func jsonPrefix(unitType string) string {
	return `{"type":"` + unitType + `"`
}

// parseJSONUnit decodes a typed engine JSON object and re-frames its
// message and exit code for the client.
func parseJSONUnit(unit, unitType string) map[string]any {
	var data map[string]any
	if err := json.Unmarshal([]byte(unit), &data); err != nil {
		log.Printf("Failed to parse %s JSON from engine: %v (raw: %s)", unitType, err, unit)
		return nil
	}

	message, _ := data["message"].(string)
	return newEngineMessage(unitType, message, exitCodeOf(data))
}

// parseResultUnit decodes the terminal EXECUTION_RESULT object, which is
// forwarded to the client as parsed, with the envelope fields added.
func parseResultUnit(unit string) map[string]any {
	var result map[string]any
	if err := json.Unmarshal([]byte(unit), &result); err != nil {
		log.Printf("Failed to parse EXECUTION_RESULT JSON from engine: %v (raw: %s)", err, unit)
		return nil
	}

	result["timestamp"] = time.Now().UnixMilli()
	result["sessionId"] = "engine"
	return result
}

// classifyPlainText maps a raw text line: compiler diagnostics by prefix,
// everything else is program output. Blank lines produce nothing.
func classifyPlainText(unit string) map[string]any {
	line := strings.TrimSpace(unit)
	switch {
	case strings.HasPrefix(line, compileErrorPrefix):
		detail := strings.TrimSpace(strings.TrimPrefix(line, compileErrorPrefix))
		return newEngineMessage("COMPILE_ERROR", detail, 0)
	case line == compileSuccessLine:
		return newEngineMessage(unitCompileSuccess, "Code compiled successfully", 0)
	case line != "":
		return newEngineMessage(unitOutput, line, 0)
	default:
		return nil
	}
}

// exitCodeOf pulls an integer exit_code out of a decoded engine object.
func exitCodeOf(data map[string]any) int {
	switch v := data["exit_code"].(type) {
	case float64:
		return int(v)
	case json.Number:
		code, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(code)
	default:
		return 0
	}
}

// cleanSource strips a UTF-8 BOM, replacement characters and the request
// sentinel from source text before it goes on the wire.
func cleanSource(code string) string {
	if code == "" {
		return "// Empty code"
	}
	cleaned := strings.NewReplacer(
		"\uFEFF", "",
		"�", "",
		"===END_CODE===", "",
	).Replace(code)
	return strings.TrimSpace(cleaned)
}

// executionRequest is the single-file request object written to the engine.
type executionRequest struct {
	Code        string `json:"code"`
	TimeLimit   int    `json:"time_limit"`
	MemoryLimit int    `json:"memory_limit"`
}

// multiFileRequest is the multi-file request object written to the engine.
type multiFileRequest struct {
	Files         map[string]string `json:"files"`
	TimeLimitSec  int               `json:"timeLimitSec"`
	MemoryLimitMb int               `json:"memoryLimitMb"`
}

// encodeRequest serializes an execution request for the wire.
func encodeRequest(code string, files map[string]string, timeLimitSec, memoryLimitMB int) ([]byte, error) {
	if len(files) > 0 {
		cleaned := make(map[string]string, len(files))
		for name, content := range files {
			cleaned[name] = cleanSource(content)
		}
		data, err := json.Marshal(multiFileRequest{
			Files:         cleaned,
			TimeLimitSec:  timeLimitSec,
			MemoryLimitMb: memoryLimitMB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode multi-file request: %w", err)
		}
		return data, nil
	}

	data, err := json.Marshal(executionRequest{
		Code:        cleanSource(code),
		TimeLimit:   timeLimitSec,
		MemoryLimit: memoryLimitMB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution request: %w", err)
	}
	return data, nil
}
