package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/golang/glog"
)

// paramMessage is one stdin line addressed to an instance: the preview, a
// tile index or a mixer channel index.
type paramMessage struct {
	Target int
	Data   []byte
}

// parseParamLine accepts either a bare param message, sent to target 0, or
// an envelope {"target": n, "params": <message>}.
func parseParamLine(line []byte) (paramMessage, error) {
	line = bytes.TrimSpace(line)
	var env struct {
		Target *int            `json:"target"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return paramMessage{}, fmt.Errorf("invalid param message: %w", err)
	}
	if env.Params == nil {
		return paramMessage{Data: line}, nil
	}
	m := paramMessage{Data: env.Params}
	if env.Target != nil {
		m.Target = *env.Target
	}
	return m, nil
}

// readParams scans r line by line and sends each message on out until r
// ends. Blank and malformed lines are skipped.
func readParams(r io.Reader, out chan<- paramMessage) {
	defer close(out)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		m, err := parseParamLine(sc.Bytes())
		if err != nil {
			glog.Warningf("stdin: %v", err)
			continue
		}
		// Scanner reuses its buffer.
		m.Data = bytes.Clone(m.Data)
		out <- m
	}
	if err := sc.Err(); err != nil {
		glog.Warningf("stdin: %v", err)
	}
}
