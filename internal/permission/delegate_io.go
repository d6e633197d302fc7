package permission

import (
	"encoding/json"
	"io"
	"strings"
)

// stdinReaderFor renders req as the JSON document piped to a delegate
// helper's stdin.
func stdinReaderFor(req Request) io.Reader {
	payload := map[string]string{
		"tool_name":  req.ToolName,
		"args":       req.ArgsText,
		"session_id": req.SessionID,
		"cwd":        req.Cwd,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return strings.NewReader("{}")
	}
	return strings.NewReader(string(data))
}
