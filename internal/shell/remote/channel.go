// Package remote carries agent commands to the host of a server instance.
//
// Both channels start the agent as "<agent path> <command>", write the JSON
// request to its stdin and parse the JSON response from its stdout. The
// agent writes a JSON error envelope even when it exits non-zero.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/artpar/apppublish/internal/core/agent"
)

// DefaultAgentPath is the agent binary used when none is configured.
const DefaultAgentPath = "apppublish-agent"

// maxStderr bounds how much agent stderr ends up in an error message.
const maxStderr = 4096

func encodeRequest(request any) ([]byte, error) {
	if request == nil {
		return nil, nil
	}
	data, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	return data, nil
}

// decode turns the captured agent output into a response.
// runErr is the error of the process itself, if any.
func decode(command agent.Command, stdout, stderr []byte, runErr error) (*agent.Response, error) {
	resp, parseErr := agent.ParseResponse(bytes.TrimSpace(stdout))
	if parseErr == nil {
		return resp, nil
	}
	if runErr != nil {
		return nil, fmt.Errorf("agent %s failed: %w%s", command, runErr, stderrSuffix(stderr))
	}
	return nil, fmt.Errorf("agent %s: %w%s", command, parseErr, stderrSuffix(stderr))
}

func stderrSuffix(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return ""
	}
	if len(s) > maxStderr {
		s = s[:maxStderr] + "..."
	}
	return ", stderr: " + s
}
