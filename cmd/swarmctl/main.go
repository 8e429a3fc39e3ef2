package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func apiCall(baseURL, user, password, method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", user)
	if password != "" {
		req.SetBasicAuth("swarmctl", password)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  swarmctl create --description "..." --type "..." --requirements "a,b,c" [--priority medium]`)
	fmt.Fprintln(os.Stderr, "  swarmctl list")
	fmt.Fprintln(os.Stderr, `  swarmctl get --id "..."`)
	fmt.Fprintln(os.Stderr, `  swarmctl health --id "..."`)
	fmt.Fprintln(os.Stderr, `  swarmctl dissolve --id "..."`)
	fmt.Fprintln(os.Stderr, "  swarmctl agents")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// printJSON re-indents a response body for the terminal.
func printJSON(data []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(buf.String())
}

func apiError(data []byte, status int) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return fmt.Sprintf("unexpected status %d", status)
}

func main() {
	baseURL := os.Getenv("SWARMD_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	user := os.Getenv("SWARMD_USER")
	if user == "" {
		user = "default"
	}
	password := os.Getenv("SWARMD_PASSWORD")

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "create":
		args := parseArgs(rest)
		if args["description"] == "" || args["requirements"] == "" {
			fatal("--description and --requirements are required")
		}
		priority := args["priority"]
		if priority == "" {
			priority = "medium"
		}
		var requirements []string
		for _, r := range strings.Split(args["requirements"], ",") {
			if r = strings.TrimSpace(r); r != "" {
				requirements = append(requirements, r)
			}
		}
		data, status, err := apiCall(baseURL, user, password, "POST", "/api/swarms", map[string]any{
			"description":  args["description"],
			"type":         args["type"],
			"priority":     priority,
			"requirements": requirements,
		})
		if err != nil {
			fatal("%v", err)
		}
		if status != http.StatusOK {
			fatal("%s", apiError(data, status))
		}
		printJSON(data)

	case "list":
		data, status, err := apiCall(baseURL, user, password, "GET", "/api/swarms", nil)
		if err != nil {
			fatal("%v", err)
		}
		if status != http.StatusOK {
			fatal("%s", apiError(data, status))
		}
		printJSON(data)

	case "get":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		data, status, err := apiCall(baseURL, user, password, "GET", "/api/swarms/"+args["id"], nil)
		if err != nil {
			fatal("%v", err)
		}
		if status != http.StatusOK {
			fatal("%s", apiError(data, status))
		}
		printJSON(data)

	case "health":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		data, status, err := apiCall(baseURL, user, password, "GET", "/api/swarms/"+args["id"]+"/health", nil)
		if err != nil {
			fatal("%v", err)
		}
		if status != http.StatusOK {
			fatal("%s", apiError(data, status))
		}
		printJSON(data)

	case "dissolve":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		data, status, err := apiCall(baseURL, user, password, "DELETE", "/api/swarms/"+args["id"], nil)
		if err != nil {
			fatal("%v", err)
		}
		if status != http.StatusOK {
			fatal("%s", apiError(data, status))
		}
		printJSON(data)

	case "agents":
		data, status, err := apiCall(baseURL, user, password, "GET", "/api/agents", nil)
		if err != nil {
			fatal("%v", err)
		}
		if status != http.StatusOK {
			fatal("%s", apiError(data, status))
		}
		printJSON(data)

	default:
		usage()
	}
}
