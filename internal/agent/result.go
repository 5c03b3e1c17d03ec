package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/chaincraft/internal/store"
)

// DesignResult is the decoded reply of a design turn:
// (title, specification, questions, continuation state).
type DesignResult struct {
	Title         string
	Specification string
	Questions     string
	State         store.State
}

// ImageResult is the decoded reply of an image request: (status, url).
type ImageResult struct {
	Status string
	URL    string
}

const (
	designArity = 4
	imageArity  = 2
)

// DecodeDesignResult builds a DesignResult from the positional output.
func DecodeDesignResult(endpoint string, data []json.RawMessage) (*DesignResult, error) {
	if err := checkArity(endpoint, data, designArity); err != nil {
		return nil, err
	}

	var r DesignResult
	var err error
	if r.Title, err = textField(endpoint, "title", data[0]); err != nil {
		return nil, err
	}
	if r.Specification, err = textField(endpoint, "specification", data[1]); err != nil {
		return nil, err
	}
	if r.Questions, err = textField(endpoint, "questions", data[2]); err != nil {
		return nil, err
	}
	if r.State, err = store.ParseState(data[3]); err != nil {
		return nil, &ProtocolError{Endpoint: endpoint, Field: "state", Err: err}
	}
	return &r, nil
}

// DecodeImageResult builds an ImageResult from the positional output. The
// URL may be a plain string or a file object with a "url" field.
func DecodeImageResult(endpoint string, data []json.RawMessage) (*ImageResult, error) {
	if err := checkArity(endpoint, data, imageArity); err != nil {
		return nil, err
	}

	status, err := textField(endpoint, "status", data[0])
	if err != nil {
		return nil, err
	}

	raw := bytes.TrimSpace(data[1])
	if len(raw) > 0 && raw[0] == '{' {
		var file struct {
			URL  string `json:"url"`
			Path string `json:"path"`
		}
		if err := json.Unmarshal(raw, &file); err != nil {
			return nil, &ProtocolError{Endpoint: endpoint, Field: "image", Err: err}
		}
		if file.URL == "" {
			file.URL = file.Path
		}
		return &ImageResult{Status: status, URL: file.URL}, nil
	}

	u, err := textField(endpoint, "image", data[1])
	if err != nil {
		return nil, err
	}
	return &ImageResult{Status: status, URL: u}, nil
}

func checkArity(endpoint string, data []json.RawMessage, want int) error {
	if len(data) < want {
		return &ProtocolError{
			Endpoint: endpoint,
			Err:      fmt.Errorf("expected %d fields, got %d", want, len(data)),
		}
	}
	return nil
}

// textField decodes a string or null.
func textField(endpoint, name string, raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &ProtocolError{Endpoint: endpoint, Field: name, Err: fmt.Errorf("want string, got %s", truncate(string(raw), 40))}
	}
	return s, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Blank reports whether s has no visible content.
func Blank(s string) bool { return strings.TrimSpace(s) == "" }
