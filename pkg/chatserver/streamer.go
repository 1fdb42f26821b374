package chatserver

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// StreamRequest describes one question submitted to a conversation.
type StreamRequest struct {
	ConversationID string
	Namespace      string
	Question       string
}

// EmitFunc receives one delta chunk.
type EmitFunc func(delta string)

// Streamer produces a reply to a question as a sequence of delta chunks. It
// returns the complete final text; the caller is responsible for publishing
// deltas and the terminal event.
type Streamer interface {
	Stream(ctx context.Context, req StreamRequest, emit EmitFunc) (string, error)
}

// EchoStreamer replies with the question itself, chunked word by word. It is
// the default backend for local development.
type EchoStreamer struct {
	// Interval between chunks; 0 streams as fast as the consumer reads.
	Interval time.Duration
}

func (e *EchoStreamer) Stream(ctx context.Context, req StreamRequest, emit EmitFunc) (string, error) {
	reply := "You said: " + req.Question
	if err := streamChunks(ctx, splitWords(reply), e.Interval, emit); err != nil {
		return "", err
	}
	return reply, nil
}

// scriptFile is the YAML shape of a scripted reply fixture.
type scriptFile struct {
	Interval  time.Duration `yaml:"interval"`
	ChunkSize int           `yaml:"chunk_size"`
	Default   string        `yaml:"default"`
	Replies   []scriptReply `yaml:"replies"`
}

type scriptReply struct {
	Match string `yaml:"match"`
	Reply string `yaml:"reply"`
}

// ScriptedStreamer replies from a YAML fixture: the first entry whose match
// string appears in the question (case-insensitive) wins, otherwise the
// default reply is used.
type ScriptedStreamer struct {
	script scriptFile
}

// LoadScriptedStreamer reads a reply script from path.
func LoadScriptedStreamer(path string) (*ScriptedStreamer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read script")
	}
	return ParseScriptedStreamer(data)
}

// ParseScriptedStreamer builds a streamer from raw YAML.
func ParseScriptedStreamer(data []byte) (*ScriptedStreamer, error) {
	var s scriptFile
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "parse script")
	}
	if s.ChunkSize <= 0 {
		s.ChunkSize = 16
	}
	return &ScriptedStreamer{script: s}, nil
}

func (s *ScriptedStreamer) Stream(ctx context.Context, req StreamRequest, emit EmitFunc) (string, error) {
	reply := s.script.Default
	q := strings.ToLower(req.Question)
	for _, r := range s.script.Replies {
		if r.Match != "" && strings.Contains(q, strings.ToLower(r.Match)) {
			reply = r.Reply
			break
		}
	}
	if reply == "" {
		reply = "I have no answer scripted for that."
	}
	if err := streamChunks(ctx, splitFixed(reply, s.script.ChunkSize), s.script.Interval, emit); err != nil {
		return "", err
	}
	return reply, nil
}

func streamChunks(ctx context.Context, chunks []string, interval time.Duration, emit EmitFunc) error {
	for _, chunk := range chunks {
		if interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(chunk)
	}
	return nil
}

// splitWords chunks text at word boundaries, keeping the separating space
// with the following word so concatenation reproduces the input.
func splitWords(text string) []string {
	var chunks []string
	start := 0
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' {
			chunks = append(chunks, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}

// splitFixed chunks text into runs of size runes.
func splitFixed(text string, size int) []string {
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
