package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RESTStore talks to a Redis-over-HTTP endpoint: each command is POSTed as a
// JSON array and answered with {"result": ...} or {"error": "..."}.
type RESTStore struct {
	url    string
	token  string
	client *http.Client
}

func NewRESTStore(url, token string, client *http.Client) *RESTStore {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &RESTStore{url: strings.TrimRight(url, "/"), token: token, client: client}
}

type restReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (s *RESTStore) do(ctx context.Context, args ...string) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kv %s: %w", args[0], err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("kv %s: read body: %w", args[0], err)
	}
	var reply restReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("kv %s: status %d: decode reply: %w", args[0], resp.StatusCode, err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("kv %s: %s", args[0], reply.Error)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("kv %s: status %d", args[0], resp.StatusCode)
	}
	return reply.Result, nil
}

func (s *RESTStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	res, err := s.do(ctx, "GET", key)
	record("rest", "get", err)
	if err != nil {
		return nil, false, err
	}
	if isNull(res) {
		return nil, false, nil
	}
	var val string
	if err := json.Unmarshal(res, &val); err != nil {
		return nil, false, fmt.Errorf("kv GET: unexpected result: %w", err)
	}
	return []byte(val), true, nil
}

func (s *RESTStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		secs := int64(math.Ceil(ttl.Seconds()))
		args = append(args, "EX", strconv.FormatInt(secs, 10))
	}
	_, err := s.do(ctx, args...)
	record("rest", "set", err)
	return err
}

func (s *RESTStore) Del(ctx context.Context, key string) error {
	_, err := s.do(ctx, "DEL", key)
	record("rest", "del", err)
	return err
}

func (s *RESTStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(prefix) + "*"
	cursor := "0"
	var out []string
	for {
		res, err := s.do(ctx, "SCAN", cursor, "MATCH", pattern, "COUNT", strconv.Itoa(scanBatch))
		if err != nil {
			record("rest", "scan", err)
			return nil, err
		}
		next, batch, err := decodeScan(res)
		if err != nil {
			record("rest", "scan", err)
			return nil, err
		}
		out = append(out, batch...)
		cursor = next
		if cursor == "0" {
			break
		}
	}
	record("rest", "scan", nil)
	return dedupe(out), nil
}

func (s *RESTStore) Durable() bool { return true }

func (s *RESTStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, "PING")
	return err
}

func (s *RESTStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func decodeScan(raw json.RawMessage) (string, []string, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) != 2 {
		return "", nil, errors.New("kv SCAN: unexpected result shape")
	}
	var cursor string
	if err := json.Unmarshal(parts[0], &cursor); err != nil {
		var n int64
		if err2 := json.Unmarshal(parts[0], &n); err2 != nil {
			return "", nil, fmt.Errorf("kv SCAN: cursor: %w", err)
		}
		cursor = strconv.FormatInt(n, 10)
	}
	var keys []string
	if !isNull(parts[1]) {
		if err := json.Unmarshal(parts[1], &keys); err != nil {
			return "", nil, fmt.Errorf("kv SCAN: keys: %w", err)
		}
	}
	return cursor, keys, nil
}
