// Package store persists normalized posts per user: an append-only JSONL log
// plus a seen-id index, and the read path that serves the log back.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

// FileStore manages the two per-user artifacts under a base directory:
// {uid}.jsonl (append-only, never truncated) and {uid}.seen (sorted ids,
// rewritten whole each run).
type FileStore struct {
	baseDir string
	logger  *zap.Logger
}

// New creates the base directory if needed and validates it is writable.
func New(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &FileStore{baseDir: baseDir, logger: logger}, nil
}

// LogPath returns the append log location for a user.
func (s *FileStore) LogPath(uid string) string {
	return filepath.Join(s.baseDir, uid+".jsonl")
}

// SeenPath returns the seen-index location for a user.
func (s *FileStore) SeenPath(uid string) string {
	return filepath.Join(s.baseDir, uid+".seen")
}

// LoadSeen returns the durable set of all post ids ever written for uid.
// The index file is authoritative; when absent the set is rebuilt by scanning
// the append log, and when both are absent the set starts empty.
func (s *FileStore) LoadSeen(uid string) (map[string]struct{}, error) {
	seen := make(map[string]struct{})

	f, err := os.Open(s.SeenPath(uid))
	if err == nil {
		defer closeFile(f, s.logger)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if id := strings.TrimSpace(scanner.Text()); id != "" {
				seen[id] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read seen index: %w", err)
		}
		return seen, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open seen index: %w", err)
	}

	// No index; rebuild from the log if one exists.
	lf, err := os.Open(s.LogPath(uid))
	if err != nil {
		if os.IsNotExist(err) {
			return seen, nil
		}
		return nil, fmt.Errorf("open append log: %w", err)
	}
	defer closeFile(lf, s.logger)

	scanner := bufio.NewScanner(lf)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var post weibo.Post
		if err := json.Unmarshal(scanner.Bytes(), &post); err != nil {
			continue
		}
		if post.ID != nil {
			seen[strconv.FormatInt(*post.ID, 10)] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan append log: %w", err)
	}
	s.logger.Info("seen index rebuilt from append log",
		zap.String("uid", uid),
		zap.Int("ids", len(seen)),
	)
	return seen, nil
}

// PersistSeen rewrites the full seen index, sorted for reproducibility.
func (s *FileStore) PersistSeen(uid string, seen map[string]struct{}) error {
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(id)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(s.SeenPath(uid), []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("write seen index: %w", err)
	}
	return nil
}

// AppendPosts appends posts to the user's log in the given order, one JSON
// record per line. The log is only ever grown, never rewritten.
func (s *FileStore) AppendPosts(uid string, posts []weibo.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	f, err := os.OpenFile(s.LogPath(uid), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open append log: %w", err)
	}
	defer closeFile(f, s.logger)

	w := bufio.NewWriter(f)
	count := 0
	for _, post := range posts {
		line, err := json.Marshal(post)
		if err != nil {
			return count, fmt.Errorf("marshal post: %w", err)
		}
		if _, err := w.Write(line); err != nil {
			return count, fmt.Errorf("append post: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return count, fmt.Errorf("append post: %w", err)
		}
		count++
	}
	if err := w.Flush(); err != nil {
		return count, fmt.Errorf("flush append log: %w", err)
	}
	return count, nil
}

// QueryPage is the read-path result: a slice of stored records plus the
// cursor to resume from.
type QueryPage struct {
	Posts       []json.RawMessage `json:"posts"`
	NextSinceID string            `json:"next_since_id,omitempty"`
}

// QueryPosts serves records in stored order: those following sinceID (or from
// the start when empty), up to limit. Malformed lines are skipped. A missing
// log is a distinct not-found condition, never an empty result.
func (s *FileStore) QueryPosts(uid string, limit int, sinceID string) (QueryPage, error) {
	f, err := os.Open(s.LogPath(uid))
	if err != nil {
		if os.IsNotExist(err) {
			return QueryPage{}, weibo.NewError(weibo.ErrKindNotFound,
				fmt.Sprintf("no posts found for uid=%s", uid))
		}
		return QueryPage{}, fmt.Errorf("open append log: %w", err)
	}
	defer closeFile(f, s.logger)

	var page QueryPage
	started := sinceID == ""
	lastID := ""

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var record struct {
			ID *int64 `json:"id"`
		}
		raw := scanner.Bytes()
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		id := ""
		if record.ID != nil {
			id = strconv.FormatInt(*record.ID, 10)
		}
		if !started {
			if id == sinceID {
				started = true
			}
			continue
		}
		page.Posts = append(page.Posts, json.RawMessage(append([]byte(nil), raw...)))
		lastID = id
		if len(page.Posts) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return QueryPage{}, fmt.Errorf("scan append log: %w", err)
	}
	if len(page.Posts) > 0 {
		page.NextSinceID = lastID
	}
	return page, nil
}

func closeFile(f *os.File, logger *zap.Logger) {
	if err := f.Close(); err != nil {
		logger.Debug("close file", zap.String("path", f.Name()), zap.Error(err))
	}
}
