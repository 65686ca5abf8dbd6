// Package weibo defines core types shared across subsystems.
package weibo

import (
	"encoding/json"
	"time"
)

// TaskState represents the lifecycle state of a crawl task.
type TaskState string

// Task state values persisted in the task store.
const (
	TaskStatePending    TaskState = "pending"
	TaskStateProcessing TaskState = "processing"
	TaskStateComplete   TaskState = "complete"
	TaskStateFailed     TaskState = "failed"
)

// Author summarizes the posting account as reported by the mobile API.
type Author struct {
	ID             int64  `json:"id,omitempty"`
	ScreenName     string `json:"screen_name,omitempty"`
	Gender         string `json:"gender,omitempty"`
	Verified       bool   `json:"verified,omitempty"`
	FollowersCount int64  `json:"followers_count,omitempty"`
}

// Pic is one image attached to a post with its resolved large URL.
type Pic struct {
	Pid      string `json:"pid,omitempty"`
	LargeURL string `json:"large_url,omitempty"`
}

// Post is one normalized, immutable timeline item. ID is the dedup key;
// a nil ID means the record cannot be deduplicated or tracked.
type Post struct {
	ID             *int64         `json:"id,omitempty"`
	Mid            string         `json:"mid,omitempty"`
	Mblogid        string         `json:"mblogid,omitempty"`
	CreatedAt      string         `json:"created_at,omitempty"`
	Text           string         `json:"text,omitempty"`
	RawText        string         `json:"raw_text,omitempty"`
	Author         *Author        `json:"user,omitempty"`
	Pics           []Pic          `json:"pics,omitempty"`
	RegionName     string         `json:"region_name,omitempty"`
	RepostsCount   int64          `json:"reposts_count"`
	CommentsCount  int64          `json:"comments_count"`
	AttitudesCount int64          `json:"attitudes_count"`
	IsLongText     bool           `json:"isLongText,omitempty"`
	TopicID        string         `json:"topic_id,omitempty"`
	CardMeta       map[string]any `json:"card_meta,omitempty"`
}

// CrawlRequest captures the per-task parameters requested by the client.
type CrawlRequest struct {
	UID      string  `json:"uid"`
	MaxPages *int    `json:"max_pages,omitempty"`
	DelayS   float64 `json:"delay_s,omitempty"`
	UseProxy bool    `json:"use_proxy,omitempty"`
}

// CrawlStats tracks per-run counters. Counters only ever increase
// within a single run.
type CrawlStats struct {
	Pages   int `json:"pages"`
	Fetched int `json:"fetched"`
	Written int `json:"written"`
}

// CrawlResult is the outcome of one crawl run.
type CrawlResult struct {
	UID          string     `json:"uid"`
	ContainerID  string     `json:"containerid"`
	FirstSinceID string     `json:"first_since_id,omitempty"`
	LastSinceID  string     `json:"last_since_id,omitempty"`
	Stats        CrawlStats `json:"stats"`
	OutputFile   string     `json:"output_file,omitempty"`
	SeenFile     string     `json:"seen_file,omitempty"`
}

// Task represents the metadata persisted for each submitted crawl request.
type Task struct {
	ID        string         `json:"task_id"`
	State     TaskState      `json:"state"`
	Progress  int            `json:"progress"`
	Submitted time.Time      `json:"submitted_at"`
	Started   *time.Time     `json:"started_at,omitempty"`
	Finished  *time.Time     `json:"finished_at,omitempty"`
	Request   CrawlRequest   `json:"request"`
	Result    *CrawlResult   `json:"result,omitempty"`
	ErrorText string         `json:"error,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// QueueItem wraps a crawl task ready to run.
type QueueItem struct {
	TaskID    string
	Request   CrawlRequest
	Attempt   int
	Submitted int64
}

// RawPage is the decoded container/getIndex payload for one timeline page.
// Cards are kept as raw maps until normalization filters them by card type.
// SinceID stays raw because the API alternates between huge integers and
// strings; decoding to float64 would corrupt the cursor.
type RawPage struct {
	OK   int `json:"ok"`
	Data struct {
		Cards        []map[string]any `json:"cards"`
		CardlistInfo struct {
			SinceID json.RawMessage `json:"since_id"`
		} `json:"cardlistInfo"`
	} `json:"data"`
}

// NextCursor renders the page's pagination cursor as the string form expected
// by the next request. Returns "" when the timeline is exhausted.
func (p RawPage) NextCursor() string {
	raw := string(p.Data.CardlistInfo.SinceID)
	raw = trimQuotes(raw)
	if raw == "" || raw == "null" || raw == "0" {
		return ""
	}
	return raw
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
