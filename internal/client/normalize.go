package client

import (
	"encoding/json"
	"strconv"

	"github.com/w1np9uci/weibo-crawler/internal/text"
	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

// mblogCardType marks timeline post cards; everything else (ads,
// recommendations, follow suggestions) is discarded.
const mblogCardType = 9

// NormalizeCards filters raw cards down to timeline posts and maps each to a
// normalized Post, preserving encounter order. Engagement counters default to
// zero when the API omits them.
func NormalizeCards(cards []map[string]any) []weibo.Post {
	posts := make([]weibo.Post, 0, len(cards))
	for _, card := range cards {
		if asInt64(card["card_type"]) != mblogCardType {
			continue
		}
		mblog, ok := card["mblog"].(map[string]any)
		if !ok {
			continue
		}

		clean := text.StripHTML(asString(mblog["text"]))
		rawText := asString(mblog["raw_text"])
		if rawText == "" {
			rawText = clean
		}

		post := weibo.Post{
			ID:             asID(mblog["id"]),
			Mid:            asString(mblog["mid"]),
			Mblogid:        asString(mblog["mblogid"]),
			CreatedAt:      asString(mblog["created_at"]),
			Text:           clean,
			RawText:        rawText,
			Author:         normalizeAuthor(mblog["user"]),
			Pics:           normalizePics(mblog["pics"]),
			RegionName:     asString(mblog["region_name"]),
			RepostsCount:   asInt64(mblog["reposts_count"]),
			CommentsCount:  asInt64(mblog["comments_count"]),
			AttitudesCount: asInt64(mblog["attitudes_count"]),
			IsLongText:     asBool(mblog["isLongText"]),
			TopicID:        asString(mblog["topic_id"]),
			CardMeta: map[string]any{
				"scheme": card["scheme"],
				"itemid": card["itemid"],
			},
		}
		posts = append(posts, post)
	}
	return posts
}

func normalizeAuthor(v any) *weibo.Author {
	user, ok := v.(map[string]any)
	if !ok || len(user) == 0 {
		return nil
	}
	return &weibo.Author{
		ID:             asInt64(user["id"]),
		ScreenName:     asString(user["screen_name"]),
		Gender:         asString(user["gender"]),
		Verified:       asBool(user["verified"]),
		FollowersCount: asInt64(user["followers_count"]),
	}
}

func normalizePics(v any) []weibo.Pic {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	pics := make([]weibo.Pic, 0, len(items))
	for _, item := range items {
		meta, ok := item.(map[string]any)
		if !ok {
			continue
		}
		pics = append(pics, weibo.Pic{
			Pid:      asString(meta["pid"]),
			LargeURL: text.LargeImageURL(meta),
		})
	}
	if len(pics) == 0 {
		return nil
	}
	return pics
}

// asID parses a post id from the numeric or string form the API uses
// interchangeably. Returns nil when no usable id is present.
func asID(v any) *int64 {
	switch val := v.(type) {
	case float64:
		id := int64(val)
		return &id
	case string:
		id, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil
		}
		return &id
	case json.Number:
		id, err := val.Int64()
		if err != nil {
			return nil
		}
		return &id
	default:
		return nil
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case int:
		return int64(val)
	case int64:
		return val
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0
		}
		return n
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
