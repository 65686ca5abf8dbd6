package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeCards(t *testing.T, raw string) []map[string]any {
	t.Helper()
	var cards []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &cards))
	return cards
}

func TestNormalizeCardsFiltersByCardType(t *testing.T) {
	t.Parallel()

	cards := decodeCards(t, `[
		{"card_type": 9, "mblog": {"id": "101", "text": "<b>hello</b>"}},
		{"card_type": 11, "mblog": {"id": "102", "text": "recommendation"}},
		{"card_type": 9},
		{"card_type": 9, "mblog": {"id": 103, "text": "plain"}}
	]`)

	posts := NormalizeCards(cards)
	require.Len(t, posts, 2)
	require.EqualValues(t, 101, *posts[0].ID)
	require.Equal(t, "hello", posts[0].Text)
	require.EqualValues(t, 103, *posts[1].ID)
}

func TestNormalizeCardsPreservesOrderAndDefaults(t *testing.T) {
	t.Parallel()

	cards := decodeCards(t, `[
		{"card_type": 9, "mblog": {"id": "2", "text": "second"}},
		{"card_type": 9, "mblog": {"id": "1", "text": "first"}}
	]`)

	posts := NormalizeCards(cards)
	require.Len(t, posts, 2)
	require.EqualValues(t, 2, *posts[0].ID)
	require.EqualValues(t, 1, *posts[1].ID)
	require.Zero(t, posts[0].RepostsCount)
	require.Zero(t, posts[0].CommentsCount)
	require.Zero(t, posts[0].AttitudesCount)
}

func TestNormalizeCardsRawTextFallsBackToCleanText(t *testing.T) {
	t.Parallel()

	cards := decodeCards(t, `[
		{"card_type": 9, "mblog": {"id": "1", "text": "<i>styled</i>"}},
		{"card_type": 9, "mblog": {"id": "2", "text": "<i>x</i>", "raw_text": "original"}}
	]`)

	posts := NormalizeCards(cards)
	require.Equal(t, "styled", posts[0].RawText)
	require.Equal(t, "original", posts[1].RawText)
}

func TestNormalizeCardsAuthorAndPics(t *testing.T) {
	t.Parallel()

	cards := decodeCards(t, `[{
		"card_type": 9,
		"scheme": "https://m.weibo.cn/status/1",
		"mblog": {
			"id": "1",
			"text": "pic post",
			"user": {"id": 777, "screen_name": "tester", "verified": true, "followers_count": 42},
			"pics": [
				{"pid": "p1", "url": "https://img/t1.jpg", "large": {"url": "https://img/l1.jpg"}},
				{"pid": "p2", "url": "https://img/t2.jpg"}
			]
		}
	}]`)

	posts := NormalizeCards(cards)
	require.Len(t, posts, 1)
	post := posts[0]

	require.NotNil(t, post.Author)
	require.EqualValues(t, 777, post.Author.ID)
	require.Equal(t, "tester", post.Author.ScreenName)
	require.True(t, post.Author.Verified)

	require.Len(t, post.Pics, 2)
	require.Equal(t, "https://img/l1.jpg", post.Pics[0].LargeURL)
	require.Equal(t, "https://img/t2.jpg", post.Pics[1].LargeURL)

	require.Equal(t, "https://m.weibo.cn/status/1", post.CardMeta["scheme"])
}

func TestNormalizeCardsIDLessPostKept(t *testing.T) {
	t.Parallel()

	cards := decodeCards(t, `[{"card_type": 9, "mblog": {"text": "no id"}}]`)
	posts := NormalizeCards(cards)
	require.Len(t, posts, 1)
	require.Nil(t, posts[0].ID)
}

func TestAsID(t *testing.T) {
	t.Parallel()

	require.Nil(t, asID(nil))
	require.Nil(t, asID("not-a-number"))
	require.EqualValues(t, 5, *asID("5"))
	require.EqualValues(t, 7, *asID(float64(7)))
	require.EqualValues(t, 9, *asID(json.Number("9")))
}
