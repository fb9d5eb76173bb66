package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/readsync/internal/crypto"
	"github.com/TheMichaelB/readsync/internal/models"
)

// Credentials used by the fixtures.
const (
	DeviceUUID    = "5f3c6b1e-uuid"
	Password      = "cc-password"
	SessionCookie = "wr_skey"
	SessionValue  = "skey-abc"
	NotionToken   = "secret_test"
	DatabaseID    = "db-123"
)

// SampleLibrary returns two books with highlights and notes.
func SampleLibrary() Library {
	return Library{
		Books: []models.Book{
			{BookID: "b2", Title: "Second Book", Author: "Writer B", Sort: 200, BookmarkCount: 1, ReviewCount: 1},
			{
				BookID: "b1", Title: "First Book", Author: "Writer A", Sort: 100, BookmarkCount: 2, ReviewCount: 1,
				Cover: "https://cdn.weread.qq.com/b1.jpg", Category: "文学",
			},
		},
		Highlights: map[string][]models.Highlight{
			"b1": {
				{BookmarkID: "b1_2_10-20", ChapterUID: 2, Range: "10-20", MarkText: "second chapter passage", CreateTime: 1700000200},
				{BookmarkID: "b1_1_5-9", ChapterUID: 1, Range: "5-9", MarkText: "opening passage", CreateTime: 1700000100},
			},
			"b2": {
				{BookmarkID: "b2_1_0-4", ChapterUID: 1, Range: "0-4", MarkText: "only passage", CreateTime: 1700000300},
			},
		},
		Reviews: map[string][]models.Review{
			"b1": {
				{ReviewID: "r1", ChapterUID: 1, Abstract: "opening passage", Content: "a thought", Range: "5-9", CreateTime: 1700000150, Type: models.ReviewTypeNote},
			},
			"b2": {
				{ReviewID: "r2", Content: "great book", CreateTime: 1700000400, Type: models.ReviewTypeBook},
			},
		},
		Chapters: map[string][]models.Chapter{
			"b1": {{ChapterUID: 1, Title: "Chapter One"}, {ChapterUID: 2, Title: "Chapter Two"}},
			"b2": {{ChapterUID: 1, Title: "Prologue"}},
		},
	}
}

// CookieDocument returns a decrypted export carrying the session cookie.
func CookieDocument() string {
	doc := map[string]interface{}{
		"cookie_data": map[string]interface{}{
			"weread.qq.com":  map[string]interface{}{"/": map[string]string{"wr_vid": "10086", SessionCookie: SessionValue}},
			".weread.qq.com": map[string]interface{}{"/": map[string]string{"wr_name": "reader"}},
			"example.com":    map[string]interface{}{"/": map[string]string{"unrelated": "x"}},
		},
	}
	data, _ := json.Marshal(doc)
	return string(data)
}

// SealedExport encrypts plaintext the way the browser extension does.
func SealedExport(t *testing.T, plaintext string) string {
	t.Helper()

	payload, err := crypto.SealString(crypto.CookieCloud(), []byte(plaintext), Password, DeviceUUID, []byte("8bytesal"))
	require.NoError(t, err)
	return payload
}
