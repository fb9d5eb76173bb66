package models

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Review types returned by the reading platform.
const (
	ReviewTypeNote = 1 // note attached to a passage
	ReviewTypeBook = 4 // review of the whole book
)

// Book is one entry of the reader's notebook list.
type Book struct {
	BookID        string `json:"bookId"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Cover         string `json:"cover,omitempty"`
	Category      string `json:"category,omitempty"`
	Sort          int64  `json:"sort"`
	NoteCount     int    `json:"noteCount"`
	ReviewCount   int    `json:"reviewCount"`
	BookmarkCount int    `json:"bookmarkCount"`
}

// Chapter names a chapter UID.
type Chapter struct {
	ChapterUID int    `json:"chapterUid"`
	Title      string `json:"title"`
	Level      int    `json:"level,omitempty"`
}

// Highlight is a marked passage.
type Highlight struct {
	BookmarkID   string `json:"bookmarkId"`
	BookID       string `json:"bookId"`
	ChapterUID   int    `json:"chapterUid"`
	ChapterTitle string `json:"chapterTitle,omitempty"`
	Range        string `json:"range"`
	MarkText     string `json:"markText"`
	CreateTime   int64  `json:"createTime"`
	ColorStyle   int    `json:"colorStyle"`
}

// Created returns the creation time.
func (h Highlight) Created() time.Time {
	return time.Unix(h.CreateTime, 0).UTC()
}

// Review is a note written by the reader.
type Review struct {
	ReviewID     string `json:"reviewId"`
	BookID       string `json:"bookId"`
	ChapterUID   int    `json:"chapterUid"`
	ChapterTitle string `json:"chapterName,omitempty"`
	Abstract     string `json:"abstract"`
	Content      string `json:"content"`
	Range        string `json:"range"`
	CreateTime   int64  `json:"createTime"`
	Type         int    `json:"type"`
}

// Created returns the creation time.
func (r Review) Created() time.Time {
	return time.Unix(r.CreateTime, 0).UTC()
}

// RangeStart parses the start offset of a "start-end" range. Empty or
// malformed ranges sort first.
func RangeStart(r string) int {
	start, _, _ := strings.Cut(r, "-")
	n, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return 0
	}
	return n
}

// SortHighlights orders highlights by chapter, then by position in the chapter.
func SortHighlights(hs []Highlight) {
	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].ChapterUID != hs[j].ChapterUID {
			return hs[i].ChapterUID < hs[j].ChapterUID
		}
		return RangeStart(hs[i].Range) < RangeStart(hs[j].Range)
	})
}

// SortReviews orders reviews by chapter, then by position in the chapter.
func SortReviews(rs []Review) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].ChapterUID != rs[j].ChapterUID {
			return rs[i].ChapterUID < rs[j].ChapterUID
		}
		return RangeStart(rs[i].Range) < RangeStart(rs[j].Range)
	})
}
