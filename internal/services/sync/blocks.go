package sync

import (
	"sort"
	"strings"
	"time"

	"github.com/TheMichaelB/readsync/internal/models"
	"github.com/TheMichaelB/readsync/internal/notion"
)

// item is one highlight or review waiting to be pushed.
type item struct {
	id         string
	created    int64
	chapterUID int
	rangeStart int
	bookReview bool
	blocks     []notion.Block
}

func highlightItem(h models.Highlight) item {
	return item{
		id:         h.BookmarkID,
		created:    h.CreateTime,
		chapterUID: h.ChapterUID,
		rangeStart: models.RangeStart(h.Range),
		blocks:     []notion.Block{notion.Quote(h.MarkText)},
	}
}

func reviewItem(r models.Review) item {
	it := item{
		id:         r.ReviewID,
		created:    r.CreateTime,
		chapterUID: r.ChapterUID,
		rangeStart: models.RangeStart(r.Range),
		bookReview: r.Type == models.ReviewTypeBook,
	}
	if abstract := strings.TrimSpace(r.Abstract); abstract != "" && !it.bookReview {
		it.blocks = append(it.blocks, notion.Quote(abstract))
	}
	if content := strings.TrimSpace(r.Content); content != "" {
		it.blocks = append(it.blocks, notion.Paragraph(content))
	}
	return it
}

// pending collects the items not yet recorded in st. Book reviews come
// first, then highlights and notes in reading order.
func pending(st *models.SyncState, highlights []models.Highlight, reviews []models.Review) []item {
	var items []item
	for _, h := range highlights {
		if h.BookmarkID == "" || st.IsSynced(h.BookmarkID) {
			continue
		}
		items = append(items, highlightItem(h))
	}
	for _, r := range reviews {
		if r.ReviewID == "" || st.IsSynced(r.ReviewID) {
			continue
		}
		it := reviewItem(r)
		if len(it.blocks) == 0 {
			continue
		}
		items = append(items, it)
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.bookReview != b.bookReview {
			return a.bookReview
		}
		if a.chapterUID != b.chapterUID {
			return a.chapterUID < b.chapterUID
		}
		return a.rangeStart < b.rangeStart
	})
	return items
}

func blocksFor(items []item) []notion.Block {
	var blocks []notion.Block
	for _, it := range items {
		blocks = append(blocks, it.blocks...)
	}
	return blocks
}

// newest returns the creation time of the most recent item, or the zero
// time when none carries one.
func newest(items []item) time.Time {
	var latest int64
	for _, it := range items {
		if it.created > latest {
			latest = it.created
		}
	}
	if latest == 0 {
		return time.Time{}
	}
	return time.Unix(latest, 0).UTC()
}

// pageProperties builds the database row for a book.
func pageProperties(book models.Book, items []item) notion.Properties {
	props := notion.Properties{
		PropertyBookName: notion.Title(book.Title),
		PropertyBookID:   notion.RichText(book.BookID),
		PropertyAuthor:   notion.RichText(book.Author),
		PropertySort:     notion.Number(float64(book.Sort)),
	}
	if category := strings.TrimSpace(book.Category); category != "" {
		props[PropertyCategory] = notion.RichText(category)
	}
	if cover := strings.TrimSpace(book.Cover); cover != "" {
		props[PropertyCover] = notion.ExternalFile("cover.jpg", cover)
	}
	if latest := newest(items); !latest.IsZero() {
		props[PropertyDate] = notion.Date(latest)
	}
	return props
}
