// Package export writes highlights and notes to CSV.
package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/TheMichaelB/readsync/internal/models"
)

// Reader fetches the notes of one book.
type Reader interface {
	Bookmarks(ctx context.Context, bookID string) ([]models.Highlight, error)
	Reviews(ctx context.Context, bookID string) ([]models.Review, error)
}

// Row is one exported highlight or note.
type Row struct {
	Book      string `csv:"book"`
	Author    string `csv:"author"`
	Chapter   string `csv:"chapter"`
	Highlight string `csv:"highlight"`
	Note      string `csv:"note"`
	Created   string `csv:"created"`
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// Collect builds the rows for books in order. A note attached to a
// highlighted passage shares its row.
func Collect(ctx context.Context, reader Reader, books []models.Book) ([]Row, error) {
	var rows []Row

	for _, book := range books {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		highlights, err := reader.Bookmarks(ctx, book.BookID)
		if err != nil {
			return nil, fmt.Errorf("bookmarks for %s: %w", book.BookID, err)
		}
		reviews, err := reader.Reviews(ctx, book.BookID)
		if err != nil {
			return nil, fmt.Errorf("reviews for %s: %w", book.BookID, err)
		}

		rows = append(rows, bookRows(book, highlights, reviews)...)
	}

	return rows, nil
}

type passage struct {
	chapter int
	rng     string
}

func bookRows(book models.Book, highlights []models.Highlight, reviews []models.Review) []Row {
	notes := make(map[passage][]models.Review)
	var rows []Row

	for _, r := range reviews {
		if r.Type == models.ReviewTypeBook {
			rows = append(rows, Row{
				Book:    book.Title,
				Author:  book.Author,
				Note:    r.Content,
				Created: timestamp(r.CreateTime),
			})
			continue
		}
		key := passage{r.ChapterUID, r.Range}
		notes[key] = append(notes[key], r)
	}

	for _, h := range highlights {
		row := Row{
			Book:      book.Title,
			Author:    book.Author,
			Chapter:   h.ChapterTitle,
			Highlight: h.MarkText,
			Created:   timestamp(h.CreateTime),
		}

		key := passage{h.ChapterUID, h.Range}
		if pending := notes[key]; len(pending) > 0 {
			row.Note = pending[0].Content
			notes[key] = pending[1:]
		}
		rows = append(rows, row)
	}

	// Notes on passages that are no longer highlighted.
	for _, r := range reviews {
		if r.Type == models.ReviewTypeBook {
			continue
		}
		key := passage{r.ChapterUID, r.Range}
		pending := notes[key]
		if len(pending) == 0 || pending[0].ReviewID != r.ReviewID {
			continue
		}
		notes[key] = pending[1:]
		rows = append(rows, Row{
			Book:      book.Title,
			Author:    book.Author,
			Chapter:   r.ChapterTitle,
			Highlight: r.Abstract,
			Note:      r.Content,
			Created:   timestamp(r.CreateTime),
		})
	}

	return rows
}

func timestamp(unix int64) string {
	if unix <= 0 {
		return ""
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
