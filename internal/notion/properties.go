package notion

import (
	"time"
	"unicode/utf8"
)

// MaxTextLength is the longest content Notion accepts in one text object.
const MaxTextLength = 2000

// MaxBlocksPerRequest caps the children sent in one request.
const MaxBlocksPerRequest = 100

// Properties maps property names to property values.
type Properties map[string]interface{}

// Block is one child block.
type Block map[string]interface{}

func textObjects(content string) []map[string]interface{} {
	return []map[string]interface{}{{
		"type": "text",
		"text": map[string]interface{}{"content": truncate(content)},
	}}
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxTextLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxTextLength])
}

// Title builds a title property value.
func Title(content string) map[string]interface{} {
	return map[string]interface{}{"title": textObjects(content)}
}

// RichText builds a rich_text property value.
func RichText(content string) map[string]interface{} {
	return map[string]interface{}{"rich_text": textObjects(content)}
}

// Number builds a number property value.
func Number(n float64) map[string]interface{} {
	return map[string]interface{}{"number": n}
}

// Date builds a date property value.
func Date(t time.Time) map[string]interface{} {
	return map[string]interface{}{
		"date": map[string]interface{}{"start": t.UTC().Format(time.RFC3339)},
	}
}

// ExternalFile builds a files property holding one external link.
func ExternalFile(name, link string) map[string]interface{} {
	return map[string]interface{}{
		"files": []map[string]interface{}{{
			"name":     name,
			"type":     "external",
			"external": map[string]string{"url": link},
		}},
	}
}

// Quote builds a quote block.
func Quote(content string) Block {
	return Block{
		"object": "block",
		"type":   "quote",
		"quote":  map[string]interface{}{"rich_text": textObjects(content)},
	}
}

// Paragraph builds a paragraph block.
func Paragraph(content string) Block {
	return Block{
		"object":    "block",
		"type":      "paragraph",
		"paragraph": map[string]interface{}{"rich_text": textObjects(content)},
	}
}
