package crypto

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// Text encodings reported in Attempt.Encoding.
const (
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "iso-8859-1"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Document is a decrypted cookie-store export.
type Document map[string]any

// textDecoder turns plaintext bytes into a string, or reports it cannot.
type textDecoder struct {
	name   string
	decode func(data []byte) (string, bool)
}

var textDecoders = []textDecoder{
	{name: EncodingUTF8, decode: decodeUTF8},
	{name: "sniffed", decode: decodeSniffed},
	{name: EncodingLatin1, decode: decodeLatin1},
}

func decodeUTF8(data []byte) (string, bool) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

func decodeSniffed(data []byte) (string, bool) {
	name := sniffCharset(data)
	if name == "" {
		return "", false
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func decodeLatin1(data []byte) (string, bool) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// sniffCharset returns the charset chardet reports for data, normalized for
// htmlindex, or "" when it is UTF-8, Latin-1 or unknown. Those are covered by
// the other decoders.
func sniffCharset(data []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return ""
	}

	name := strings.ToLower(result.Charset)
	switch name {
	case "", "utf-8", "iso-8859-1":
		return ""
	case "gb-18030":
		return "gb18030"
	}
	return name
}

// parsePlaintext runs the text decoders over data and returns the first JSON
// object found, the encoding that produced it and the outcome.
func parsePlaintext(data []byte) (Document, string, Outcome) {
	outcome := OutcomeGarbage

	for _, td := range textDecoders {
		text, ok := td.decode(data)
		if !ok {
			continue
		}

		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			if td.name == EncodingUTF8 && outcome == OutcomeGarbage {
				outcome = OutcomeUnparseable
			}
			continue
		}

		obj, isObject := v.(map[string]any)
		if !isObject {
			outcome = OutcomeNotObject
			continue
		}

		name := td.name
		if name == "sniffed" {
			name = sniffCharset(data)
		}
		return Document(obj), name, OutcomeSuccess
	}

	return nil, "", outcome
}
