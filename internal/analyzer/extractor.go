/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analyzer

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
	"golang.org/x/text/transform"

	"github.com/friendsincode/grimnir_playout/internal/schedule"
)

// DurationAttr is the attribute carrying an item's length in seconds.
const DurationAttr = "duration"

// Info is the metadata extracted from one media descriptor.
type Info struct {
	Duration time.Duration // whole seconds
	Seconds  float64       // raw attribute value
	Encoding string        // charset the document was decoded with
	Element  string        // local name of the element carrying the duration
}

// Options tunes the extractor.
type Options struct {
	// Element restricts the duration lookup to elements with this local name.
	Element string
	// FallbackEncoding is used when charset detection fails or names an unknown charset.
	FallbackEncoding string
}

// Extractor reads playable durations from media descriptor documents.
type Extractor struct {
	element      string
	fallback     encoding.Encoding
	fallbackName string
	logger       zerolog.Logger
}

// New constructs an extractor.
func New(opts Options, logger zerolog.Logger) *Extractor {
	fallback, name := lookupEncoding(opts.FallbackEncoding)
	if fallback == nil {
		fallback, name = unicode.UTF8, "utf-8"
	}
	return &Extractor{
		element:      strings.TrimSpace(opts.Element),
		fallback:     fallback,
		fallbackName: name,
		logger:       logger.With().Str("component", "analyzer").Logger(),
	}
}

// Extract returns the duration of the descriptor at path.
//
// The document's declared encoding is ignored: the charset is sniffed from
// the raw bytes and the text decoded before parsing. The first element below
// the root that carries a duration attribute wins.
func (e *Extractor) Extract(ctx context.Context, path string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Info{}, newError(path, "", ErrUnreadable, err)
	}

	enc, encName := e.detect(path, raw)
	text, err := decode(raw, enc)
	if err != nil {
		return Info{}, newError(path, encName, ErrMalformed, fmt.Errorf("decode as %s: %w", encName, err))
	}

	element, value, err := findDuration(text, e.element)
	if err != nil {
		return Info{}, newError(path, encName, ErrMalformed, err)
	}
	if element == "" {
		return Info{}, newError(path, encName, ErrDurationNotFound, nil)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return Info{}, newError(path, encName, ErrInvalidDuration, err)
	}
	d, err := schedule.DurationFromSeconds(seconds)
	if err != nil {
		return Info{}, newError(path, encName, ErrInvalidDuration, err)
	}

	e.logger.Debug().
		Str("item_path", path).
		Str("encoding", encName).
		Str("element", element).
		Float64("seconds", seconds).
		Msg("duration extracted")

	return Info{Duration: d, Seconds: seconds, Encoding: encName, Element: element}, nil
}

// detect sniffs the charset of raw, falling back to the configured default.
func (e *Extractor) detect(path string, raw []byte) (encoding.Encoding, string) {
	result, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || result == nil {
		e.logger.Warn().Err(err).Str("item_path", path).Str("fallback", e.fallbackName).
			Msg("charset detection failed, using fallback encoding")
		return e.fallback, e.fallbackName
	}

	enc, name := lookupEncoding(result.Charset)
	if enc == nil {
		e.logger.Warn().Str("item_path", path).Str("detected", result.Charset).Str("fallback", e.fallbackName).
			Msg("detected charset not supported, using fallback encoding")
		return e.fallback, e.fallbackName
	}
	return enc, name
}

// lookupEncoding maps a charset label to a decoder. Returns nil for unknown labels.
func lookupEncoding(label string) (encoding.Encoding, string) {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "":
		return nil, ""
	case "utf-32be":
		return utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM), "utf-32be"
	case "utf-32le":
		return utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM), "utf-32le"
	case "gb-18030":
		label = "gb18030"
	}
	enc, name := charset.Lookup(label)
	if enc == nil {
		return nil, ""
	}
	return enc, name
}

func decode(raw []byte, enc encoding.Encoding) ([]byte, error) {
	text, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), enc.NewDecoder()))
	if err != nil {
		return nil, err
	}
	return bytes.TrimPrefix(text, []byte("\uFEFF")), nil
}

// findDuration parses the whole document and returns the first element below
// the root carrying the duration attribute. A document that fails to parse
// anywhere is rejected even if a duration was seen before the error.
func findDuration(text []byte, element string) (name, value string, err error) {
	dec := xml.NewDecoder(bytes.NewReader(text))
	// Already decoded to UTF-8; the declaration is not trusted.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	depth := 0
	roots := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return "", "", fmt.Errorf("extra content after root element <%s>", t.Name.Local)
				}
			}
			depth++
			if depth > 1 && name == "" && (element == "" || t.Name.Local == element) {
				for _, attr := range t.Attr {
					if attr.Name.Local == DurationAttr {
						name, value = t.Name.Local, attr.Value
						break
					}
				}
			}
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return "", "", errors.New("text outside root element")
			}
		}
	}

	if roots == 0 {
		return "", "", errors.New("document has no root element")
	}
	return name, value, nil
}
