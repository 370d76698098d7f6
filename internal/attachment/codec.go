// Package attachment encodes file references inline in message text.
package attachment

import (
	"errors"
	"regexp"
	"strings"
)

// Sentinel prefixes every inline attachment reference.
const Sentinel = "\U0001F4CE"

// ErrUnencodable is returned for names or URLs that would break the syntax.
var ErrUnencodable = errors.New("attachment reference cannot be encoded")

var pattern = regexp.MustCompile(regexp.QuoteMeta(Sentinel) + `\[([^\]\n]+)\]\(([^)\s]*)\)`)

// Ref points at an uploaded file.
type Ref struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Segment is a run of plain text or a single attachment.
type Segment struct {
	Text       string
	Attachment *Ref
}

// IsAttachment reports whether the segment is an attachment.
func (s Segment) IsAttachment() bool {
	return s.Attachment != nil
}

// Encode renders ref as sentinel + [filename](url). An empty URL is allowed
// for files that have not been uploaded yet.
func Encode(ref Ref) (string, error) {
	if ref.Filename == "" || strings.ContainsAny(ref.Filename, "]\n") {
		return "", ErrUnencodable
	}
	if strings.ContainsAny(ref.URL, ") \t\n\r") {
		return "", ErrUnencodable
	}
	return Sentinel + "[" + ref.Filename + "](" + ref.URL + ")", nil
}

// Append adds an encoded reference to text on its own line.
func Append(text string, ref Ref) (string, error) {
	encoded, err := Encode(ref)
	if err != nil {
		return "", err
	}
	if text == "" {
		return encoded, nil
	}
	return text + "\n" + encoded, nil
}

// Decode splits text into plain and attachment segments in order of
// appearance. One newline directly before a reference is read as the
// separator Append writes and dropped, whoever wrote the text. Text with
// no reference comes back unchanged as a single segment.
func Decode(text string) []Segment {
	matches := pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		if text == "" {
			return nil
		}
		return []Segment{{Text: text}}
	}

	var segments []Segment
	last := 0
	for _, m := range matches {
		if m[0] > last {
			plain := strings.TrimSuffix(text[last:m[0]], "\n")
			if plain != "" {
				segments = append(segments, Segment{Text: plain})
			}
		}
		segments = append(segments, Segment{Attachment: &Ref{
			Filename: text[m[2]:m[3]],
			URL:      text[m[4]:m[5]],
		}})
		last = m[1]
	}
	if last < len(text) {
		segments = append(segments, Segment{Text: text[last:]})
	}
	return segments
}

// Refs returns only the attachment references in text.
func Refs(text string) []Ref {
	var refs []Ref
	for _, seg := range Decode(text) {
		if seg.Attachment != nil {
			refs = append(refs, *seg.Attachment)
		}
	}
	return refs
}
