// Package mime is the narrow typed interface this module consumes MIME
// structure through: nothing here parses RFC 5322 headers or multipart
// bodies itself. Entity names only the handful of operations dsn and
// summary need; Parse adapts github.com/emersion/go-message to it so
// those packages never import the whole go-message tree.
package mime

import (
	"io"

	"github.com/emersion/go-message"
)

// Entity is one MIME body part: either a leaf with a byte body, or a
// multipart container with child Entities.
type Entity interface {
	// ContentType returns the parsed Content-Type value, its parameters,
	// and any parse error.
	ContentType() (string, map[string]string, error)
	// Header returns the raw values of a header field, case-insensitively.
	Header(name string) []string
	// Parts returns this entity's immediate children, or nil if it is a
	// leaf (non-multipart) part.
	Parts() ([]Entity, error)
	// Body returns the leaf part's decoded byte content. Meaningless on a
	// multipart entity.
	Body() io.Reader
}

// Parse decodes r as a MIME entity using go-message.
func Parse(r io.Reader) (Entity, error) {
	e, err := message.Read(r)
	if err != nil && e == nil {
		return nil, err
	}
	return &goMessageEntity{entity: e}, err
}

type goMessageEntity struct {
	entity *message.Entity
}

func (e *goMessageEntity) ContentType() (string, map[string]string, error) {
	return e.entity.Header.ContentType()
}

func (e *goMessageEntity) Header(name string) []string {
	if v := e.entity.Header.Get(name); v != "" {
		return []string{v}
	}
	return nil
}

func (e *goMessageEntity) Parts() ([]Entity, error) {
	mr := e.entity.MultipartReader()
	if mr == nil {
		return nil, nil
	}
	var parts []Entity
	for {
		part, err := mr.NextPart()
		if err != nil {
			if err == io.EOF {
				break
			}
			return parts, err
		}
		parts = append(parts, &goMessageEntity{entity: part})
	}
	return parts, nil
}

func (e *goMessageEntity) Body() io.Reader {
	return e.entity.Body
}
