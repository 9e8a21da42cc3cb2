// Package policy mints and models the short-lived, credential-scoped write
// authorizations used for direct-to-storage uploads. A policy authorises a
// multipart form POST of exactly one object key for a bounded time window;
// the application backend never proxies the file bytes itself.
package policy

import (
	"context"
	"errors"
	"sort"

	"medialift/internal/models"
)

// Policy is the wire shape consumed by upload clients: POST Fields merged
// with the file to URL as multipart/form-data, fields enumerated before the
// file part.
type Policy struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

// Field is one form field of a policy in submission order.
type Field struct {
	Name  string
	Value string
}

// OrderedFields returns the policy fields in the order they must appear in
// the multipart body: the object key first, then the remaining fields in a
// stable order. Some object stores validate the signature against field
// ordering, so the file part must always come last.
func (p Policy) OrderedFields() []Field {
	if len(p.Fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		if name == "key" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Field, 0, len(p.Fields))
	if key, ok := p.Fields["key"]; ok {
		out = append(out, Field{Name: "key", Value: key})
	}
	for _, name := range names {
		out = append(out, Field{Name: name, Value: p.Fields[name]})
	}
	return out
}

// Request describes the upload a policy should authorise.
type Request struct {
	ObjectType  models.ObjectType
	ObjectID    string
	Filename    string
	ContentType string
	SizeBytes   int64
}

// Issuer mints upload policies scoped to a single object key.
type Issuer interface {
	Issue(ctx context.Context, req Request) (Policy, error)
}

// ErrObjectRequired is returned when a policy request is missing the object
// identity the key is derived from.
var ErrObjectRequired = errors.New("object type and id are required")
