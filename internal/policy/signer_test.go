package policy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"medialift/internal/models"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner(SignerConfig{
		Endpoint:  "storage.local:9000",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		Bucket:    "media",
	})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	signer.now = func() time.Time {
		return time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)
	}
	return signer
}

func TestSignerIssueFields(t *testing.T) {
	signer := newTestSigner(t)
	pol, err := signer.Issue(context.Background(), Request{
		ObjectType:  models.ObjectTypeVideo,
		ObjectID:    "object-1",
		Filename:    "lecture.mp4",
		ContentType: "video/mp4",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pol.URL != "http://storage.local:9000/media" {
		t.Fatalf("unexpected policy URL %q", pol.URL)
	}
	for _, field := range []string{"key", "policy", "x-amz-algorithm", "x-amz-credential", "x-amz-date", "x-amz-signature", "Content-Type"} {
		if pol.Fields[field] == "" {
			t.Fatalf("missing field %q in %v", field, pol.Fields)
		}
	}
	if !strings.HasPrefix(pol.Fields["key"], "video/object-1/") {
		t.Fatalf("key %q not scoped to the object", pol.Fields["key"])
	}
	if pol.Fields["x-amz-date"] != "20240514T093000Z" {
		t.Fatalf("unexpected amz date %q", pol.Fields["x-amz-date"])
	}
	if !strings.HasPrefix(pol.Fields["x-amz-credential"], "AKIDEXAMPLE/20240514/us-east-1/s3/aws4_request") {
		t.Fatalf("unexpected credential %q", pol.Fields["x-amz-credential"])
	}

	raw, err := base64.StdEncoding.DecodeString(pol.Fields["policy"])
	if err != nil {
		t.Fatalf("policy document is not base64: %v", err)
	}
	var document struct {
		Expiration string        `json:"expiration"`
		Conditions []interface{} `json:"conditions"`
	}
	if err := json.Unmarshal(raw, &document); err != nil {
		t.Fatalf("policy document is not JSON: %v", err)
	}
	if document.Expiration == "" || len(document.Conditions) == 0 {
		t.Fatalf("policy document incomplete: %+v", document)
	}
}

func TestSignerIssueDeterministic(t *testing.T) {
	signer := newTestSigner(t)
	req := Request{ObjectType: models.ObjectTypeDocument, ObjectID: "doc-9", Filename: "notes.pdf"}
	first, err := signer.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := signer.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if first.Fields["x-amz-signature"] != second.Fields["x-amz-signature"] {
		t.Fatalf("signature not deterministic under a fixed clock")
	}
}

func TestSignerIssueRequiresObject(t *testing.T) {
	signer := newTestSigner(t)
	if _, err := signer.Issue(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for missing object identity")
	}
}

func TestOrderedFieldsKeyFirst(t *testing.T) {
	pol := Policy{Fields: map[string]string{
		"x-amz-signature": "sig",
		"key":             "video/object-1/file.mp4",
		"policy":          "doc",
		"x-amz-date":      "now",
	}}
	fields := pol.OrderedFields()
	if len(fields) != 4 {
		t.Fatalf("expected 4 fields, got %d", len(fields))
	}
	if fields[0].Name != "key" {
		t.Fatalf("key must be enumerated first, got %q", fields[0].Name)
	}
	for i := 2; i < len(fields); i++ {
		if fields[i-1].Name > fields[i].Name {
			t.Fatalf("fields after key must be sorted: %q before %q", fields[i-1].Name, fields[i].Name)
		}
	}
}
