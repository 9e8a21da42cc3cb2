package policy

import (
	"testing"
	"time"

	"medialift/internal/models"
)

func TestSafeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"lecture.mp4", "lecture.mp4"},
		{"Cours d'été.mp4", "Cours_d_ete.mp4"},
		{"  spaced name.mov ", "spaced_name.mov"},
		{"über-wichtig.pdf", "uber-wichtig.pdf"},
		{"///", "file"},
		{"", "file"},
	}
	for _, tc := range cases {
		if got := SafeFilename(tc.in); got != tc.want {
			t.Errorf("SafeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)
	key := ObjectKey(Request{
		ObjectType: models.ObjectTypeVideo,
		ObjectID:   " object-1 ",
		Filename:   "événement.mp4",
	}, now)
	want := "video/object-1/1715679000_evenement.mp4"
	if key != want {
		t.Fatalf("ObjectKey = %q, want %q", key, want)
	}
}
