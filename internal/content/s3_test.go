package content

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
)

func TestNewS3Source_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts S3Options
	}{
		{"missing ssm param", S3Options{Bucket: testBucket}},
		{"missing bucket", S3Options{SSMParam: testSSMParam}},
		{"both missing", S3Options{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewS3Source(context.Background(), tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestS3Source_Key(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"fragments", "fragments/r1/services/iso.html"},
		{"/fragments/", "fragments/r1/services/iso.html"},
		{"", "r1/services/iso.html"},
	}
	for _, tt := range tests {
		src := newTestS3Source(newFakeS3(), ssmWithValue("r1"), func(o *S3Options) { o.Prefix = tt.prefix })
		if got := src.key("r1", "services/iso"); got != tt.want {
			t.Errorf("prefix %q: key = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestS3Source_Revision(t *testing.T) {
	tests := []struct {
		name    string
		ssm     *fakeSSM
		want    string
		wantErr bool
	}{
		{"ok", ssmWithValue("2024-06-01.3"), "2024-06-01.3", false},
		{"trimmed", ssmWithValue("  r7\n"), "r7", false},
		{"empty", ssmWithValue(""), "", true},
		{"path like", ssmWithValue("../r1"), "", true},
		{"nil value", &fakeSSM{}, "", true},
		{"api error", &fakeSSM{err: errors.New("throttled")}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newTestS3Source(newFakeS3(), tt.ssm)
			got, err := src.Revision(t.Context())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("revision = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestS3Source_Fetch(t *testing.T) {
	s3c := newFakeS3()
	s3c.put("fragments/r1/about.html", []byte("<p>About us</p>"))
	src := newTestS3Source(s3c, ssmWithValue("r1"))

	f, err := src.Fetch(t.Context(), "r1", "about")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if f.HTML != "<p>About us</p>" || f.Slug != "about" || f.Revision != "r1" {
		t.Fatalf("unexpected fragment %+v", f)
	}
	if f.Origin != OriginS3 || f.Verified {
		t.Fatalf("origin=%s verified=%v", f.Origin, f.Verified)
	}
	if len(f.SHA256) != 64 {
		t.Fatalf("SHA256 = %q", f.SHA256)
	}
}

func TestS3Source_FetchNotFound(t *testing.T) {
	src := newTestS3Source(newFakeS3(), ssmWithValue("r1"))

	for _, slug := range []string{"missing", "../secret", "Upper", ""} {
		if _, err := src.Fetch(t.Context(), "r1", slug); !errors.Is(err, ErrNotFound) {
			t.Errorf("Fetch(%q) err = %v, want ErrNotFound", slug, err)
		}
	}
}

func TestS3Source_FetchGenericNotFoundCode(t *testing.T) {
	s3c := newFakeS3()
	s3c.err = &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	src := newTestS3Source(s3c, ssmWithValue("r1"))

	if _, err := src.Fetch(t.Context(), "r1", "about"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestS3Source_FetchAccessDenied(t *testing.T) {
	s3c := newFakeS3()
	s3c.err = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	src := newTestS3Source(s3c, ssmWithValue("r1"))

	_, err := src.Fetch(t.Context(), "r1", "about")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want a non-NotFound error", err)
	}
}

func TestS3Source_FetchInvalidRevision(t *testing.T) {
	src := newTestS3Source(newFakeS3(), ssmWithValue("r1"))
	if _, err := src.Fetch(t.Context(), "..", "about"); err == nil {
		t.Fatal("expected error for dot revision")
	}
}

func TestS3Source_FetchTooLarge(t *testing.T) {
	s3c := newFakeS3()
	s3c.put("fragments/r1/big.html", []byte(strings.Repeat("x", 65)))
	src := newTestS3Source(s3c, ssmWithValue("r1"), func(o *S3Options) { o.MaxBytes = 64 })

	_, err := src.Fetch(t.Context(), "r1", "big")
	if err == nil || !strings.Contains(err.Error(), "limit 64") {
		t.Fatalf("err = %v, want size limit error", err)
	}
}

func TestS3Source_FetchSigned(t *testing.T) {
	body := "<p>signed</p>"
	tests := []struct {
		name    string
		sig     *string
		wantErr bool
	}{
		{"valid signature", strPtr("sig:" + body), false},
		{"bad signature", strPtr("sig:other"), true},
		{"missing signature", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s3c := newFakeS3()
			s3c.put("fragments/r1/page.html", []byte(body))
			if tt.sig != nil {
				s3c.put("fragments/r1/page.html.sig", []byte(*tt.sig))
			}
			src := newTestS3Source(s3c, ssmWithValue("r1"), func(o *S3Options) { o.Verifier = fakeVerifier{} })

			f, err := src.Fetch(t.Context(), "r1", "page")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					t.Fatal("signature failure must not look like a missing page")
				}
				return
			}
			if !f.Verified {
				t.Fatal("Verified should be true")
			}
		})
	}
}

func strPtr(s string) *string { return &s }
