package domain

import "testing"

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"jpeg":       FormatJPEG,
		"jpg":        FormatJPEG,
		"image/jpeg": FormatJPEG,
		"HEIC":       FormatHEIC,
		"image/heic": FormatHEIC,
		"image/heif": FormatHEIC,
	}
	for tag, want := range cases {
		got, err := ParseFormat(tag)
		if err != nil {
			t.Fatalf("ParseFormat(%q): %v", tag, err)
		}
		if got != want {
			t.Fatalf("ParseFormat(%q) = %s, want %s", tag, got, want)
		}
	}

	for _, tag := range []string{"", "png", "image/png", "webp"} {
		if _, err := ParseFormat(tag); err == nil {
			t.Fatalf("expected error for %q", tag)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"photo.jpg":           "photo.jpg",
		"../../etc/passwd":    ".._.._etc_passwd",
		"dir\\file.heic":      "dir_file.heic",
		"":                    "upload",
		"   ":                 "upload",
		"name\x00with\x1fctl": "name_with_ctl",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCreateConversionRequestValidate(t *testing.T) {
	valid := CreateConversionRequest{
		SourceType:   SourceTypeLocalFile,
		SourceFormat: "heic",
		ObjectKey:    "/data/in.heic",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	objectSource := CreateConversionRequest{
		SourceType:   SourceTypeObject,
		SourceFormat: "jpeg",
	}
	if err := objectSource.Validate(); err != nil {
		t.Fatalf("object sources do not carry a key yet, got error: %v", err)
	}

	invalid := CreateConversionRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := CreateConversionRequest{
		SourceType:   SourceTypeLocalFile,
		SourceFormat: "jpeg",
	}
	if err := missingObjectKey.Validate(); err == nil {
		t.Fatal("expected validation error for local_file object_key")
	}

	unsupportedSourceType := CreateConversionRequest{
		SourceType:   "http_url",
		SourceFormat: "jpeg",
	}
	if err := unsupportedSourceType.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}

	unsupportedFormat := CreateConversionRequest{
		SourceType:   SourceTypeLocalFile,
		SourceFormat: "png",
		ObjectKey:    "/data/in.png",
	}
	if err := unsupportedFormat.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported format")
	}
}
