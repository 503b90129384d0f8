package assetcache

import "testing"

func TestIsEphemeral_QueryParams(t *testing.T) {
	cases := []string{
		"https://img.example.com/poster.jpg?Expires=1699999999",
		"https://img.example.com/poster.jpg?Signature=abc123",
		"https://bucket.s3.amazonaws.com/x.jpg?X-Amz-Signature=deadbeef",
		"https://img.example.com/poster.jpg?token=xyz",
		"https://img.example.com/poster.jpg?sig=xyz",
	}
	for _, url := range cases {
		if !IsEphemeral(url, nil) {
			t.Errorf("expected %q to classify as ephemeral", url)
		}
	}
}

func TestIsEphemeral_CDNHostSuffix(t *testing.T) {
	if !IsEphemeral("https://d111.cloudfront.net/poster.jpg", DefaultCDNHosts()) {
		t.Error("expected cloudfront host to classify as ephemeral")
	}
}

func TestIsEphemeral_SignedPathSegment(t *testing.T) {
	if !IsEphemeral("https://img.example.com/cache/1699999999-3f9a8c1e2b4d5f60/poster.jpg", nil) {
		t.Error("expected timestamp-signature path segment to classify as ephemeral")
	}
}

func TestIsEphemeral_PlainURLIsNotEphemeral(t *testing.T) {
	if IsEphemeral("https://static.example.com/media/poster.jpg", nil) {
		t.Error("expected a plain static URL to not classify as ephemeral")
	}
}

func TestIsEphemeral_EmptyOrMalformed(t *testing.T) {
	if IsEphemeral("", nil) {
		t.Error("expected empty URL to not classify as ephemeral")
	}
}
