package utils

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Tracking tokens are deterministic digests of (secret, messageID) so the
// ingress can verify them without a lookup.

// GenerateTrackingToken derives the token embedded in tracking URLs.
func GenerateTrackingToken(secret, messageID string) string {
	hash := sha256.Sum256([]byte(secret + ":" + messageID))
	return base64.URLEncoding.EncodeToString(hash[:])[:20]
}

// ValidateTrackingToken checks a token received on the ingress path.
func ValidateTrackingToken(secret, messageID, token string) bool {
	expected := GenerateTrackingToken(secret, messageID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// GenerateTrackingPixelURL generates a tracking pixel URL for email opens
func GenerateTrackingPixelURL(baseURL, secret, messageID string) string {
	token := GenerateTrackingToken(secret, messageID)
	return fmt.Sprintf("%s/track/open/%s/%s", baseURL, messageID, token)
}

// GenerateClickTrackURL generates a tracked URL for links
func GenerateClickTrackURL(baseURL, secret, messageID, originalURL string) string {
	token := GenerateTrackingToken(secret, messageID)
	encodedURL := url.QueryEscape(originalURL)
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s", baseURL, messageID, token, encodedURL)
}

// InjectTracking injects open and click tracking into email content
func InjectTracking(htmlContent, baseURL, secret, messageID string) string {
	pixelURL := GenerateTrackingPixelURL(baseURL, secret, messageID)
	trackingPixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	modifiedHTML := injectClickTracking(htmlContent, baseURL, secret, messageID)

	return modifiedHTML + trackingPixel
}

func injectClickTracking(html, baseURL, secret, messageID string) string {
	// This is a simplified version. Consider using an HTML parser for production
	startTag := "<a href=\""
	endTag := "\""
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		trackedURL := GenerateClickTrackURL(baseURL, secret, messageID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
