package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"leadpulse/config"
)

// TrackingToken derives a verifiable token for a message so open and click
// hits cannot be forged for arbitrary provider refs.
func TrackingToken(messageID string) string {
	hash := sha256.Sum256([]byte(messageID + config.AppConfig.JWTSecret))
	return base64.URLEncoding.EncodeToString(hash[:])[:20]
}

// VerifyTrackingToken reports whether the token matches the message.
func VerifyTrackingToken(messageID, token string) bool {
	return token == TrackingToken(messageID)
}

// GenerateTrackingPixelURL generates a tracking pixel URL for email opens
func GenerateTrackingPixelURL(baseURL, messageID string) string {
	return fmt.Sprintf("%s/t/open/%s/%s", baseURL, messageID, TrackingToken(messageID))
}

// GenerateClickTrackURL generates a tracked URL for links
func GenerateClickTrackURL(baseURL, messageID, originalURL string) string {
	encodedURL := url.QueryEscape(originalURL)
	return fmt.Sprintf("%s/t/click/%s/%s?url=%s", baseURL, messageID, TrackingToken(messageID), encodedURL)
}

// InjectTracking rewrites links for click tracking and appends the open
// tracking pixel to the email body.
func InjectTracking(htmlContent, baseURL, messageID string) string {
	pixelURL := GenerateTrackingPixelURL(baseURL, messageID)
	trackingPixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	return injectClickTracking(htmlContent, baseURL, messageID) + trackingPixel
}

func injectClickTracking(html, baseURL, messageID string) string {
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
		trackedURL := GenerateClickTrackURL(baseURL, messageID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
