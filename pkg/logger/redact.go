package logger

const tokenPreviewLength = 20

// TokenPreview returns a truncated form of a secret that is safe to log. At
// most half of the token is kept, and never more than 20 characters.
func TokenPreview(token string) string {
	n := len(token) / 2
	if n > tokenPreviewLength {
		n = tokenPreviewLength
	}
	return token[:n] + "..."
}
