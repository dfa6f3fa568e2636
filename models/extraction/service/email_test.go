package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTextFromEmail_QuotedPrintable(t *testing.T) {
	eml := "From: Store <noreply@store.example>\r\n" +
		"Subject: Order confirmation\r\n" +
		"Date: Tue, 12 Mar 2024 08:00:00 +0000\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"Total: 12.99 =E2=82=AC thank you for shopping with =\r\nus\r\n"

	result, err := extractTextFromEmail(strings.NewReader(eml))
	require.NoError(t, err)
	assert.Equal(t, 100, result.Confidence)
	assert.Contains(t, result.Text, "Subject: Order confirmation")
	assert.Contains(t, result.Text, "From: Store <noreply@store.example>")
	// Soft line break removed, UTF-8 euro sign decoded.
	assert.Contains(t, result.Text, "Total: 12.99 € thank you for shopping with us")
}

func TestExtractTextFromEmail_Malformed(t *testing.T) {
	_, err := extractTextFromEmail(strings.NewReader("not an email at all"))
	require.Error(t, err)
}
