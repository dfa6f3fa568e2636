package service

import (
	"fmt"
	"io"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/ReceiptRadar/receipt-radar-backend/pkg/ocrclient"
)

// extractTextFromEmail pulls readable text out of an .eml file. Emails are
// already machine-readable, so the confidence is always 100 and the OCR
// engine is never involved. Subject, sender and date headers are prepended to
// the body because they usually carry the vendor and transaction date for
// e-receipts.
func extractTextFromEmail(r io.Reader) (*ocrclient.Result, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email: %w", err)
	}

	rawBody, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read email body: %w", err)
	}
	body := decodeEmailBody(string(rawBody), msg.Header.Get("Content-Transfer-Encoding"))

	var parts []string
	if subject := msg.Header.Get("Subject"); subject != "" {
		parts = append(parts, "Subject: "+subject)
	}
	if from := msg.Header.Get("From"); from != "" {
		parts = append(parts, "From: "+from)
	}
	if date := msg.Header.Get("Date"); date != "" {
		parts = append(parts, "Date: "+date)
	}
	if len(parts) > 0 {
		parts = append(parts, "")
	}
	parts = append(parts, strings.TrimSpace(body))

	return &ocrclient.Result{
		Text:       strings.Join(parts, "\n"),
		Confidence: 100,
	}, nil
}

// decodeEmailBody undoes quoted-printable soft line breaks and hex escapes.
// Many e-receipt senders use quoted-printable without declaring it, so when
// the header is absent the body is decoded best-effort and kept as-is on
// decode failure.
func decodeEmailBody(body, transferEncoding string) string {
	if strings.EqualFold(transferEncoding, "base64") {
		return body
	}
	decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(body)))
	if err != nil {
		return body
	}
	return string(decoded)
}
