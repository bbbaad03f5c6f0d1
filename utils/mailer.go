package utils

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cppla/filedrop/config"
)

// SendFileLink mails the download link to the recipient. Delivery failure never
// fails the upload; callers report the outcome through the emailSent flag.
func SendFileLink(receiverEmail, senderEmail, filename string, fileSize int64, downloadLink string, expiresAt time.Time) error {
	sender := "Someone"
	if senderEmail != "" {
		sender = senderEmail
	}
	subject := fmt.Sprintf("%s has shared a file with you", sender)
	body := fmt.Sprintf(
		"%s shared a file with you.\r\n\r\n"+
			"File: %s (%s)\r\n"+
			"Download: %s\r\n\r\n"+
			"This link expires on %s.\r\n\r\n"+
			"This is an automated message, please do not reply.\r\n",
		sender,
		filename, humanize.Bytes(uint64(fileSize)),
		downloadLink,
		expiresAt.Format(time.RFC1123),
	)
	return SendMail(receiverEmail, subject, body)
}

// SendMail sends a plain text email using SMTP settings from config.
func SendMail(to, subject, body string) error {
	cfg := config.Get()
	if cfg.SMTPHost == "" || cfg.SMTPFrom == "" {
		return fmt.Errorf("smtp not configured")
	}
	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort))
	auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)

	fromName := cfg.SMTPFromName
	if fromName == "" {
		fromName = "filedrop"
	}
	headers := map[string]string{
		"From":         fmt.Sprintf("%s <%s>", fromName, cfg.SMTPFrom),
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/plain; charset=UTF-8",
	}
	var msg strings.Builder
	for k, v := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if cfg.SMTPTLS {
		// STARTTLS with timeouts
		d := net.Dialer{Timeout: 5 * time.Second}
		conn, err := d.Dial("tcp", addr)
		if err != nil {
			return err
		}
		_ = conn.SetDeadline(time.Now().Add(15 * time.Second))
		host, _, _ := net.SplitHostPort(addr)
		c, err := smtp.NewClient(conn, host)
		if err != nil {
			_ = conn.Close()
			return err
		}
		defer c.Close()
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return err
			}
		}
		if cfg.SMTPUsername != "" {
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
		if err := c.Mail(cfg.SMTPFrom); err != nil {
			return err
		}
		if err := c.Rcpt(to); err != nil {
			return err
		}
		wc, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := wc.Write([]byte(msg.String())); err != nil {
			_ = wc.Close()
			return err
		}
		return wc.Close()
	}

	// Plain SMTP without TLS (not recommended)
	return smtp.SendMail(addr, auth, cfg.SMTPFrom, []string{to}, []byte(msg.String()))
}
