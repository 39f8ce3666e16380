package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"time"
)

// DefaultTimeout bounds every outbound call.
const DefaultTimeout = 60 * time.Second

// Archive keeps raw payloads that could not be parsed.
// Implementations decide persistence and retention.
type Archive interface {
	Store(op string, payload []byte) (string, error)
}

// Request is a single XML-over-HTTP POST.
type Request struct {
	Op          string
	Endpoint    string
	ContentType string
	SOAPAction  string
	Body        []byte
}

// Caller executes requests with a bounded timeout and no retries.
type Caller struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Archive    Archive
}

// Post executes the request. Network failures and non-2xx replies are
// returned as *TransportError; the body of a non-2xx reply is returned along
// with the error so callers can look for a fault.
func (c *Caller) Post(ctx context.Context, r Request) ([]byte, error) {
	if r.Endpoint == "" {
		return nil, &TransportError{Op: r.Op, Err: fmt.Errorf("no endpoint configured")}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(r.Body))
	if err != nil {
		return nil, &TransportError{Op: r.Op, Err: fmt.Errorf("creating request: %w", err)}
	}
	contentType := r.ContentType
	if contentType == "" {
		contentType = "text/xml; charset=utf-8"
	}
	req.Header.Set("Content-Type", contentType)
	if r.SOAPAction != "" {
		req.Header.Set("SOAPAction", r.SOAPAction)
	}

	debug := slog.Default().Enabled(ctx, slog.LevelDebug)
	if debug {
		dump, _ := httputil.DumpRequestOut(req, true)
		slog.Debug("upstream request\n" + string(redact(dump)))
	}
	start := time.Now()

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: r.Op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: r.Op, Err: fmt.Errorf("reading response: %w", err)}
	}

	if debug {
		dump, _ := httputil.DumpResponse(resp, false)
		slog.Debug(fmt.Sprintf("upstream response (%s)\n%s%s", time.Since(start), dump, truncate(body, 4096)))
	}
	slog.Info("upstream call", "op", r.Op, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &TransportError{Op: r.Op, StatusCode: resp.StatusCode}
	}

	return body, nil
}

// Archived logs a *ParseError with a truncated payload and stores the full
// payload in the Archive, if one is configured. Other errors are returned
// unchanged.
func (c *Caller) Archived(err error) error {
	var pe *ParseError
	if !errors.As(err, &pe) || pe.ArchiveID != "" {
		return err
	}
	if c.Archive != nil && len(pe.Payload) > 0 {
		id, archiveErr := c.Archive.Store(pe.Op, pe.Payload)
		if archiveErr != nil {
			slog.Error("archiving unparsable payload", "op", pe.Op, "error", archiveErr)
		} else {
			pe.ArchiveID = id
		}
	}
	slog.Error("unparsable upstream response", "op", pe.Op, "reason", pe.Reason, "archive_id", pe.ArchiveID, "payload", string(truncate(pe.Payload, 1024)))
	return err
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return append(b[:n:n], []byte("...")...)
}

var redactions = [][2][]byte{
	{[]byte("&lt;Password&gt;"), []byte("&lt;/Password&gt;")},
	{[]byte("<Password>"), []byte("</Password>")},
	{[]byte(`api_password="`), []byte(`"`)},
}

// redact masks credentials in debug dumps.
func redact(dump []byte) []byte {
	out := dump
	for _, r := range redactions {
		var buf bytes.Buffer
		rest := out
		for {
			i := bytes.Index(rest, r[0])
			if i < 0 {
				buf.Write(rest)
				break
			}
			buf.Write(rest[:i+len(r[0])])
			rest = rest[i+len(r[0]):]
			j := bytes.Index(rest, r[1])
			if j < 0 {
				buf.Write(rest)
				break
			}
			buf.WriteString("***")
			rest = rest[j:]
		}
		out = buf.Bytes()
	}
	return out
}
