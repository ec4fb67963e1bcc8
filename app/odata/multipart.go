package odata

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
)

// The batch wire format is a boundary-delimited grammar:
//
//	multipart      := boundary-part* close-delimiter
//	part           := headers CRLF (nested-multipart | http-response)
//
// mime/multipart cannot be used here: changesets nest a second
// multipart inside a part, and each leaf part is a raw framed HTTP
// message, so the response is walked with a small recursive-descent
// parser instead.

// Part is one node of a parsed multipart message. Exactly one of
// Parts (nested changeset) or Response (embedded HTTP message) is set
// for well-formed backend responses.
type Part struct {
	Headers  textproto.MIMEHeader
	Parts    []Part
	Response *PartResponse
	Body     []byte
}

// PartResponse is the HTTP response embedded in a leaf part.
type PartResponse struct {
	StatusCode int
	Headers    textproto.MIMEHeader
	ContentID  string
	Body       []byte
}

var errMissingBoundary = errors.New("multipart content type carries no boundary")

// BoundaryFromContentType extracts the boundary parameter.
func BoundaryFromContentType(contentType string) (string, error) {
	for _, param := range strings.Split(contentType, ";") {
		param = strings.TrimSpace(param)
		if strings.HasPrefix(strings.ToLower(param), "boundary=") {
			boundary := strings.Trim(param[len("boundary="):], `"`)
			if boundary != "" {
				return boundary, nil
			}
		}
	}
	return "", errMissingBoundary
}

// ParseMultipart splits body by boundary and recursively parses each
// part, descending into nested changesets.
func ParseMultipart(body []byte, boundary string) ([]Part, error) {
	segments, err := splitByBoundary(body, boundary)
	if err != nil {
		return nil, err
	}

	parts := make([]Part, 0, len(segments))
	for _, segment := range segments {
		part, err := parsePart(segment)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

func splitByBoundary(body []byte, boundary string) ([][]byte, error) {
	delimiter := []byte("--" + boundary)
	if !bytes.Contains(body, delimiter) {
		return nil, fmt.Errorf("boundary %q not found in body", boundary)
	}

	var segments [][]byte
	rest := body
	for {
		idx := bytes.Index(rest, delimiter)
		if idx < 0 {
			break
		}
		rest = rest[idx+len(delimiter):]

		// Close delimiter ends the message.
		if bytes.HasPrefix(rest, []byte("--")) {
			break
		}
		rest = trimLeadingCRLF(rest)

		end := bytes.Index(rest, delimiter)
		if end < 0 {
			// Tolerate a missing close delimiter; the remainder is
			// the final part.
			segments = append(segments, trimTrailingCRLF(rest))
			break
		}
		segments = append(segments, trimTrailingCRLF(rest[:end]))
	}
	return segments, nil
}

func parsePart(segment []byte) (Part, error) {
	headers, payload, err := splitHeadersBody(segment)
	if err != nil {
		return Part{}, err
	}

	part := Part{Headers: headers, Body: payload}
	contentType := headers.Get("Content-Type")

	switch {
	case strings.HasPrefix(strings.ToLower(contentType), "multipart/mixed"):
		boundary, err := BoundaryFromContentType(contentType)
		if err != nil {
			return Part{}, err
		}
		nested, err := ParseMultipart(payload, boundary)
		if err != nil {
			return Part{}, err
		}
		part.Parts = nested
	case strings.HasPrefix(strings.ToLower(contentType), "application/http"):
		response, err := parseEmbeddedResponse(payload)
		if err != nil {
			return Part{}, err
		}
		response.ContentID = headers.Get("Content-Id")
		part.Response = response
	}
	return part, nil
}

func parseEmbeddedResponse(payload []byte) (*PartResponse, error) {
	headers, body, err := splitHeadersBody(payload)
	if err != nil {
		return nil, err
	}

	statusLine := headers.Get("Status-Line")
	if statusLine == "" {
		return nil, errors.New("embedded response missing status line")
	}

	fields := strings.SplitN(statusLine, " ", 3)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return nil, fmt.Errorf("malformed status line %q", statusLine)
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("malformed status code in %q", statusLine)
	}

	headers.Del("Status-Line")
	return &PartResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       body,
	}, nil
}

// splitHeadersBody reads MIME-style headers up to the first blank line
// and returns the remainder as body. The first line of an embedded
// HTTP response is preserved under the synthetic Status-Line header.
func splitHeadersBody(segment []byte) (textproto.MIMEHeader, []byte, error) {
	headers := make(textproto.MIMEHeader)
	reader := bufio.NewReader(bytes.NewReader(segment))

	consumed := 0
	for {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			// No blank line: the whole segment is headers.
			return headers, nil, nil
		}
		consumed += len(line)
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}

		if strings.HasPrefix(trimmed, "HTTP/") {
			headers.Set("Status-Line", trimmed)
			continue
		}
		name, value, found := strings.Cut(trimmed, ":")
		if !found {
			return nil, nil, fmt.Errorf("malformed header line %q", trimmed)
		}
		headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	return headers, segment[consumed:], nil
}

func trimLeadingCRLF(b []byte) []byte {
	for len(b) > 0 && (b[0] == '\r' || b[0] == '\n') {
		b = b[1:]
	}
	return b
}

func trimTrailingCRLF(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\r' || b[len(b)-1] == '\n') {
		b = b[:len(b)-1]
	}
	return b
}
