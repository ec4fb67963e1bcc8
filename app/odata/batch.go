package odata

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// BatchOperation is one in-flight unit of work inside a grouped
// request. Path is relative to the service root: embedded changeset
// requests address entities relative to the $batch endpoint, so the
// writer never prefixes it. Single-operation execution resolves the
// path against the instance base URL instead.
type BatchOperation struct {
	Method string
	Path   string
	Body   []byte
}

// ChangesetRequest is a serialized atomic batch: one outer batch
// boundary wrapping one changeset that carries every operation as an
// embedded HTTP request tagged with a Content-ID.
type ChangesetRequest struct {
	Body        []byte
	ContentType string
}

// BuildChangeset frames the operations into a single transactional
// multipart message.
func BuildChangeset(operations []BatchOperation) ChangesetRequest {
	batchBoundary := "batch_" + uuid.NewString()
	changesetBoundary := "changeset_" + uuid.NewString()

	var b strings.Builder
	b.WriteString("--" + batchBoundary + "\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=" + changesetBoundary + "\r\n")
	b.WriteString("\r\n")

	for i, op := range operations {
		b.WriteString("--" + changesetBoundary + "\r\n")
		b.WriteString("Content-Type: application/http\r\n")
		b.WriteString("Content-Transfer-Encoding: binary\r\n")
		b.WriteString(fmt.Sprintf("Content-ID: %d\r\n", i+1))
		b.WriteString("\r\n")

		b.WriteString(fmt.Sprintf("%s %s HTTP/1.1\r\n", op.Method, op.Path))
		if len(op.Body) > 0 {
			b.WriteString("Content-Type: application/json\r\n")
			b.WriteString(fmt.Sprintf("Content-Length: %d\r\n", len(op.Body)))
			b.WriteString("\r\n")
			b.Write(op.Body)
			b.WriteString("\r\n")
		} else {
			b.WriteString("\r\n")
		}
	}

	b.WriteString("--" + changesetBoundary + "--\r\n")
	b.WriteString("--" + batchBoundary + "--\r\n")

	return ChangesetRequest{
		Body:        []byte(b.String()),
		ContentType: "multipart/mixed; boundary=" + batchBoundary,
	}
}

// ParseBatchResponse parses a multipart batch response and returns the
// embedded HTTP responses in document order, descending into nested
// changesets.
func ParseBatchResponse(body []byte, contentType string) ([]PartResponse, error) {
	boundary, err := BoundaryFromContentType(contentType)
	if err != nil {
		return nil, err
	}
	parts, err := ParseMultipart(body, boundary)
	if err != nil {
		return nil, err
	}
	return flattenResponses(parts), nil
}

func flattenResponses(parts []Part) []PartResponse {
	var out []PartResponse
	for _, part := range parts {
		if part.Response != nil {
			out = append(out, *part.Response)
		}
		if len(part.Parts) > 0 {
			out = append(out, flattenResponses(part.Parts)...)
		}
	}
	return out
}
