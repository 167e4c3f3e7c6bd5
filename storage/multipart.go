package storage

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

const fileFieldName = "file"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// uploadBody is a multipart/form-data body streamed as prefix + file + trailer, so
// the exact Content-Length is known without buffering the photo.
type uploadBody struct {
	reader      io.Reader
	closer      io.Closer
	length      int64
	contentType string
}

func (b *uploadBody) Close() error {
	return b.closer.Close()
}

// newUploadBody lays out the descriptor fields in descriptor order and the file part last.
func newUploadBody(desc Descriptor, file File, onRead func(n int64)) (*uploadBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, field := range desc.Fields {
		if err := w.WriteField(field.Name, field.Value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", field.Name, err)
		}
	}

	contentType := file.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileFieldName, quoteEscaper.Replace(file.Name())))
	h.Set("Content-Type", contentType)
	if _, err := w.CreatePart(h); err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	prefix := append([]byte(nil), buf.Bytes()...)

	buf.Reset()
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}
	trailer := append([]byte(nil), buf.Bytes()...)

	content, err := file.Open()
	if err != nil {
		return nil, err
	}

	return &uploadBody{
		reader: io.MultiReader(
			bytes.NewReader(prefix),
			&progressReader{reader: io.LimitReader(content, file.Size()), onRead: onRead},
			bytes.NewReader(trailer),
		),
		closer:      content,
		length:      int64(len(prefix)) + file.Size() + int64(len(trailer)),
		contentType: w.FormDataContentType(),
	}, nil
}

type progressReader struct {
	reader io.Reader
	read   int64
	onRead func(n int64)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.read += int64(n)
		if r.onRead != nil {
			r.onRead(r.read)
		}
	}
	return n, err
}
