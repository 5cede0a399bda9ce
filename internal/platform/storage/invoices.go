package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const invoiceContentType = "text/plain; charset=utf-8"

// objectWriter opens a writer for bucket/object carrying the given content type and metadata.
type objectWriter func(ctx context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser

// InvoiceArchive writes rendered invoices to a Cloud Storage bucket.
type InvoiceArchive struct {
	bucket string
	open   objectWriter
}

// NewInvoiceArchive builds an archive writing into bucket through client.
func NewInvoiceArchive(client *gcs.Client, bucket string) (*InvoiceArchive, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return newInvoiceArchive(bucket, func(ctx context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		w.ContentDisposition = fmt.Sprintf("attachment; filename=%q", object[strings.LastIndex(object, "/")+1:])
		w.Metadata = metadata
		return w
	})
}

func newInvoiceArchive(bucket string, open objectWriter) (*InvoiceArchive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	return &InvoiceArchive{bucket: bucket, open: open}, nil
}

// Store overwrites invoices/<orderNumber>.txt with body.
func (a *InvoiceArchive) Store(ctx context.Context, orderNumber string, body []byte) error {
	object, err := InvoiceObjectPath(orderNumber)
	if err != nil {
		return err
	}

	w := a.open(ctx, a.bucket, object, invoiceContentType, map[string]string{"orderNumber": strings.TrimSpace(orderNumber)})
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	// The upload is only committed by Close.
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalize %s: %w", object, err)
	}
	return nil
}
