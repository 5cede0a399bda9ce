package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordedObject struct {
	bucket, object, contentType string
	metadata                    map[string]string
	body                        bytes.Buffer
	closed                      bool
	closeErr                    error
}

func (r *recordedObject) Write(p []byte) (int, error) { return r.body.Write(p) }

func (r *recordedObject) Close() error {
	r.closed = true
	return r.closeErr
}

func TestInvoiceArchiveStore(t *testing.T) {
	var got *recordedObject
	archive, err := newInvoiceArchive(" invoices-bucket ", func(_ context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser {
		got = &recordedObject{bucket: bucket, object: object, contentType: contentType, metadata: metadata}
		return got
	})
	require.NoError(t, err)

	body := []byte("Invoice for Order #: ORD-20250101120000-ABC123\nTotal: 120750 INR")
	require.NoError(t, archive.Store(context.Background(), "ORD-20250101120000-ABC123", body))

	require.NotNil(t, got)
	require.Equal(t, "invoices-bucket", got.bucket)
	require.Equal(t, "invoices/ORD-20250101120000-ABC123.txt", got.object)
	require.Equal(t, invoiceContentType, got.contentType)
	require.Equal(t, "ORD-20250101120000-ABC123", got.metadata["orderNumber"])
	require.Equal(t, body, got.body.Bytes())
	require.True(t, got.closed)
}

func TestInvoiceArchiveSurfacesFinalizeError(t *testing.T) {
	archive, err := newInvoiceArchive("bucket", func(context.Context, string, string, string, map[string]string) io.WriteCloser {
		return &recordedObject{closeErr: errors.New("precondition failed")}
	})
	require.NoError(t, err)

	err = archive.Store(context.Background(), "ORD-1", []byte("x"))
	require.ErrorContains(t, err, "precondition failed")
}

func TestInvoiceArchiveRejectsUnsafeNumbers(t *testing.T) {
	archive, err := newInvoiceArchive("bucket", func(context.Context, string, string, string, map[string]string) io.WriteCloser {
		t.Fatal("writer should not be opened")
		return nil
	})
	require.NoError(t, err)

	for _, number := range []string{"", "../secrets", "a/b"} {
		require.Error(t, archive.Store(context.Background(), number, []byte("x")), number)
	}
}

func TestNewInvoiceArchiveValidates(t *testing.T) {
	_, err := NewInvoiceArchive(nil, "bucket")
	require.Error(t, err)
	_, err = newInvoiceArchive("  ", nil)
	require.Error(t, err)
}
