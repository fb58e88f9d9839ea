package db

import (
	"context"
	"fmt"
	"net"

	"cloud.google.com/go/cloudsqlconn"
)

// cloudSQLDialer connects to one Google Cloud SQL instance with IAM
// database authentication. Host and port in the connection config are
// ignored; the Cloud SQL connector handles TLS and the endpoint.
type cloudSQLDialer struct {
	instance string
	dialer   *cloudsqlconn.Dialer
}

// newCloudSQLDialer creates a dialer for instance (project:region:instance).
// Close must be called when no more connections will be opened.
func newCloudSQLDialer(ctx context.Context, instance string) (*cloudSQLDialer, error) {
	d, err := cloudsqlconn.NewDialer(ctx, cloudsqlconn.WithIAMAuthN())
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud SQL dialer: %w", err)
	}
	return &cloudSQLDialer{instance: instance, dialer: d}, nil
}

func (c *cloudSQLDialer) Dial(ctx context.Context, _, _ string) (net.Conn, error) {
	return c.dialer.Dial(ctx, c.instance)
}

func (c *cloudSQLDialer) Close() error {
	return c.dialer.Close()
}
