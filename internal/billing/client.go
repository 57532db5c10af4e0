// Package billing is the outbound client for the billing service. On
// every new patient the service asks billing to open an account; this
// package owns that single RPC.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// createAccountMethod is the full gRPC method name. The billing proto
// declares no package, so the service name is unqualified.
const createAccountMethod = "/BillingService/CreateBillingAccount"

// Client calls the billing service over a shared gRPC connection.
// It is safe for concurrent use.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a client for target (host:port). grpc.NewClient does not
// dial; the connection is established on the first call.
func New(target string, timeout time.Duration, logger *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("create billing client for %s: %w", target, err)
	}

	logger.Info("billing client configured", slog.String("target", target))
	return &Client{conn: conn, timeout: timeout, logger: logger}, nil
}

// CreatePatientAccount registers a billing account for the patient.
// There is no retry: a failure is returned to the caller as is.
func (c *Client) CreatePatientAccount(ctx context.Context, patientID, name, email string) (Account, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := billingRequest{PatientID: patientID, Name: name, Email: email}.marshal()
	var resp []byte

	if err := c.conn.Invoke(ctx, createAccountMethod, &req, &resp, grpc.ForceCodec(frameCodec{})); err != nil {
		return Account{}, fmt.Errorf("create billing account for patient %s: %w", patientID, err)
	}

	acc, err := unmarshalAccount(resp)
	if err != nil {
		return Account{}, err
	}

	c.logger.InfoContext(ctx, "billing account created",
		slog.String("patient_id", patientID),
		slog.String("account_id", acc.AccountID),
		slog.String("status", acc.Status))
	return acc, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
