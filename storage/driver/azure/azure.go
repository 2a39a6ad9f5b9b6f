// Package azure provides a transfer.BlobStore backed by Azure Blob Storage.
//
// A multipart session maps onto the uncommitted block list of a block blob:
// parts are staged as blocks and committed in part order. Blocks that are
// never committed are discarded by the service, so aborting a session has
// nothing to delete.
package azure

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	azlog "github.com/Azure/azure-sdk-for-go/sdk/azcore/log"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/google/uuid"
	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/storage/driver/base"
	"github.com/tigrisdata/s3fs/storage/driver/factory"
	"github.com/tigrisdata/s3fs/transfer"
	"github.com/tigrisdata/s3fs/version"
	"golang.org/x/net/http2"
)

const (
	defaultContentType = "application/octet-stream"
	// copySourceExpiry bounds the lifetime of the SAS handed to the service
	// for a single block copy.
	copySourceExpiry = time.Hour
	storageScope     = "https://storage.azure.com/.default"
)

// ErrNotFound is returned by GetMetadata for missing blobs.
var ErrNotFound = errors.New("azure: blob not found")

func init() {
	factory.Register(DriverName, &azureDriverFactory{})
}

type azureDriverFactory struct{}

func (*azureDriverFactory) Create(parameters map[string]any) (transfer.BlobStore, error) {
	return FromParameters(parameters)
}

// BlockBlobAPI is the subset of *blockblob.Client used by the driver.
type BlockBlobAPI interface {
	StageBlock(ctx context.Context, base64BlockID string, body io.ReadSeekCloser, o *blockblob.StageBlockOptions) (blockblob.StageBlockResponse, error)
	StageBlockFromURL(ctx context.Context, base64BlockID, sourceURL string, o *blockblob.StageBlockFromURLOptions) (blockblob.StageBlockFromURLResponse, error)
	CommitBlockList(ctx context.Context, base64BlockIDs []string, o *blockblob.CommitBlockListOptions) (blockblob.CommitBlockListResponse, error)
	Upload(ctx context.Context, body io.ReadSeekCloser, o *blockblob.UploadOptions) (blockblob.UploadResponse, error)
	GetProperties(ctx context.Context, o *blob.GetPropertiesOptions) (blob.GetPropertiesResponse, error)
}

var _ BlockBlobAPI = (*blockblob.Client)(nil)

// Blobs hands out block blob clients and tells the service how to read the
// source of a block copy.
type Blobs interface {
	BlockBlob(container, key string) BlockBlobAPI
	// CopySource returns a URL for the blob and, for token credentials, the
	// authorization to send along with it.
	CopySource(ctx context.Context, container, key string) (string, *string, error)
}

type sharedKeyBlobs struct {
	svc *service.Client
}

func (b *sharedKeyBlobs) BlockBlob(container, key string) BlockBlobAPI {
	return b.svc.NewContainerClient(container).NewBlockBlobClient(key)
}

func (b *sharedKeyBlobs) CopySource(_ context.Context, container, key string) (string, *string, error) {
	u, err := b.svc.NewContainerClient(container).NewBlobClient(key).GetSASURL(
		sas.BlobPermissions{Read: true},
		time.Now().Add(copySourceExpiry),
		nil,
	)
	if err != nil {
		return "", nil, fmt.Errorf("signing copy source: %w", err)
	}
	return u, nil, nil
}

type tokenBlobs struct {
	svc  *service.Client
	cred azcore.TokenCredential
}

func (b *tokenBlobs) BlockBlob(container, key string) BlockBlobAPI {
	return b.svc.NewContainerClient(container).NewBlockBlobClient(key)
}

func (b *tokenBlobs) CopySource(ctx context.Context, container, key string) (string, *string, error) {
	token, err := b.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{storageScope}})
	if err != nil {
		return "", nil, fmt.Errorf("fetching copy source token: %w", err)
	}
	auth := "Bearer " + token.Token
	return b.svc.NewContainerClient(container).NewBlobClient(key).URL(), &auth, nil
}

// Driver is a transfer.BlobStore backed by Azure Blob Storage.
type Driver struct {
	blobs     Blobs
	container string
}

// FromParameters constructs a new store from a parameters map.
func FromParameters(parameters map[string]any) (transfer.BlobStore, error) {
	params, err := ParseParameters(parameters)
	if err != nil {
		return nil, err
	}

	d, err := New(params)
	if err != nil {
		return nil, err
	}
	return base.NewRegulator(d, params.MaxConcurrency), nil
}

// newTransport builds the transport the same way azcore does, with HTTP/2
// health checks so dead connections are noticed before a part times out.
func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:    tls.VersionTLS12,
			Renegotiation: tls.RenegotiateFreelyAsClient,
		},
	}
	if http2Transport, err := http2.ConfigureTransports(transport); err == nil {
		http2Transport.ReadIdleTimeout = 10 * time.Second
		http2Transport.PingTimeout = 5 * time.Second
	}
	return transport
}

// New returns a Driver for params.
func New(params *DriverParameters) (*Driver, error) {
	if params.DebugLog {
		l := log.GetLogger().WithField("component", "storage.azure")
		azlog.SetListener(func(event azlog.Event, msg string) {
			l.WithField("event", event).Debug(msg)
		})
		if len(params.DebugLogEvents) > 0 {
			azlog.SetEvents(params.DebugLogEvents...)
		}
	}

	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    params.MaxRetries,
				TryTimeout:    params.RetryTryTimeout,
				RetryDelay:    params.RetryDelay,
				MaxRetryDelay: params.MaxRetryDelay,
			},
			Telemetry: policy.TelemetryOptions{
				ApplicationID: "s3fs/" + version.Version,
			},
			Transport: &http.Client{Transport: newTransport()},
		},
	}

	var blobs Blobs
	switch params.CredentialsType {
	case CredentialsTypeSharedKey:
		cred, err := azblob.NewSharedKeyCredential(params.AccountName, params.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("creating shared key credentials: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(params.ServiceURL, cred, opts)
		if err != nil {
			return nil, fmt.Errorf("creating azure client: %w", err)
		}
		blobs = &sharedKeyBlobs{svc: client.ServiceClient()}
	default:
		var (
			cred azcore.TokenCredential
			err  error
		)
		if params.CredentialsType == CredentialsTypeClientSecret {
			cred, err = azidentity.NewClientSecretCredential(params.TenantID, params.ClientID, params.Secret, nil)
		} else {
			cred, err = azidentity.NewDefaultAzureCredential(nil)
		}
		if err != nil {
			return nil, fmt.Errorf("creating token credentials: %w", err)
		}
		client, err := azblob.NewClient(params.ServiceURL, cred, opts)
		if err != nil {
			return nil, fmt.Errorf("creating azure client: %w", err)
		}
		blobs = &tokenBlobs{svc: client.ServiceClient(), cred: cred}
	}

	return NewWithBlobs(params.Container, blobs), nil
}

// NewWithBlobs returns a Driver using blobs, writing to container unless a
// target names another one.
func NewWithBlobs(container string, blobs Blobs) *Driver {
	return &Driver{blobs: blobs, container: container}
}

func (d *Driver) blob(ref transfer.ObjectRef) BlockBlobAPI {
	return d.blobs.BlockBlob(d.containerName(ref), ref.Key)
}

func (d *Driver) containerName(ref transfer.ObjectRef) string {
	if ref.Bucket == "" {
		return d.container
	}
	return ref.Bucket
}

// blockID names part partNumber of a session. Every block id of a blob must
// have the same length, hence the fixed width part number.
func blockID(uploadID string, partNumber int) string {
	return base64.StdEncoding.EncodeToString(fmt.Appendf(nil, "%s-%05d", uploadID, partNumber))
}

// noRetries disables the pipeline retry policy for calls the engine retries.
func noRetries(ctx context.Context) context.Context {
	return policy.WithRetryOptions(ctx, policy.RetryOptions{MaxRetries: -1})
}

// Classify implements transfer.ErrorClassifier.
func (*Driver) Classify(err error) transfer.Outcome {
	if err == nil {
		return transfer.OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transfer.OutcomeTerminal
	}

	if bloberror.HasCode(err, bloberror.OperationTimedOut, bloberror.ServerBusy, bloberror.InternalError) {
		return transfer.OutcomeRetryable
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode >= http.StatusInternalServerError,
			respErr.StatusCode == http.StatusTooManyRequests,
			respErr.StatusCode == http.StatusRequestTimeout:
			return transfer.OutcomeRetryable
		default:
			return transfer.OutcomeTerminal
		}
	}

	if transfer.IsTransportError(err) {
		return transfer.OutcomeRetryable
	}
	return transfer.DefaultClassifier(err)
}

// InitiateMultipart implements transfer.BlobStore. Sessions exist only on
// the client side until their block list is committed.
func (*Driver) InitiateMultipart(_ context.Context, _ transfer.Target) (string, error) {
	return uuid.NewString(), nil
}

// UploadPart implements transfer.BlobStore.
func (d *Driver) UploadPart(ctx context.Context, target transfer.Target, uploadID string, partNumber int, data []byte) (transfer.PartResult, error) {
	id := blockID(uploadID, partNumber)
	_, err := d.blob(target.ObjectRef).StageBlock(
		noRetries(ctx),
		id,
		streaming.NopCloser(bytes.NewReader(data)),
		&blockblob.StageBlockOptions{CPKScopeInfo: encryptionScope(target)},
	)
	if err != nil {
		return transfer.PartResult{}, err
	}
	return transfer.PartResult{Number: partNumber, Token: id}, nil
}

// CopyPart implements transfer.BlobStore.
func (d *Driver) CopyPart(ctx context.Context, source transfer.ObjectRef, target transfer.Target, uploadID string, partNumber int, r transfer.ByteRange) (transfer.PartResult, error) {
	sourceURL, auth, err := d.blobs.CopySource(ctx, d.containerName(source), source.Key)
	if err != nil {
		return transfer.PartResult{}, err
	}

	id := blockID(uploadID, partNumber)
	_, err = d.blob(target.ObjectRef).StageBlockFromURL(
		noRetries(ctx),
		id,
		sourceURL,
		&blockblob.StageBlockFromURLOptions{
			Range:                   blob.HTTPRange{Offset: r.First, Count: r.Len()},
			CopySourceAuthorization: auth,
			CPKScopeInfo:            encryptionScope(target),
		},
	)
	if err != nil {
		return transfer.PartResult{}, err
	}
	return transfer.PartResult{Number: partNumber, Token: id}, nil
}

// CompleteMultipart implements transfer.BlobStore.
func (d *Driver) CompleteMultipart(ctx context.Context, target transfer.Target, _ string, parts []transfer.PartResult) error {
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.Token)
	}

	_, err := d.blob(target.ObjectRef).CommitBlockList(
		noRetries(ctx),
		ids,
		&blockblob.CommitBlockListOptions{
			HTTPHeaders:  httpHeaders(target),
			Metadata:     metadata(target),
			Tier:         accessTier(target),
			CPKScopeInfo: encryptionScope(target),
		},
	)
	return err
}

// AbortMultipart implements transfer.BlobStore. Uncommitted blocks are
// garbage collected by the service.
func (*Driver) AbortMultipart(ctx context.Context, target transfer.Target, uploadID string) error {
	log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{
		"upload_id": uploadID,
		"key":       target.Key,
	}).Debug("leaving uncommitted blocks to expire")
	return nil
}

// PutObject implements transfer.BlobStore.
func (d *Driver) PutObject(ctx context.Context, target transfer.Target, data []byte) error {
	_, err := d.blob(target.ObjectRef).Upload(
		noRetries(ctx),
		streaming.NopCloser(bytes.NewReader(data)),
		&blockblob.UploadOptions{
			HTTPHeaders:  httpHeaders(target),
			Metadata:     metadata(target),
			Tier:         accessTier(target),
			CPKScopeInfo: encryptionScope(target),
		},
	)
	return err
}

// GetMetadata implements transfer.BlobStore.
func (d *Driver) GetMetadata(ctx context.Context, ref transfer.ObjectRef) (int64, error) {
	resp, err := d.blob(ref).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
			return 0, fmt.Errorf("%s: %w", ref, transfer.Permanent(ErrNotFound))
		}
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return 0, fmt.Errorf("%s: %w", ref, transfer.Permanent(ErrNotFound))
		}
		return 0, err
	}
	if resp.ContentLength == nil {
		return 0, fmt.Errorf("%s: response without content length", ref)
	}
	return *resp.ContentLength, nil
}

func httpHeaders(target transfer.Target) *blob.HTTPHeaders {
	contentType := target.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	return &blob.HTTPHeaders{BlobContentType: &contentType}
}

func metadata(target transfer.Target) map[string]*string {
	if len(target.Metadata) == 0 {
		return nil
	}
	m := make(map[string]*string, len(target.Metadata))
	for k, v := range target.Metadata {
		m[k] = &v
	}
	return m
}

// accessTier maps a storage class onto a blob tier. Classes are passed
// through as is, the service rejects unknown tiers.
func accessTier(target transfer.Target) *blob.AccessTier {
	if target.StorageClass == "" {
		return nil
	}
	tier := blob.AccessTier(target.StorageClass)
	return &tier
}

// encryptionScope selects the encryption scope named by the KMS key of the
// target. Data is always encrypted at rest with Microsoft managed keys.
func encryptionScope(target transfer.Target) *blob.CPKScopeInfo {
	if !target.Encrypt || target.KMSKeyID == "" {
		return nil
	}
	scope := target.KMSKeyID
	return &blob.CPKScopeInfo{EncryptionScope: &scope}
}
