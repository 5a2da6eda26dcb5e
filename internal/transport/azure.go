package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureConfig configures the azblob:// backend. ServiceURL defaults to the
// public endpoint of AccountName and may carry a SAS token when no
// AccountKey is set.
type AzureConfig struct {
	AccountName string
	AccountKey  string
	ServiceURL  string
	ChunkSize   int
}

// Azure downloads azblob://container/blob artifacts.
type Azure struct {
	cfg AzureConfig
}

// NewAzure returns an Azure Blob Storage backend.
func NewAzure(cfg AzureConfig) *Azure {
	return &Azure{cfg: cfg}
}

func (a *Azure) client() (*azblob.Client, error) {
	serviceURL := a.cfg.ServiceURL
	if serviceURL == "" {
		if a.cfg.AccountName == "" {
			return nil, fmt.Errorf("azure account name or service url is required")
		}
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", a.cfg.AccountName)
	}

	if a.cfg.AccountKey == "" {
		return azblob.NewClientWithNoCredential(serviceURL, nil)
	}
	cred, err := azblob.NewSharedKeyCredential(a.cfg.AccountName, a.cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure shared key: %w", err)
	}
	return azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
}

// Download implements Transport.
func (a *Azure) Download(ctx context.Context, uri string, onChunk ChunkFunc, resumeOffset int64) (Response, error) {
	container, blobName, err := splitObjectURI(uri)
	if err != nil {
		return Response{}, err
	}

	client, err := a.client()
	if err != nil {
		return Response{}, err
	}

	resp, err := client.DownloadStream(ctx, container, blobName, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: resumeOffset},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return Response{StatusCode: http.StatusNotFound}, nil
		}
		return Response{}, fmt.Errorf("azure download %s/%s: %w", container, blobName, err)
	}
	defer resp.Body.Close()

	n, err := stream(ctx, resp.Body, a.cfg.ChunkSize, onChunk)
	return Response{StatusCode: successStatus(resumeOffset), Bytes: n}, err
}
