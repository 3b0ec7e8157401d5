package addrbook

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// BlobBackupConfig names the remote container an operator wants catalog
// snapshots mirrored to, for disaster recovery across node redeploys.
type BlobBackupConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	BlobName      string
}

func (cfg BlobBackupConfig) containerURL() (azblob.ContainerURL, error) {
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return azblob.ContainerURL{}, fmt.Errorf("addrbook: azure credential: %w", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	u, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/%s", cfg.AccountName, cfg.ContainerName))
	if err != nil {
		return azblob.ContainerURL{}, err
	}
	return azblob.NewContainerURL(*u, pipeline), nil
}

// BackupToBlob uploads the current catalog snapshot (as JSON) to Azure Blob
// Storage, for off-box disaster recovery of the address catalog.
func (b *Book) BackupToBlob(ctx context.Context, cfg BlobBackupConfig) error {
	b.mu.RLock()
	snap := b.snapshotLocked()
	b.mu.RUnlock()

	records := make([]record, 0, len(snap))
	for _, a := range snap {
		records = append(records, toRecord(a))
	}
	raw, err := marshalRecords(records)
	if err != nil {
		return err
	}

	container, err := cfg.containerURL()
	if err != nil {
		return err
	}
	blobURL := container.NewBlockBlobURL(cfg.BlobName)
	_, err = blobURL.Upload(ctx, bytes.NewReader(raw), azblob.BlobHTTPHeaders{ContentType: "application/json"},
		azblob.Metadata{}, azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, nil,
		azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	if err != nil {
		return fmt.Errorf("addrbook: blob upload: %w", err)
	}
	return nil
}

// RestoreFromBlob downloads a previously backed-up snapshot and replaces the
// in-memory catalog with its contents.
func (b *Book) RestoreFromBlob(ctx context.Context, cfg BlobBackupConfig) error {
	container, err := cfg.containerURL()
	if err != nil {
		return err
	}
	blobURL := container.NewBlockBlobURL(cfg.BlobName)
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return fmt.Errorf("addrbook: blob download: %w", err)
	}
	body := resp.Body(azblob.RetryReaderOptions{})
	defer body.Close()

	raw, err := ioutil.ReadAll(body)
	if err != nil {
		return err
	}
	records, err := unmarshalRecords(raw)
	if err != nil {
		return err
	}

	loaded := make(map[string]Address, len(records))
	subnets := make(map[string]int)
	for _, r := range records {
		addr, err := fromRecord(r)
		if err != nil {
			continue
		}
		loaded[addr.key()] = addr
		subnets[subnetKey(addr.Endpoint.IP)]++
	}

	b.mu.Lock()
	b.addresses = loaded
	b.subnets = subnets
	b.mu.Unlock()
	return nil
}
