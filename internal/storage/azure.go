package storage

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzureBackend implements Backend for the azure:// scheme. URIs embed a full
// SAS URL after the scheme prefix:
//
//	azure://https://account.blob.core.windows.net/container/path?<sas>
//
// Azurite (the local emulator) is also recognised, with the account name in
// the URL path instead of the hostname:
//
//	azure://http://localhost:10000/devstoreaccount1/container/path?<sas>
type AzureBackend struct{}

// azureTarget is the decomposed form of an azure:// URI.
type azureTarget struct {
	scheme    string // http or https
	host      string
	account   string
	container string
	blobPath  string
	sasToken  string
	emulator  bool
}

func parseAzureURI(uri URI) (azureTarget, error) {
	parsed, err := url.Parse(uri.Rest())
	if err != nil {
		return azureTarget{}, fmt.Errorf("malformed azure uri: %w", err)
	}
	t := azureTarget{
		scheme:   parsed.Scheme,
		host:     parsed.Host,
		sasToken: parsed.RawQuery,
	}
	parts := strings.Split(strings.TrimPrefix(parsed.Path, "/"), "/")
	if strings.HasPrefix(parsed.Hostname(), "localhost") || strings.HasPrefix(parsed.Hostname(), "127.0.0.1") {
		// Azurite keeps the account name in the path.
		t.emulator = true
		if len(parts) > 0 {
			t.account = parts[0]
		}
		if len(parts) > 1 {
			t.container = parts[1]
		}
		if len(parts) > 2 {
			t.blobPath = strings.Join(parts[2:], "/")
		}
	} else {
		t.account = strings.Split(parsed.Hostname(), ".")[0]
		if len(parts) > 0 {
			t.container = parts[0]
		}
		if len(parts) > 1 {
			t.blobPath = strings.Join(parts[1:], "/")
		}
	}
	return t, nil
}

// blobURL reassembles the SAS URL for the given blob path within the target's
// container.
func (t azureTarget) blobURL(blobPath string) string {
	var u string
	if t.emulator {
		u = fmt.Sprintf("%s://%s/%s/%s/%s", t.scheme, t.host, t.account, t.container, blobPath)
	} else {
		u = fmt.Sprintf("%s://%s/%s/%s", t.scheme, t.host, t.container, blobPath)
	}
	if t.sasToken != "" {
		u += "?" + t.sasToken
	}
	return u
}

func (t azureTarget) containerURL() string {
	var u string
	if t.emulator {
		u = fmt.Sprintf("%s://%s/%s/%s", t.scheme, t.host, t.account, t.container)
	} else {
		u = fmt.Sprintf("%s://%s/%s", t.scheme, t.host, t.container)
	}
	if t.sasToken != "" {
		u += "?" + t.sasToken
	}
	return u
}

// retryOptions mirrors the exponential policy the pipeline has always used
// against blob storage: quick first retry, doubling, five attempts. This
// covers connection resets below the abstraction's no-retry contract (it is
// the transport retrying, not the storage layer).
func azureClientRetry() policy.RetryOptions {
	return policy.RetryOptions{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 32 * time.Second,
	}
}

func azureBlobClient(uri URI) (*blob.Client, error) {
	opts := &blob.ClientOptions{ClientOptions: azcore.ClientOptions{Retry: azureClientRetry()}}
	return blob.NewClientWithNoCredential(uri.Rest(), opts)
}

func azureBlockBlobClient(uri URI) (*blockblob.Client, error) {
	opts := &blockblob.ClientOptions{ClientOptions: azcore.ClientOptions{Retry: azureClientRetry()}}
	return blockblob.NewClientWithNoCredential(uri.Rest(), opts)
}

func azureContainerClient(t azureTarget) (*container.Client, error) {
	opts := &container.ClientOptions{ClientOptions: azcore.ClientOptions{Retry: azureClientRetry()}}
	return container.NewClientWithNoCredential(t.containerURL(), opts)
}

// createDownloadTemp creates the local file a blob downloads into. An empty
// tmpDir means the OS default temp directory; a concrete one is created on
// demand.
func createDownloadTemp(tmpDir, ext string) (*os.File, error) {
	if tmpDir != "" {
		if err := os.MkdirAll(tmpDir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.CreateTemp(tmpDir, "blob-*"+ext)
}

func (AzureBackend) Download(ctx context.Context, uri URI, tmpDir string) (FileHandle, error) {
	client, err := azureBlobClient(uri)
	if err != nil {
		return FileHandle{}, backendErr("download", uri, err)
	}
	t, err := parseAzureURI(uri)
	if err != nil {
		return FileHandle{}, backendErr("download", uri, err)
	}
	f, err := createDownloadTemp(tmpDir, path.Ext(t.blobPath))
	if err != nil {
		return FileHandle{}, backendErr("download", uri, err)
	}
	defer f.Close()
	if _, err := client.DownloadFile(ctx, f, nil); err != nil {
		os.Remove(f.Name())
		return FileHandle{}, backendErr("download", uri, err)
	}
	return FileHandle{Path: f.Name(), MustDispose: true}, nil
}

func (b AzureBackend) UploadDirect(ctx context.Context, localPath string, uri URI) error {
	client, err := azureBlockBlobClient(uri)
	if err != nil {
		return backendErr("upload", uri, err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return backendErr("upload", uri, err)
	}
	defer f.Close()
	if _, err := client.UploadFile(ctx, f, nil); err != nil {
		return backendErr("upload", uri, err)
	}
	return nil
}

func (b AzureBackend) UploadIntoDirectory(ctx context.Context, localPath string, uri URI, name string) error {
	if name == "" {
		name = filepath.Base(localPath)
	}
	return b.UploadDirect(ctx, localPath, b.Navigate(uri, name))
}

func (b AzureBackend) UploadStream(ctx context.Context, r io.Reader, uri URI) error {
	client, err := azureBlockBlobClient(uri)
	if err != nil {
		return backendErr("upload", uri, err)
	}
	if _, err := client.UploadStream(ctx, r, nil); err != nil {
		return backendErr("upload", uri, err)
	}
	return nil
}

func (b AzureBackend) ListShallow(ctx context.Context, uri URI, pattern string) iter.Seq2[Entry, error] {
	return b.list(ctx, uri, pattern, false)
}

func (b AzureBackend) ListRecursive(ctx context.Context, uri URI, pattern string) iter.Seq2[Entry, error] {
	return b.list(ctx, uri, pattern, true)
}

func (b AzureBackend) list(ctx context.Context, uri URI, pattern string, recursive bool) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		re, err := compilePattern(pattern)
		if err != nil {
			yield(Entry{}, backendErr("list", uri, err))
			return
		}
		t, err := parseAzureURI(uri)
		if err != nil {
			yield(Entry{}, backendErr("list", uri, err))
			return
		}
		client, err := azureContainerClient(t)
		if err != nil {
			yield(Entry{}, backendErr("list", uri, err))
			return
		}

		prefix := t.blobPath
		if !recursive && prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		var prefixOpt *string
		if prefix != "" {
			prefixOpt = &prefix
		}

		if recursive {
			pager := client.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: prefixOpt})
			for pager.More() {
				resp, err := pager.NextPage(ctx)
				if err != nil {
					yield(Entry{}, backendErr("list", uri, err))
					return
				}
				for _, item := range resp.Segment.BlobItems {
					e, ok := b.blobEntry(t, item, re)
					if !ok {
						continue
					}
					if !yield(e, nil) {
						return
					}
				}
			}
			return
		}

		pager := client.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{Prefix: prefixOpt})
		for pager.More() {
			resp, err := pager.NextPage(ctx)
			if err != nil {
				yield(Entry{}, backendErr("list", uri, err))
				return
			}
			for _, dir := range resp.Segment.BlobPrefixes {
				name := strings.TrimSuffix(*dir.Name, "/")
				if re != nil && !re.MatchString(name) {
					continue
				}
				dirURI := MustParse("azure://" + t.blobURL(name+"/"))
				if !yield(Entry{
					Name:   path.Base(name),
					URI:    dirURI,
					Path:   name,
					IsFile: false,
				}, nil) {
					return
				}
			}
			for _, item := range resp.Segment.BlobItems {
				e, ok := b.blobEntry(t, item, re)
				if !ok {
					continue
				}
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}

func (AzureBackend) blobEntry(t azureTarget, item *container.BlobItem, re *regexp.Regexp) (Entry, bool) {
	name := *item.Name
	if re != nil && !re.MatchString(name) {
		return Entry{}, false
	}
	e := Entry{
		Name:   path.Base(name),
		URI:    MustParse("azure://" + t.blobURL(name)),
		Path:   name,
		IsFile: true,
	}
	if item.Properties != nil {
		e.Size = item.Properties.ContentLength
		e.LastModified = item.Properties.LastModified
	}
	return e, true
}

// Navigate appends rel to the blob path, keeping the SAS token in place. A
// leading "/" on rel is stripped; ".." is not interpreted.
func (AzureBackend) Navigate(uri URI, rel string) URI {
	t, err := parseAzureURI(uri)
	if err != nil {
		// Malformed URIs keep their shape; the next backend call reports it.
		return uri
	}
	rel = strings.TrimPrefix(rel, "/")
	combined := rel
	if t.blobPath != "" {
		combined = strings.TrimSuffix(t.blobPath, "/") + "/" + rel
	}
	return URI{scheme: uri.Scheme(), rest: t.blobURL(combined)}
}

func (AzureBackend) Exists(ctx context.Context, uri URI) (bool, error) {
	client, err := azureBlobClient(uri)
	if err != nil {
		return false, backendErr("exists", uri, err)
	}
	_, err = client.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ResourceNotFound) {
		return false, nil
	}
	return false, backendErr("exists", uri, err)
}

func (AzureBackend) GetBytes(ctx context.Context, uri URI) ([]byte, error) {
	client, err := azureBlobClient(uri)
	if err != nil {
		return nil, backendErr("read", uri, err)
	}
	resp, err := client.DownloadStream(ctx, nil)
	if err != nil {
		return nil, backendErr("read", uri, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backendErr("read", uri, err)
	}
	return data, nil
}

func (AzureBackend) GetByteRange(ctx context.Context, uri URI, offset, length int64) ([]byte, error) {
	client, err := azureBlobClient(uri)
	if err != nil {
		return nil, backendErr("read", uri, err)
	}
	resp, err := client.DownloadStream(ctx, &blob.DownloadStreamOptions{
		Range: blob.HTTPRange{Offset: offset, Count: length},
	})
	if err != nil {
		return nil, backendErr("read", uri, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backendErr("read", uri, err)
	}
	return data, nil
}

func (b AzureBackend) UploadFolder(ctx context.Context, localDir string, uri URI, opts FolderUploadOptions) error {
	err := uploadTree(ctx, localDir, opts, func(ctx context.Context, localPath, relPath string) error {
		return b.UploadDirect(ctx, localPath, b.Navigate(uri, relPath))
	})
	if err != nil {
		return backendErr("upload-folder", uri, err)
	}
	return nil
}

func (AzureBackend) FileSize(ctx context.Context, uri URI) (int64, error) {
	client, err := azureBlobClient(uri)
	if err != nil {
		return 0, backendErr("size", uri, err)
	}
	resp, err := client.GetProperties(ctx, nil)
	if err != nil {
		return 0, backendErr("size", uri, err)
	}
	if resp.ContentLength == nil {
		return 0, backendErr("size", uri, fmt.Errorf("no content length on blob"))
	}
	return *resp.ContentLength, nil
}

var _ Backend = AzureBackend{}
