package graph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// COSSource is a ChunkSource reading chunk files from a Tencent Cloud
// Object Storage bucket prefix, so a shard can boot directly from a
// snapshot export without a sidecar download step (SPEC_FULL §4.15). The
// on-the-wire contract is identical to DirSource: the same
// `<name>_<partition>.dat` objects, just behind an object-store listing.
type COSSource struct {
	client *cos.Client
	prefix string
}

// NewCOSSource opens a COSSource against bucketURL (the bucket endpoint,
// e.g. "https://graph-125000000.cos.ap-shanghai.myqcloud.com") using the
// given credentials; prefix scopes the listing to one snapshot directory.
func NewCOSSource(bucketURL, secretID, secretKey, prefix string) (*COSSource, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("graph builder: bad bucket url %q: %w", bucketURL, err)
	}
	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  secretID,
			SecretKey: secretKey,
		},
	})
	return &COSSource{client: client, prefix: strings.TrimSuffix(prefix, "/")}, nil
}

// List pages through the bucket prefix and returns every .dat object's
// base name, matching DirSource.List's contract.
func (c *COSSource) List(ctx context.Context) ([]string, error) {
	var names []string
	opt := &cos.BucketGetOptions{Prefix: c.prefix, MaxKeys: 1000}
	for {
		result, _, err := c.client.Bucket.Get(ctx, opt)
		if err != nil {
			return nil, fmt.Errorf("graph builder: list cos prefix %s: %w", c.prefix, err)
		}
		for _, obj := range result.Contents {
			if strings.HasSuffix(obj.Key, ".dat") {
				names = append(names, path.Base(obj.Key))
			}
		}
		if !result.IsTruncated {
			break
		}
		opt.Marker = result.NextMarker
	}
	return names, nil
}

// Open streams the named chunk object; the caller closes the body.
func (c *COSSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := name
	if c.prefix != "" {
		key = c.prefix + "/" + name
	}
	resp, err := c.client.Object.Get(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("graph builder: open cos object %s: %w", key, err)
	}
	return resp.Body, nil
}
