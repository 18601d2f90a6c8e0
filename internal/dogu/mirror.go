package dogu

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MirrorClient wraps the S3 client for the artifact mirror. Any
// S3-compatible store works; Cloudflare R2 is the one this was written
// against.
type MirrorClient struct {
	Client *s3.Client
	Bucket string
}

// mirrorConfigured reports whether all DOGU_MIRROR_* settings are present.
func mirrorConfigured() bool {
	return MirrorEndpoint != "" && MirrorBucket != "" && MirrorAccessKey != "" && MirrorSecretKey != ""
}

// newMirrorClient builds a client from the DOGU_MIRROR_* settings.
func newMirrorClient(ctx context.Context) (*MirrorClient, error) {
	if !mirrorConfigured() {
		return nil, fmt.Errorf("artifact mirror is not configured (DOGU_MIRROR_ENDPOINT, DOGU_MIRROR_BUCKET, DOGU_MIRROR_ACCESS_KEY, DOGU_MIRROR_SECRET_KEY)")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: MirrorEndpoint}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(MirrorAccessKey, MirrorSecretKey, "")),
		config.WithRegion("auto"),
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &MirrorClient{Client: client, Bucket: MirrorBucket}, nil
}

// mirrorFetch downloads key into destPath. The caller owns the temp file
// and finalizes it.
func mirrorFetch(ctx context.Context, key, destPath string) error {
	mc, err := newMirrorClient(ctx)
	if err != nil {
		return err
	}
	out, err := mc.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(mc.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer out.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(destPath)
		return err
	}
	return f.Close()
}

func mirrorContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".zip"):
		return "application/zip"
	case strings.HasSuffix(key, ".gz"), strings.HasSuffix(key, ".tgz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}

// Upload puts a local file into the bucket under key.
func (m *MirrorClient) Upload(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(mirrorContentType(key)),
	})
	return err
}

// MirrorObject is one bucket entry as reported by list.
type MirrorObject struct {
	Key  string
	Size int64
}

// List returns the bucket contents under prefix.
func (m *MirrorClient) List(ctx context.Context, prefix string) ([]MirrorObject, error) {
	var objects []MirrorObject
	paginator := s3.NewListObjectsV2Paginator(m.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.Bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, MirrorObject{
				Key:  *obj.Key,
				Size: *obj.Size,
			})
		}
	}
	return objects, nil
}

// runMirrorPush uploads cache artifacts to the mirror. Each argument is
// either a file path or a catalog tool id whose resolved artifact must
// already sit in the cache.
func runMirrorPush(ctx context.Context, cfg *Config, tools []Installer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("mirror push needs at least one file or tool id")
	}
	mc, err := newMirrorClient(ctx)
	if err != nil {
		return err
	}

	for _, arg := range args {
		var key, path string
		switch {
		case pathExists(arg):
			path = arg
			key = filepath.Base(arg)
		default:
			tool := toolByID(tools, arg)
			if tool == nil {
				return fmt.Errorf("unknown tool or file: %s", arg)
			}
			spec, err := tool.ResolveDownload(ctx, cfg)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", arg, err)
			}
			path = filepath.Join(CacheDir, spec.Filename)
			if !pathExists(path) {
				return fmt.Errorf("no cached artifact for %s (expected %s; install it first)", arg, path)
			}
			key = spec.Filename
		}

		colArrow.Print("-> ")
		fmt.Printf("Uploading %s\n", key)
		if err := mc.Upload(ctx, key, path); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}
	cPrintln(colSuccess, "Mirror push complete.")
	return nil
}

// runMirrorList prints the mirror bucket contents.
func runMirrorList(ctx context.Context) error {
	mc, err := newMirrorClient(ctx)
	if err != nil {
		return err
	}
	objects, err := mc.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list mirror bucket: %w", err)
	}
	if len(objects) == 0 {
		cPrintln(colNote, "Mirror bucket is empty.")
		return nil
	}
	for _, obj := range objects {
		fmt.Printf("%12d  %s\n", obj.Size, obj.Key)
	}
	return nil
}

// toolByID finds a catalog entry, nil when absent.
func toolByID(tools []Installer, id string) Installer {
	for _, t := range tools {
		if t.Info().ID == id {
			return t
		}
	}
	return nil
}
