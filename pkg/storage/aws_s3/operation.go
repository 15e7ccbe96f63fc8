package aws_s3

import (
	"bytes"
	"context"
	"io"

	"github.com/haierkeys/vault-device-sync/pkg/fileurl"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

func (p *S3) objectKey(key string) string {
	if p.Config.CustomPath == "" {
		return key
	}
	return fileurl.PathSuffixCheckAdd(p.Config.CustomPath, "/") + key
}

// Put 上传密文批次
func (p *S3) Put(ctx context.Context, key string, content []byte) error {
	_, err := p.S3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.Config.BucketName),
		Key:    aws.String(p.objectKey(key)),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return errors.Wrap(err, "aws_s3")
	}
	return nil
}

// Get 下载密文批次
func (p *S3) Get(ctx context.Context, key string) ([]byte, error) {
	output, err := p.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.Config.BucketName),
		Key:    aws.String(p.objectKey(key)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "aws_s3")
	}
	defer output.Body.Close()

	content, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, errors.Wrap(err, "aws_s3")
	}
	return content, nil
}

// List 按前缀列出批次键，按键名升序
func (p *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	prefixKey := p.objectKey(prefix)

	paginator := s3.NewListObjectsV2Paginator(p.S3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.Config.BucketName),
		Prefix: aws.String(prefixKey),
	})

	strip := ""
	if p.Config.CustomPath != "" {
		strip = fileurl.PathSuffixCheckAdd(p.Config.CustomPath, "/")
	}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "aws_s3")
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strip != "" {
				key = key[len(strip):]
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Delete 删除批次对象
func (p *S3) Delete(ctx context.Context, key string) error {
	_, err := p.S3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.Config.BucketName),
		Key:    aws.String(p.objectKey(key)),
	})
	if err != nil {
		return errors.Wrap(err, "aws_s3")
	}
	return nil
}
