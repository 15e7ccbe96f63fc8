// Package storage 提供中继收件箱的可插拔批次存储后端
package storage

import (
	"context"

	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/storage/aws_s3"
	"github.com/haierkeys/vault-device-sync/pkg/storage/local_fs"
	"github.com/haierkeys/vault-device-sync/pkg/storage/memory"
	"github.com/haierkeys/vault-device-sync/pkg/storage/webdav"
)

type Type = string

const S3 Type = "s3"
const LOCAL Type = "localfs"
const WebDAV Type = "webdav"
const Memory Type = "memory"

var StorageTypeMap = map[Type]bool{
	S3:     true,
	LOCAL:  true,
	WebDAV: true,
	Memory: true,
}

// Config Unified storage configuration
// Config 统一的存储配置
type Config struct {
	Type Type `yaml:"type" default:"localfs"`

	// Common settings
	CustomPath string `yaml:"custom-path"`

	// Cloud Storage (S3)
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	BucketName      string `yaml:"bucket-name"`
	AccessKeyID     string `yaml:"access-key-id"`
	AccessKeySecret string `yaml:"access-key-secret"`

	// WebDAV
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"`

	// Local FS
	SavePath string `yaml:"save-path" default:"storage/relay"`
}

// BatchStore 批次存储接口
// 中继只保存密文批次，键空间由调用方规划（按收件设备分目录）
type BatchStore interface {
	Put(ctx context.Context, key string, content []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

func NewClient(config *Config) (BatchStore, error) {
	if config == nil {
		return nil, code.ErrorInvalidStorageType
	}

	cType := config.Type
	if cType == LOCAL {
		cfg := &local_fs.Config{
			SavePath:   config.SavePath,
			CustomPath: config.CustomPath,
		}
		return local_fs.NewClient(cfg)
	} else if cType == S3 {
		cfg := &aws_s3.Config{
			Region:          config.Region,
			Endpoint:        config.Endpoint,
			BucketName:      config.BucketName,
			AccessKeyID:     config.AccessKeyID,
			AccessKeySecret: config.AccessKeySecret,
			CustomPath:      config.CustomPath,
		}
		return aws_s3.NewClient(cfg)
	} else if cType == WebDAV {
		cfg := &webdav.Config{
			Endpoint:   config.Endpoint,
			Path:       config.Path,
			User:       config.User,
			Password:   config.Password,
			CustomPath: config.CustomPath,
		}
		return webdav.NewClient(cfg)
	} else if cType == Memory {
		return memory.NewClient()
	}
	return nil, code.ErrorInvalidStorageType
}
