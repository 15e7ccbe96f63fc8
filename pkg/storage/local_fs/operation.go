package local_fs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haierkeys/vault-device-sync/pkg/fileurl"

	"github.com/pkg/errors"
)

// root 返回批次文件的根目录
func (l *LocalFS) root() string {
	if l.Config.CustomPath != "" {
		return filepath.Join(l.Config.SavePath, l.Config.CustomPath)
	}
	return l.Config.SavePath
}

// Put 将密文批次写入本地文件
// 先写临时文件再改名，避免读到半截内容
func (l *LocalFS) Put(ctx context.Context, key string, content []byte) error {
	dst := filepath.Join(l.root(), filepath.FromSlash(key))

	if err := fileurl.CreatePath(dst, 0754); err != nil {
		return errors.Wrap(err, "local_fs")
	}

	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return errors.Wrap(err, "local_fs")
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "local_fs")
	}
	return nil
}

// Get 读取密文批次
func (l *LocalFS) Get(ctx context.Context, key string) ([]byte, error) {
	dst := filepath.Join(l.root(), filepath.FromSlash(key))
	content, err := os.ReadFile(dst)
	if err != nil {
		return nil, errors.Wrap(err, "local_fs")
	}
	return content, nil
}

// List 列出前缀下的所有批次键，按键名升序
func (l *LocalFS) List(ctx context.Context, prefix string) ([]string, error) {
	dir := filepath.Join(l.root(), filepath.FromSlash(prefix))
	if !fileurl.IsExist(dir) {
		return nil, nil
	}

	var keys []string
	root := l.root()
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "local_fs")
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete 删除批次文件
func (l *LocalFS) Delete(ctx context.Context, key string) error {
	dst := filepath.Join(l.root(), filepath.FromSlash(key))
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "local_fs")
	}
	return nil
}
