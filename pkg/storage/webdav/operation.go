package webdav

import (
	"context"
	"os"
	"path"
	"sort"

	"github.com/pkg/errors"
)

func (w *WebDAV) objectKey(key string) string {
	root := w.Config.Path
	if w.Config.CustomPath != "" {
		root = path.Join(root, w.Config.CustomPath)
	}
	return path.Join(root, key)
}

// Put 将密文批次上传到 WebDAV 服务器。
func (w *WebDAV) Put(ctx context.Context, key string, content []byte) error {
	fileKey := w.objectKey(key)

	if err := w.Client.MkdirAll(path.Dir(fileKey), 0644); err != nil {
		return errors.Wrap(err, "webdav")
	}

	if err := w.Client.Write(fileKey, content, os.ModePerm); err != nil {
		return errors.Wrap(err, "webdav")
	}
	return nil
}

// Get 从 WebDAV 服务器读取密文批次。
func (w *WebDAV) Get(ctx context.Context, key string) ([]byte, error) {
	content, err := w.Client.Read(w.objectKey(key))
	if err != nil {
		return nil, errors.Wrap(err, "webdav")
	}
	return content, nil
}

// List 列出前缀目录下的批次键，按键名升序。
func (w *WebDAV) List(ctx context.Context, prefix string) ([]string, error) {
	dir := w.objectKey(prefix)

	files, err := w.Client.ReadDir(dir)
	if err != nil {
		if gowebdavIsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "webdav")
	}

	var keys []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		keys = append(keys, path.Join(prefix, file.Name()))
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete 从 WebDAV 服务器删除批次。
func (w *WebDAV) Delete(ctx context.Context, key string) error {
	if err := w.Client.Remove(w.objectKey(key)); err != nil {
		return errors.Wrap(err, "webdav")
	}
	return nil
}

func gowebdavIsNotFound(err error) bool {
	return os.IsNotExist(err)
}
