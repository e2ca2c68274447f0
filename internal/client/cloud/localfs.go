package cloud

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/filex"
)

// LocalFS is a provider backed by a directory, such as a mounted network
// share or a folder kept in sync by another tool.
type LocalFS struct {
	root     string
	pageSize int
}

func NewLocalFS(root string, pageSize int) (*LocalFS, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create provider root: %w", err)
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &LocalFS{root: root, pageSize: pageSize}, nil
}

func (l *LocalFS) abs(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(path.Clean("/"+p)))
}

func statErr(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s: %w", p, ErrUnauthorized)
	}
	return fmt.Errorf("%s: %w", p, err)
}

func toMetadata(p string, info fs.FileInfo) ItemMetadata {
	m := ItemMetadata{
		Name:         path.Base(p),
		Path:         path.Clean("/" + p),
		LastModified: ptr(info.ModTime().UTC()),
	}
	if info.IsDir() {
		m.Type = models.ItemTypeFolder
	} else {
		m.Type = models.ItemTypeFile
		m.Size = ptr(info.Size())
	}
	return m
}

func (l *LocalFS) FetchMetadata(ctx context.Context, p string) (ItemMetadata, error) {
	info, err := os.Stat(l.abs(p))
	if err != nil {
		return ItemMetadata{}, statErr(p, err)
	}
	return toMetadata(p, info), nil
}

// ListFolder pages through entries in name order; the page token is the
// name of the last entry returned.
func (l *LocalFS) ListFolder(ctx context.Context, p string, pageToken *string) (ItemList, error) {
	info, err := os.Stat(l.abs(p))
	if err != nil {
		return ItemList{}, statErr(p, err)
	}
	if !info.IsDir() {
		return ItemList{}, fmt.Errorf("list %s: %w", p, ErrTypeMismatch)
	}
	entries, err := os.ReadDir(l.abs(p))
	if err != nil {
		return ItemList{}, statErr(p, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var list ItemList
	for _, e := range entries {
		if pageToken != nil && e.Name() <= *pageToken {
			continue
		}
		if strings.HasPrefix(e.Name(), filex.TempPrefix) {
			continue
		}
		if len(list.Items) == l.pageSize {
			list.NextPageToken = ptr(list.Items[len(list.Items)-1].Name)
			break
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		list.Items = append(list.Items, toMetadata(path.Join(p, e.Name()), fi))
	}
	return list, nil
}

func (l *LocalFS) Download(ctx context.Context, p string, localPath string) error {
	src, err := os.Open(l.abs(p))
	if err != nil {
		return statErr(p, err)
	}
	defer src.Close()

	if fi, err := src.Stat(); err == nil && fi.IsDir() {
		return fmt.Errorf("download %s: %w", p, ErrTypeMismatch)
	}
	if err := filex.WriteAtomically(ctx, src, localPath); err != nil {
		return fmt.Errorf("download %s: %w", p, err)
	}
	return nil
}

func (l *LocalFS) checkParent(p string) error {
	info, err := os.Stat(l.abs(path.Dir(path.Clean("/" + p))))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", p, ErrParentNotFound)
	}
	if err != nil {
		return statErr(p, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", p, ErrParentNotFound)
	}
	return nil
}

func (l *LocalFS) Upload(ctx context.Context, localPath string, p string, replaceExisting bool) (ItemMetadata, error) {
	if err := l.checkParent(p); err != nil {
		return ItemMetadata{}, err
	}
	if info, err := os.Stat(l.abs(p)); err == nil {
		if info.IsDir() {
			return ItemMetadata{}, fmt.Errorf("upload %s: %w", p, ErrTypeMismatch)
		}
		if !replaceExisting {
			return ItemMetadata{}, fmt.Errorf("upload %s: %w", p, ErrAlreadyExists)
		}
	}

	src, err := os.Open(localPath)
	if err != nil {
		return ItemMetadata{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	if err := filex.WriteAtomically(ctx, src, l.abs(p)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ItemMetadata{}, fmt.Errorf("upload %s: %w", p, ErrParentNotFound)
		}
		return ItemMetadata{}, fmt.Errorf("upload %s: %w", p, err)
	}
	return l.FetchMetadata(ctx, p)
}

func (l *LocalFS) CreateFolder(ctx context.Context, p string) error {
	if err := l.checkParent(p); err != nil {
		return err
	}
	if err := os.Mkdir(l.abs(p), 0o700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create folder %s: %w", p, ErrAlreadyExists)
		}
		return statErr(p, err)
	}
	return nil
}

func (l *LocalFS) Delete(ctx context.Context, p string) error {
	if path.Clean("/"+p) == "/" {
		return fmt.Errorf("delete root: %w", ErrTypeMismatch)
	}
	if _, err := os.Lstat(l.abs(p)); err != nil {
		return statErr(p, err)
	}
	if err := os.RemoveAll(l.abs(p)); err != nil {
		return statErr(p, err)
	}
	return nil
}

func (l *LocalFS) Move(ctx context.Context, from, to string) error {
	if _, err := os.Lstat(l.abs(from)); err != nil {
		return statErr(from, err)
	}
	if err := l.checkParent(to); err != nil {
		return err
	}
	// a case-only rename targets the same file on case-insensitive disks
	if !strings.EqualFold(path.Clean(from), path.Clean(to)) {
		if _, err := os.Lstat(l.abs(to)); err == nil {
			return fmt.Errorf("move to %s: %w", to, ErrAlreadyExists)
		}
	}
	if err := os.Rename(l.abs(from), l.abs(to)); err != nil {
		return statErr(from, err)
	}
	return nil
}
