// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/relabs-tech/gateway/core/logger"
)

// Filesystem stores every key as one file below a base folder
type Filesystem struct {
	baseFolder string
}

// NewFilesystem returns a new Filesystem store rooted at baseFolder. The folder is created
// if it does not exist.
func NewFilesystem(baseFolder string) (*Filesystem, error) {
	if baseFolder == "" {
		return nil, fmt.Errorf("BasePath must not be empty")
	}
	if err := os.MkdirAll(baseFolder, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create store folder '%s': %w", baseFolder, err)
	}
	logger.Default().Debugln("filesystem store enabled in", baseFolder)
	return &Filesystem{baseFolder: baseFolder}, nil
}

// keys are path-escaped so that endpoints with slashes and query strings map to one flat file
func (f *Filesystem) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	name := url.PathEscape(key)
	if strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, ".", "%2E")
	}
	return filepath.Join(f.baseFolder, name), nil
}

// Get implements Store
func (f *Filesystem) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Set implements Store. The file is written to a temporary name and renamed, so readers
// never see a partial value.
func (f *Filesystem) Set(ctx context.Context, key string, value []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err = os.WriteFile(tmp, value, 0o600); err != nil {
		os.Remove(tmp)
		if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
			return ErrQuotaExceeded
		}
		return err
	}
	return os.Rename(tmp, p)
}

// Delete implements Store
func (f *Filesystem) Delete(ctx context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Keys implements Store. The keys are sorted.
func (f *Filesystem) Keys(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.baseFolder)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			logger.Default().Warnf("skipping foreign file '%s' in store folder", e.Name())
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
