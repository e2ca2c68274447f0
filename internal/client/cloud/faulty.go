package cloud

import (
	"context"
	"sync"
)

// Op names a Provider method for fault injection.
type Op string

const (
	OpFetchMetadata Op = "fetch_metadata"
	OpListFolder    Op = "list_folder"
	OpDownload      Op = "download"
	OpUpload        Op = "upload"
	OpCreateFolder  Op = "create_folder"
	OpDelete        Op = "delete"
	OpMove          Op = "move"
)

// Faulty wraps a Provider and fails selected calls. It is used to
// exercise offline and error paths without a real remote.
type Faulty struct {
	Provider

	mu     sync.Mutex
	faults map[Op][]error
	sticky map[Op]error
	calls  map[Op]int
	// Before, when set, runs ahead of every call and may block or fail it.
	Before func(ctx context.Context, op Op, path string) error
}

func NewFaulty(p Provider) *Faulty {
	return &Faulty{
		Provider: p,
		faults:   make(map[Op][]error),
		sticky:   make(map[Op]error),
		calls:    make(map[Op]int),
	}
}

// FailNext makes the next call of op return err.
func (f *Faulty) FailNext(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = append(f.faults[op], err)
}

// FailAlways makes every call of op return err until Heal.
func (f *Faulty) FailAlways(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sticky[op] = err
}

func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[Op][]error)
	f.sticky = make(map[Op]error)
}

func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faulty) enter(ctx context.Context, op Op, path string) error {
	f.mu.Lock()
	f.calls[op]++
	before := f.Before
	var err error
	if q := f.faults[op]; len(q) > 0 {
		err, f.faults[op] = q[0], q[1:]
	} else if s, ok := f.sticky[op]; ok {
		err = s
	}
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if before != nil {
		return before(ctx, op, path)
	}
	return nil
}

func (f *Faulty) FetchMetadata(ctx context.Context, path string) (ItemMetadata, error) {
	if err := f.enter(ctx, OpFetchMetadata, path); err != nil {
		return ItemMetadata{}, err
	}
	return f.Provider.FetchMetadata(ctx, path)
}

func (f *Faulty) ListFolder(ctx context.Context, path string, pageToken *string) (ItemList, error) {
	if err := f.enter(ctx, OpListFolder, path); err != nil {
		return ItemList{}, err
	}
	return f.Provider.ListFolder(ctx, path, pageToken)
}

func (f *Faulty) Download(ctx context.Context, path string, localPath string) error {
	if err := f.enter(ctx, OpDownload, path); err != nil {
		return err
	}
	return f.Provider.Download(ctx, path, localPath)
}

func (f *Faulty) Upload(ctx context.Context, localPath string, path string, replaceExisting bool) (ItemMetadata, error) {
	if err := f.enter(ctx, OpUpload, path); err != nil {
		return ItemMetadata{}, err
	}
	return f.Provider.Upload(ctx, localPath, path, replaceExisting)
}

func (f *Faulty) CreateFolder(ctx context.Context, path string) error {
	if err := f.enter(ctx, OpCreateFolder, path); err != nil {
		return err
	}
	return f.Provider.CreateFolder(ctx, path)
}

func (f *Faulty) Delete(ctx context.Context, path string) error {
	if err := f.enter(ctx, OpDelete, path); err != nil {
		return err
	}
	return f.Provider.Delete(ctx, path)
}

func (f *Faulty) Move(ctx context.Context, from, to string) error {
	if err := f.enter(ctx, OpMove, from); err != nil {
		return err
	}
	return f.Provider.Move(ctx, from, to)
}
