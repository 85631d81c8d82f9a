package history

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"irclog/internal/common"
	"irclog/internal/segments"
)

// Account is the set of channels logged for one network account.
type Account struct {
	Root  string
	Label string

	clock  func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	channels map[string]*Channel
	watcher  *segments.Watcher
}

func NewAccount(root, label string, clock func() time.Time, logger *zap.Logger) *Account {
	if clock == nil {
		clock = time.Now
	}
	return &Account{
		Root:     root,
		Label:    label,
		clock:    clock,
		logger:   logger.With(zap.String("account", label)),
		channels: make(map[string]*Channel),
	}
}

func (a *Account) Dir() string { return segments.AccountDir(a.Root, a.Label) }

// Channels lists the channel names found on disk, plus the opened ones that have no directory yet.
func (a *Account) Channels() ([]string, error) {
	entries, err := os.ReadDir(a.Dir())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, common.StorageErr("list channels", a.Dir(), err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if name, ok := segments.ChannelFromDir(e.Name()); ok {
			names = append(names, name)
		}
	}

	a.mu.Lock()
	for name := range a.channels {
		names = append(names, name)
	}
	a.mu.Unlock()

	slices.Sort(names)
	return slices.Compact(names), nil
}

// Channel returns the named channel, opening it on first use.
func (a *Account) Channel(name string) (*Channel, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, common.ConfigurationErr("invalid channel name %q", name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ch, ok := a.channels[name]; ok {
		return ch, nil
	}
	ch, err := OpenChannel(a.Dir(), name, a.clock, a.logger)
	if err != nil {
		return nil, err
	}
	if a.watcher != nil {
		if err := a.watcher.Add(ch.Index()); err != nil {
			return nil, err
		}
	}
	a.channels[name] = ch
	return ch, nil
}

// Watch keeps the indexes of opened channels, and of those opened later, in sync with the disk.
func (a *Account) Watch(w *segments.Watcher) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watcher = w
	for _, ch := range a.channels {
		if err := w.Add(ch.Index()); err != nil {
			return err
		}
	}
	return nil
}

// Scope is every segment of the named channels, or of all channels when none is named.
// Segments are grouped by channel, oldest first.
func (a *Account) Scope(names ...string) ([]segments.Segment, error) {
	if len(names) == 0 {
		var err error
		if names, err = a.Channels(); err != nil {
			return nil, err
		}
	}

	var scope []segments.Segment
	for _, name := range names {
		ch, err := a.Channel(name)
		if err != nil {
			return nil, err
		}
		scope = append(scope, ch.Segments()...)
	}
	return scope, nil
}

func (a *Account) opened() []*Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	channels := make([]*Channel, 0, len(a.channels))
	for _, ch := range a.channels {
		channels = append(channels, ch)
	}
	return channels
}

// Commit commits every opened channel. A failing channel does not prevent the others from committing.
func (a *Account) Commit() error {
	var errs []error
	for _, ch := range a.opened() {
		if err := ch.Commit(); err != nil {
			errs = append(errs, fmt.Errorf("commit %s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Refresh re-reads the segment lists of every opened channel.
func (a *Account) Refresh() error {
	var errs []error
	for _, ch := range a.opened() {
		if err := ch.Index().Refresh(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
