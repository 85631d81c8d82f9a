package segments

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// FileSuffix ends every segment file name.
	FileSuffix = ".irc.log"
	// fileTimeFormat is the ISO-8601 basic zoned format, it contains no path-hostile characters.
	fileTimeFormat = "20060102T150405-0700"

	channelDirSuffix = "-logs"
	accountDirSuffix = "-channels"

	// GroupMarker starts the name of every group channel, other channels are point-to-point.
	GroupMarker = '#'
)

type Kind int8

const (
	P2P Kind = iota + 1
	Group
)

func (k Kind) String() string {
	if k == Group {
		return "group"
	}
	return "p2p"
}

// KindOf derives the channel kind from the first character of its name.
func KindOf(channel string) Kind {
	if IsGroup(channel) {
		return Group
	}
	return P2P
}

func IsGroup(channel string) bool { return len(channel) > 0 && channel[0] == GroupMarker }

// FileName returns the segment file name for a start time (truncated to seconds).
func FileName(start time.Time) string {
	return start.Truncate(time.Second).Format(fileTimeFormat) + FileSuffix
}

// ParseFileName extracts the start time embedded in a segment file name.
func ParseFileName(name string) (time.Time, error) {
	base := filepath.Base(name)
	stamp, ok := strings.CutSuffix(base, FileSuffix)
	if !ok {
		return time.Time{}, fmt.Errorf("not a segment file: %s", base)
	}
	t, err := time.Parse(fileTimeFormat, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("segment file %s: %w", base, err)
	}
	return t, nil
}

// AccountDir is the directory holding all channel directories of an account.
func AccountDir(root, account string) string {
	return filepath.Join(root, account+accountDirSuffix)
}

// ChannelDir is the directory holding the segments of one channel.
func ChannelDir(accountDir, channel string) string {
	return filepath.Join(accountDir, channel+channelDirSuffix)
}

// ChannelFromDir reverses ChannelDir, it reports false for directories that are not channel directories.
func ChannelFromDir(dir string) (string, bool) {
	name, ok := strings.CutSuffix(filepath.Base(dir), channelDirSuffix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
